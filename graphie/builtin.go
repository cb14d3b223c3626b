package graphie

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/mitchellh/mapstructure"
)

// RegisterBuiltins wires the standard step functions under the utils
// namespace. The generator is optional; without one, workflows referencing
// utils.generate.generate fail load-time validation instead of call time.
func RegisterBuiltins(r *Registry, gen *Generator) {
	r.Register("utils.request.request", requestFunc)
	r.Register("utils.reply.reply", replyFunc)
	r.Register("utils.condition.equals", conditionEquals)
	r.Register("utils.condition.not_equals", conditionNotEquals)
	if gen != nil {
		r.Register("utils.generate.generate", gen.Generate)
	}
}

// requestInput accepts either field name; existing step data uses both.
type requestInput struct {
	Statement string `mapstructure:"statement"`
	Query     string `mapstructure:"query"`
}

// requestFunc pauses the workflow for human input. The statement is recorded
// in memory (the frontend projection reads it) and appended to chat history.
func requestFunc(ctx context.Context, act *Activation, input map[string]any) (map[string]any, error) {
	var in requestInput
	if err := mapstructure.Decode(input, &in); err != nil {
		return nil, fmt.Errorf("decoding request input: %w", err)
	}

	statement := in.Statement
	if statement == "" {
		statement = in.Query
	}
	if statement == "" {
		statement = "What would you like to know?"
	}

	act.AddMessage("assistant", statement)
	act.RequestInput()
	return map[string]any{"statement": statement}, nil
}

// replyFunc forwards a response to the user in the chat window.
func replyFunc(ctx context.Context, act *Activation, input map[string]any) (map[string]any, error) {
	text, ok := input["response"]
	if !ok {
		text = input["reply"]
	}
	if text == nil {
		return nil, fmt.Errorf("reply requires a response or reply field")
	}

	replyText := fmt.Sprint(text)
	act.AddMessage("assistant", replyText)
	return map[string]any{"reply": replyText}, nil
}

// conditionEquals is a legacy condition callable: compares input.value
// against input.equals with lenient true/false string coercion.
func conditionEquals(ctx context.Context, act *Activation, input map[string]any) (map[string]any, error) {
	return map[string]any{"result": legacyEquals(input["value"], input["equals"])}, nil
}

func conditionNotEquals(ctx context.Context, act *Activation, input map[string]any) (map[string]any, error) {
	return map[string]any{"result": !legacyEquals(input["value"], input["equals"])}, nil
}

func legacyEquals(value, expected any) bool {
	return fmt.Sprint(coerceBoolString(value)) == fmt.Sprint(coerceBoolString(expected))
}

func coerceBoolString(v any) any {
	if s, ok := v.(string); ok {
		switch strings.ToLower(s) {
		case "true":
			return true
		case "false":
			return false
		}
	}
	return v
}

// OpenAIConfig configures the generation endpoint. Any OpenAI-compatible
// chat-completions server works.
type OpenAIConfig struct {
	BaseURL        string `default:"https://api.openai.com/v1" validate:"required,url"`
	APIKey         string
	Model          string `default:"gpt-4-turbo" validate:"required"`
	TimeoutSeconds int    `default:"30" validate:"gte=1,lte=600"`
}

// Generator implements the utils.generate.generate step function: an LLM
// call whose output lands in session memory like any other step output.
type Generator struct {
	client *resty.Client
	cfg    OpenAIConfig
	l      *slog.Logger
}

func NewGenerator(cfg OpenAIConfig, l *slog.Logger) *Generator {
	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(time.Duration(cfg.TimeoutSeconds) * time.Second).
		SetAuthToken(cfg.APIKey).
		SetHeader("Content-Type", "application/json")
	return &Generator{client: client, cfg: cfg, l: l}
}

type generateInput struct {
	System         string         `mapstructure:"system"`
	User           string         `mapstructure:"user"`
	Model          string         `mapstructure:"model"`
	Temperature    float64        `mapstructure:"temperature"`
	IncludeHistory *bool          `mapstructure:"include_history"`
	ResponseKey    string         `mapstructure:"response_key"`
	Schema         map[string]any `mapstructure:"schema"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Generate calls the chat completions endpoint. With a schema in the input,
// the model is asked for a JSON object and the parsed object becomes the step
// output; otherwise the text lands under response_key (default "response").
func (g *Generator) Generate(ctx context.Context, act *Activation, input map[string]any) (map[string]any, error) {
	var in generateInput
	if err := mapstructure.WeakDecode(input, &in); err != nil {
		return nil, fmt.Errorf("decoding generate input: %w", err)
	}

	model := in.Model
	if model == "" {
		model = g.cfg.Model
	}
	temperature := in.Temperature
	if temperature == 0 {
		temperature = 0.7
	}

	var messages []map[string]string
	if in.System != "" {
		messages = append(messages, map[string]string{"role": "system", "content": in.System})
	}
	if in.IncludeHistory == nil || *in.IncludeHistory {
		for _, m := range act.Session().ChatHistory {
			messages = append(messages, map[string]string{"role": m.Role, "content": m.Content})
		}
	}
	if in.User != "" {
		messages = append(messages, map[string]string{"role": "user", "content": in.User})
	}

	body := map[string]any{
		"model":       model,
		"temperature": temperature,
		"messages":    messages,
	}
	if in.Schema != nil {
		body["response_format"] = map[string]any{"type": "json_object"}
	}

	var result chatCompletionResponse
	resp, err := g.client.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&result).
		SetError(&result).
		Post("/chat/completions")
	if err != nil {
		return nil, fmt.Errorf("generation request failed: %w", err)
	}
	if resp.IsError() {
		msg := resp.Status()
		if result.Error != nil {
			msg = result.Error.Message
		}
		return nil, fmt.Errorf("generation request failed: %s", msg)
	}
	if len(result.Choices) == 0 {
		return nil, fmt.Errorf("generation returned no choices")
	}

	content := result.Choices[0].Message.Content
	g.l.Info("generation complete", "session", act.SessionID(), "model", model, "chars", len(content))

	if in.Schema != nil {
		var structured map[string]any
		if err := json.Unmarshal([]byte(content), &structured); err != nil {
			return nil, fmt.Errorf("structured generation output is not valid JSON: %w", err)
		}
		return structured, nil
	}

	key := in.ResponseKey
	if key == "" {
		key = "response"
	}
	return map[string]any{key: content}, nil
}
