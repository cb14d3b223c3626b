package graphie

import (
	"fmt"
	"os"
	"strconv"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Neo4jConfig connects the graph store.
type Neo4jConfig struct {
	URI      string `default:"bolt://localhost:7687" validate:"required"`
	Username string `default:"neo4j"`
	Password string
	Database string
}

// Config is the engine configuration: defaults come from struct tags,
// environment variables override, and the result is validated before the
// engine starts. Invalid configuration fails fast.
type Config struct {
	Addr           string `default:":8080" validate:"required"`
	RootStep       string `default:"root" validate:"required"`
	MaxDrivePasses int    `default:"5" validate:"gte=1,lte=50"`
	// MemoryStore selects the in-memory store instead of Neo4j. Explicit
	// opt-in for local development; state does not survive restarts.
	MemoryStore  bool
	WorkflowFile string
	Neo4j        Neo4jConfig
	OpenAI       OpenAIConfig
}

// LoadConfig builds the configuration from defaults and GRAPHIE_*/NEO4J_*/
// OPENAI_* environment variables.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := defaults.Set(&cfg); err != nil {
		return Config{}, fmt.Errorf("applying config defaults: %w", err)
	}

	envString(&cfg.Addr, "GRAPHIE_ADDR")
	envString(&cfg.RootStep, "GRAPHIE_ROOT_STEP")
	envInt(&cfg.MaxDrivePasses, "GRAPHIE_MAX_DRIVE_PASSES")
	envBool(&cfg.MemoryStore, "GRAPHIE_MEMORY_STORE")
	envString(&cfg.WorkflowFile, "GRAPHIE_WORKFLOW")

	envString(&cfg.Neo4j.URI, "NEO4J_URI")
	envString(&cfg.Neo4j.Username, "NEO4J_USERNAME")
	envString(&cfg.Neo4j.Password, "NEO4J_PASSWORD")
	envString(&cfg.Neo4j.Database, "NEO4J_DATABASE")

	envString(&cfg.OpenAI.BaseURL, "OPENAI_BASE_URL")
	envString(&cfg.OpenAI.APIKey, "OPENAI_API_KEY")
	envString(&cfg.OpenAI.Model, "OPENAI_MODEL")
	envInt(&cfg.OpenAI.TimeoutSeconds, "OPENAI_TIMEOUT_SECONDS")

	if err := validate.Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func envString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok {
		*dst = v
	}
}

func envInt(dst *int, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envBool(dst *bool, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}
