package graphie

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// Neo4jStore implements GraphStore against a Neo4j database, matching the
// property model the workflow authoring tools write: STEP and SESSION nodes
// and NEXT relationships. Composite session properties (memory, chat history,
// errors) and edge conditions cross the boundary as JSON strings; that is
// wire format only, the in-memory representation stays structured.
type Neo4jStore struct {
	driver   neo4j.DriverWithContext
	database string
}

// NewNeo4jStore connects and verifies connectivity up front so a missing or
// unreachable backend fails at construction with a clear diagnostic.
func NewNeo4jStore(ctx context.Context, cfg Neo4jConfig) (*Neo4jStore, error) {
	driver, err := neo4j.NewDriverWithContext(cfg.URI, neo4j.BasicAuth(cfg.Username, cfg.Password, ""))
	if err != nil {
		return nil, fmt.Errorf("creating neo4j driver for %s: %w", cfg.URI, err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		return nil, fmt.Errorf("neo4j unreachable at %s: %w", cfg.URI, err)
	}
	return &Neo4jStore{driver: driver, database: cfg.Database}, nil
}

func (s *Neo4jStore) run(ctx context.Context, query string, params map[string]any) (*neo4j.EagerResult, error) {
	var opts []neo4j.ExecuteQueryConfigurationOption
	if s.database != "" {
		opts = append(opts, neo4j.ExecuteQueryWithDatabase(s.database))
	}
	return neo4j.ExecuteQuery(ctx, s.driver, query, params, neo4j.EagerResultTransformer, opts...)
}

func (s *Neo4jStore) GetStep(ctx context.Context, id string) (Step, error) {
	result, err := s.run(ctx, `
		MATCH (s:STEP {id: $id})
		RETURN s.id AS id, s.function AS function, s.input AS input, s.description AS description
	`, map[string]any{"id": id})
	if err != nil {
		return Step{}, fmt.Errorf("fetching step %q: %w", id, err)
	}
	if len(result.Records) == 0 {
		return Step{}, fmt.Errorf("step %q: %w", id, ErrNotFound)
	}

	record := result.Records[0]
	return Step{
		ID:          recordString(record.AsMap(), "id"),
		Function:    recordString(record.AsMap(), "function"),
		Input:       recordString(record.AsMap(), "input"),
		Description: recordString(record.AsMap(), "description"),
	}, nil
}

func (s *Neo4jStore) OutgoingEdges(ctx context.Context, stepID string) ([]Edge, error) {
	result, err := s.run(ctx, `
		MATCH (s:STEP {id: $id})-[r:NEXT]->(t:STEP)
		RETURN t.id AS to, r.conditions AS conditions, r.operator AS operator,
		       r.function AS function, r.input AS input
	`, map[string]any{"id": stepID})
	if err != nil {
		return nil, fmt.Errorf("fetching edges from %q: %w", stepID, err)
	}

	edges := make([]Edge, 0, len(result.Records))
	for _, record := range result.Records {
		fields := record.AsMap()
		edge := Edge{
			From:     stepID,
			To:       recordString(fields, "to"),
			Operator: recordString(fields, "operator"),
			Function: recordString(fields, "function"),
			Input:    recordString(fields, "input"),
		}
		if raw := recordString(fields, "conditions"); raw != "" {
			edge.Conditions = decodeConditions(raw)
		}
		edges = append(edges, edge)
	}
	return edges, nil
}

func (s *Neo4jStore) UpsertStep(ctx context.Context, step Step) error {
	_, err := s.run(ctx, `
		MERGE (s:STEP {id: $id})
		SET s.function = $function, s.input = $input, s.description = $description
	`, map[string]any{
		"id":          step.ID,
		"function":    step.Function,
		"input":       step.Input,
		"description": step.Description,
	})
	if err != nil {
		return fmt.Errorf("upserting step %q: %w", step.ID, err)
	}
	return nil
}

func (s *Neo4jStore) UpsertEdge(ctx context.Context, edge Edge) error {
	conditions := ""
	if len(edge.Conditions) > 0 {
		raw, err := json.Marshal(edge.Conditions)
		if err != nil {
			return fmt.Errorf("encoding conditions for edge %s->%s: %w", edge.From, edge.To, err)
		}
		conditions = string(raw)
	}

	_, err := s.run(ctx, `
		MATCH (a:STEP {id: $from}), (b:STEP {id: $to})
		MERGE (a)-[r:NEXT]->(b)
		SET r.conditions = $conditions, r.operator = $operator,
		    r.function = $function, r.input = $input
	`, map[string]any{
		"from":       edge.From,
		"to":         edge.To,
		"conditions": conditions,
		"operator":   edge.Operator,
		"function":   edge.Function,
		"input":      edge.Input,
	})
	if err != nil {
		return fmt.Errorf("upserting edge %s->%s: %w", edge.From, edge.To, err)
	}
	return nil
}

func (s *Neo4jStore) CreateSession(ctx context.Context, sess *Session) error {
	params, err := sessionParams(sess)
	if err != nil {
		return err
	}
	_, err = s.run(ctx, `
		CREATE (s:SESSION {
			id: $id, status: $status, next_steps: $next_steps,
			memory: $memory, chat_history: $chat_history, errors: $errors,
			created_at: $created_at, updated_at: $updated_at
		})
	`, params)
	if err != nil {
		return fmt.Errorf("creating session %q: %w", sess.ID, err)
	}
	return nil
}

func (s *Neo4jStore) GetSession(ctx context.Context, id string) (*Session, error) {
	result, err := s.run(ctx, `
		MATCH (s:SESSION {id: $id})
		RETURN s.id AS id, s.status AS status, s.next_steps AS next_steps,
		       s.memory AS memory, s.chat_history AS chat_history, s.errors AS errors,
		       s.created_at AS created_at, s.updated_at AS updated_at
	`, map[string]any{"id": id})
	if err != nil {
		return nil, fmt.Errorf("fetching session %q: %w", id, err)
	}
	if len(result.Records) == 0 {
		return nil, fmt.Errorf("session %q: %w", id, ErrNotFound)
	}
	return sessionFromRecord(result.Records[0].AsMap())
}

func (s *Neo4jStore) SaveSession(ctx context.Context, sess *Session) error {
	sess.UpdatedAt = time.Now().UTC()
	params, err := sessionParams(sess)
	if err != nil {
		return err
	}
	_, err = s.run(ctx, `
		MATCH (s:SESSION {id: $id})
		SET s.status = $status, s.next_steps = $next_steps,
		    s.memory = $memory, s.chat_history = $chat_history, s.errors = $errors,
		    s.updated_at = $updated_at
	`, params)
	if err != nil {
		return fmt.Errorf("saving session %q: %w", sess.ID, err)
	}
	return nil
}

func (s *Neo4jStore) Close(ctx context.Context) error {
	return s.driver.Close(ctx)
}

func sessionParams(sess *Session) (map[string]any, error) {
	memory, err := json.Marshal(sess.Memory)
	if err != nil {
		return nil, fmt.Errorf("encoding memory for session %q: %w", sess.ID, err)
	}
	chatHistory, err := json.Marshal(sess.ChatHistory)
	if err != nil {
		return nil, fmt.Errorf("encoding chat history for session %q: %w", sess.ID, err)
	}
	errorsRaw, err := json.Marshal(sess.Errors)
	if err != nil {
		return nil, fmt.Errorf("encoding errors for session %q: %w", sess.ID, err)
	}

	return map[string]any{
		"id":           sess.ID,
		"status":       string(sess.Status),
		"next_steps":   sess.NextSteps,
		"memory":       string(memory),
		"chat_history": string(chatHistory),
		"errors":       string(errorsRaw),
		"created_at":   sess.CreatedAt.Format(time.RFC3339Nano),
		"updated_at":   sess.UpdatedAt.Format(time.RFC3339Nano),
	}, nil
}

func sessionFromRecord(fields map[string]any) (*Session, error) {
	sess := NewSession(recordString(fields, "id"))
	sess.Status = Status(recordString(fields, "status"))

	if steps, ok := fields["next_steps"].([]any); ok {
		sess.NextSteps = make([]string, 0, len(steps))
		for _, step := range steps {
			sess.NextSteps = append(sess.NextSteps, fmt.Sprint(step))
		}
	}

	if raw := recordString(fields, "memory"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &sess.Memory); err != nil {
			return nil, fmt.Errorf("decoding memory for session %q: %w", sess.ID, err)
		}
	}
	if raw := recordString(fields, "chat_history"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &sess.ChatHistory); err != nil {
			return nil, fmt.Errorf("decoding chat history for session %q: %w", sess.ID, err)
		}
	}
	if raw := recordString(fields, "errors"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &sess.Errors); err != nil {
			return nil, fmt.Errorf("decoding errors for session %q: %w", sess.ID, err)
		}
	}

	if t, err := time.Parse(time.RFC3339Nano, recordString(fields, "created_at")); err == nil {
		sess.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339Nano, recordString(fields, "updated_at")); err == nil {
		sess.UpdatedAt = t
	}
	return sess, nil
}

// decodeConditions reads the conditions property. The current form is a JSON
// array of clauses; graphs authored by older tooling carry a JSON object of
// expected-value -> variable-reference pairs, which maps onto equality
// clauses.
func decodeConditions(raw string) []Condition {
	var conditions []Condition
	if err := json.Unmarshal([]byte(raw), &conditions); err == nil {
		return conditions
	}

	var legacy map[string]string
	if err := json.Unmarshal([]byte(raw), &legacy); err == nil {
		for expected, variable := range legacy {
			conditions = append(conditions, Condition{Variable: variable, Value: expected})
		}
		return conditions
	}
	return nil
}

func recordString(fields map[string]any, key string) string {
	if v, ok := fields[key].(string); ok {
		return v
	}
	return ""
}
