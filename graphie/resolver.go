package graphie

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/Jeffail/gabs/v2"
)

// SessionIDPlaceholder is the literal token in authored references that is
// substituted with the caller's session id at resolution time, allowing
// workflows to be designed session-agnostic.
const SessionIDPlaceholder = "SESSION_ID"

var (
	// Full reference: @{session}.step.key, where key may be a dotted path.
	fullRefPattern = regexp.MustCompile(`^@\{([^}]+)\}\.([^.\s]+)\.(\S+)$`)
	// Bare session reference: @{session} resolves to the session id itself.
	bareRefPattern = regexp.MustCompile(`^@\{([^}]+)\}$`)
	// References embedded inside a larger string.
	embeddedRefPattern = regexp.MustCompile(`@\{[^}]+\}(?:\.[^}\s]+\.[^}\s]+)?`)
)

// Resolver parses and evaluates @{session}.step.key|default references
// against session memory. Resolution failure is always silent-degrade: the
// default (if any) or the unresolved literal comes back, never an error.
type Resolver struct {
	sessions SessionSource
	l        *slog.Logger
}

func NewResolver(sessions SessionSource, l *slog.Logger) *Resolver {
	return &Resolver{sessions: sessions, l: l}
}

// Resolve evaluates a single reference. Non-string values and strings that do
// not start with the reference sigil pass through unchanged. The resolved
// value keeps its original type.
func (r *Resolver) Resolve(ctx context.Context, sessionID string, ref any) any {
	s, ok := ref.(string)
	if !ok || !strings.HasPrefix(s, "@{") {
		return ref
	}

	var def any
	hasDefault := false
	if i := strings.Index(s, "|"); i >= 0 {
		def = strings.TrimSpace(s[i+1:])
		hasDefault = true
		s = strings.TrimSpace(s[:i])
	}

	s = strings.ReplaceAll(s, SessionIDPlaceholder, sessionID)

	if m := bareRefPattern.FindStringSubmatch(s); m != nil {
		return m[1]
	}

	m := fullRefPattern.FindStringSubmatch(s)
	if m == nil {
		r.l.Warn("invalid variable reference", "ref", s)
		if hasDefault {
			return def
		}
		return s
	}

	value, ok := r.lookup(ctx, m[1], m[2], m[3])
	if !ok {
		if hasDefault {
			return def
		}
		return s
	}
	return value
}

// lookup fetches the key (or dotted key path) from the latest output recorded
// for the step in the named session. A key containing literal dots is tried
// verbatim before being treated as a nested path.
func (r *Resolver) lookup(ctx context.Context, sessionID, stepID, key string) (any, bool) {
	sess, err := r.sessions.GetSession(ctx, sessionID)
	if err != nil {
		r.l.Warn("session not found while resolving reference", "session", sessionID, "error", err)
		return nil, false
	}

	latest, ok := sess.LatestOutput(stepID)
	if !ok {
		r.l.Debug("no recorded output for step", "session", sessionID, "step", stepID)
		return nil, false
	}

	if v, ok := latest[key]; ok {
		return v, true
	}

	if strings.Contains(key, ".") {
		container := gabs.Wrap(map[string]any(latest))
		if container.ExistsP(key) {
			return container.Path(key).Data(), true
		}
	}

	r.l.Debug("key not found in step output", "session", sessionID, "step", stepID, "key", key)
	return nil, false
}

// Process walks a data structure and resolves every reference in it. Maps and
// slices recurse; a string that is exactly one reference resolves to the
// value's native type, which is how structured objects pass between steps; a
// string merely containing references has each match resolved and stringified
// in place.
func (r *Resolver) Process(ctx context.Context, sessionID string, data any) any {
	switch v := data.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, val := range v {
			out[k] = r.Process(ctx, sessionID, val)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, val := range v {
			out[i] = r.Process(ctx, sessionID, val)
		}
		return out
	case string:
		return r.processString(ctx, sessionID, v)
	default:
		return data
	}
}

func (r *Resolver) processString(ctx context.Context, sessionID, s string) any {
	if !strings.Contains(s, "@{") {
		return s
	}

	if strings.HasPrefix(s, "@{") && isWholeReference(s) {
		return r.Resolve(ctx, sessionID, s)
	}

	if strings.Contains(s, SessionIDPlaceholder) && !strings.HasPrefix(s, "@{") {
		s = strings.ReplaceAll(s, SessionIDPlaceholder, sessionID)
	}

	return embeddedRefPattern.ReplaceAllStringFunc(s, func(match string) string {
		resolved := r.Resolve(ctx, sessionID, match)
		switch resolved.(type) {
		case string, bool, int, int64, float32, float64:
			return fmt.Sprint(resolved)
		default:
			r.l.Warn("cannot embed non-primitive value in string", "ref", match)
			return match
		}
	})
}

// isWholeReference reports whether the string, default suffix aside, is a
// single reference spanning start to end.
func isWholeReference(s string) bool {
	if i := strings.Index(s, "|"); i >= 0 {
		s = strings.TrimSpace(s[:i])
	}
	return fullRefPattern.MatchString(s) || bareRefPattern.MatchString(s)
}
