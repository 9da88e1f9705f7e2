// Package draft produces human-readable text for action previews and
// notifications: short explanations, message drafts, and longer documents.
//
// Drafting is best-effort by contract. Every method returns "" on failure
// so callers fall back to templates instead of failing an agent run over
// prose.
package draft

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// Drafter generates text from structured context data plus an instruction.
type Drafter interface {
	// Explain summarizes a number or situation in two or three sentences.
	Explain(ctx context.Context, data map[string]any, instruction string) string

	// Draft writes a short message: an email, a CRM note, an alert.
	Draft(ctx context.Context, data map[string]any, instruction string) string

	// Generate writes longer content: a proposal, an analysis.
	Generate(ctx context.Context, data map[string]any, instruction string) string
}

// Noop is the Drafter used when no provider is configured. Callers get ""
// and use their template fallbacks.
type Noop struct{}

func (Noop) Explain(context.Context, map[string]any, string) string  { return "" }
func (Noop) Draft(context.Context, map[string]any, string) string    { return "" }
func (Noop) Generate(context.Context, map[string]any, string) string { return "" }

// FormatContext renders structured data as indented text a model can read.
// Keys are sorted for deterministic output; lists are capped at ten items
// to bound the prompt size.
func FormatContext(data map[string]any) string {
	if len(data) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("DATA:")
	writeValue(&b, data, 1)
	return b.String()
}

func writeValue(b *strings.Builder, v any, indent int) {
	prefix := strings.Repeat("  ", indent)
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			item := val[k]
			switch item.(type) {
			case map[string]any, []any:
				fmt.Fprintf(b, "\n%s%s:", prefix, k)
				writeValue(b, item, indent+1)
			case nil:
			default:
				if s, ok := item.(string); ok && s == "" {
					continue
				}
				fmt.Fprintf(b, "\n%s%s: %v", prefix, k, item)
			}
		}
	case []any:
		for i, item := range val {
			if i == 10 {
				break
			}
			switch item.(type) {
			case map[string]any, []any:
				fmt.Fprintf(b, "\n%s-", prefix)
				writeValue(b, item, indent+1)
			default:
				fmt.Fprintf(b, "\n%s- %v", prefix, item)
			}
		}
	}
}
