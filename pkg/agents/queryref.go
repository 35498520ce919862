package agents

import (
	"context"
	"fmt"
	"strings"

	"github.com/avollmer/conductor/pkg/core"
)

// QueryRefName is the registered name of the query refinement agent.
const QueryRefName = "query_refinement"

// QueryRef expands terse search queries into detailed ones. Refinement
// is deterministic: a known-topic table first, then general heuristics.
// No model call is involved.
type QueryRef struct {
	rules []refinementRule
}

// refinementRule maps a known-topic pattern to its expanded query.
// Rules are matched in order, so more specific patterns come first.
type refinementRule struct {
	pattern  string
	enhanced string
}

// NewQueryRef creates the query refinement agent.
func NewQueryRef() *QueryRef {
	return &QueryRef{}
}

func (a *QueryRef) Name() string              { return QueryRefName }
func (a *QueryRef) Kind() core.CapabilityKind { return core.KindAgent }

func (a *QueryRef) Initialize(context.Context) error {
	a.rules = []refinementRule{
		{"erkläre ki", "Erkläre mir ausführlich die Grundlagen der Künstlichen Intelligenz, einschließlich ihrer wichtigsten Anwendungsbereiche und aktuellen Entwicklungen."},
		{"was ist ki", "Was ist Künstliche Intelligenz? Bitte erkläre die Definition, Geschichte und verschiedene Arten von KI-Systemen."},
		{"maschinelles lernen", "Erkläre mir maschinelles Lernen detailliert, einschließlich der verschiedenen Algorithmen, Anwendungsfälle und wie es sich von traditioneller Programmierung unterscheidet."},
		{"machine learning", "Erkläre mir maschinelles Lernen detailliert, einschließlich der verschiedenen Algorithmen, Anwendungsfälle und wie es sich von traditioneller Programmierung unterscheidet."},
		{"deep learning", "Was ist Deep Learning? Erkläre mir die Konzepte neuronaler Netzwerke, deren Architektur und praktische Anwendungen."},
		{"python", "Erkläre mir die Programmiersprache Python, ihre Syntax, wichtigsten Features und Anwendungsbereiche."},
		{"javascript", "Was ist JavaScript? Erkläre mir die Grundlagen, Syntax und wie es in der Webentwicklung verwendet wird."},
		{"ki", "Künstliche Intelligenz: Bitte gib mir eine umfassende Erklärung zu Definition, Funktionsweise und praktischen Anwendungen."},
	}
	return nil
}

func (a *QueryRef) Shutdown(context.Context) error { return nil }

func (a *QueryRef) Handle(_ context.Context, data map[string]any) (map[string]any, error) {
	text, err := textField(data, "text")
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"query":         a.refine(text),
		"original_text": text,
	}, nil
}

func (a *QueryRef) refine(text string) string {
	query := extractQuery(text)
	lower := strings.ToLower(query)
	for _, rule := range a.rules {
		if strings.Contains(lower, rule.pattern) {
			return rule.enhanced
		}
	}
	return generalRefinement(query)
}

// extractQuery strips a leading instruction prefix such as
// "Verbessere diese Anfrage: ...".
func extractQuery(text string) string {
	if idx := strings.Index(text, ":"); idx >= 0 {
		if rest := strings.TrimSpace(text[idx+1:]); rest != "" {
			return rest
		}
	}
	return text
}

func generalRefinement(query string) string {
	if len(strings.Fields(query)) < 3 {
		return fmt.Sprintf("Bitte erkläre mir ausführlich das Thema '%s' mit praktischen Beispielen und Hintergrundinformationen.", query)
	}
	if !strings.HasSuffix(query, "?") {
		return query + "? Bitte gib mir eine detaillierte Antwort mit Beispielen."
	}
	return query + " Bitte strukturiere deine Antwort mit klaren Abschnitten und praktischen Beispielen."
}
