package agents

import (
	"context"
	"fmt"

	"github.com/avollmer/conductor/pkg/llm"
)

// OptimizerName is the registered name of the tonality optimization agent.
const OptimizerName = "optimizer"

// DefaultTonality is applied when a request does not name one.
const DefaultTonality = "freundlich"

const optimizerPrompt = `Du bist ein Experte für Textoptimierung. Optimiere Texte basierend auf der gewünschten Tonalität.

BEISPIELE:

Tonalität: locker
Input: 'Sehr geehrte Damen und Herren, hiermit teile ich Ihnen mit, dass Ihr Antrag abgelehnt wurde.'
Output: 'Hey! Leider konnten wir deinen Antrag diesmal nicht genehmigen.'

Tonalität: freundlich
Input: 'Das war Schrott und furchtbar schlecht gemacht.'
Output: 'Das entspricht noch nicht ganz unseren Vorstellungen und könnte deutlich verbessert werden.'

Tonalität: direkt
Input: 'Vielen Dank für Ihre Anfrage. Leider müssen wir Ihnen mitteilen, dass dies unmöglich ist.'
Output: 'Das ist nicht umsetzbar.'

Tonalität: sachlich
Input: 'Sehr geehrte Damen und Herren, Ihr Antrag wurde abgelehnt.'
Output: 'Nach Prüfung der Unterlagen wurde der Antrag nicht genehmigt.'

Tonalität: professionell
Input: 'Das war Schrott und furchtbar schlecht gemacht.'
Output: 'Die Qualität entspricht nicht den geforderten Standards und bedarf einer umfassenden Überarbeitung.'

REGELN:
- Ersetze negative Begriffe durch positive Alternativen
- 'locker' verwendet 'du' statt 'Sie', 'freundlich' behält 'Sie'
- Antworte NUR mit dem optimierten Text, ohne zusätzliche Erklärungen.`

// Optimizer rewrites text in a requested tonality using few-shot
// prompting. On model failure the original text is not substituted; the
// failure surfaces as a recoverable capability error.
type Optimizer struct {
	textAgent
}

// NewOptimizer creates the tonality optimization agent.
func NewOptimizer(provider llm.Provider, model string) *Optimizer {
	return &Optimizer{textAgent{name: OptimizerName, provider: provider, model: model}}
}

func (a *Optimizer) Handle(ctx context.Context, data map[string]any) (map[string]any, error) {
	text, err := textField(data, "text")
	if err != nil {
		return nil, err
	}
	tonality := stringField(data, "tonality", DefaultTonality)

	user := fmt.Sprintf("Tonalität: %s\nText: %s\n\nOptimiere den Text entsprechend der angegebenen Tonalität.", tonality, text)
	optimized, err := a.chat(ctx, optimizerPrompt, user)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"optimized_text": optimized,
		"original_text":  text,
		"tonality":       tonality,
	}, nil
}
