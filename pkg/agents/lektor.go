package agents

import (
	"context"

	"github.com/avollmer/conductor/pkg/llm"
)

// LektorName is the registered name of the grammar correction agent.
const LektorName = "lektor"

const lektorPrompt = `Du bist ein professioneller deutscher Lektor.
AUFGABE: Korrigiere ALLE Grammatik-, Rechtschreib- und Satzbaufehler im gegebenen Text.
Gib NUR den korrigierten Text zurück, KEINE Erklärungen oder Kommentare.`

// Lektor corrects grammar, spelling, and sentence structure. The
// corrected text is returned alongside the original for comparison.
type Lektor struct {
	textAgent
}

// NewLektor creates the grammar correction agent.
func NewLektor(provider llm.Provider, model string) *Lektor {
	return &Lektor{textAgent{name: LektorName, provider: provider, model: model}}
}

func (a *Lektor) Handle(ctx context.Context, data map[string]any) (map[string]any, error) {
	text, err := textField(data, "text")
	if err != nil {
		return nil, err
	}
	corrected, err := a.chat(ctx, lektorPrompt, text)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"corrected_text": corrected,
		"original_text":  text,
	}, nil
}
