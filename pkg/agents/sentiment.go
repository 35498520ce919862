package agents

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/avollmer/conductor/pkg/llm"
)

// SentimentName is the registered name of the sentiment analysis agent.
const SentimentName = "sentiment"

const sentimentPrompt = `Du bist ein Experte für Sentiment-Analyse.
AUFGABE: Analysiere das Sentiment des gegebenen Textes.
Gib das Ergebnis in folgendem JSON-Format zurück:
{"label": "positive|negative|neutral", "confidence": 0.0-1.0, "score": -1.0 bis 1.0, "emotions": [{"emotion": "name", "intensity": 0.0-1.0}]}
REGELN: label: positive (>0.1), negative (<-0.1), neutral (-0.1 bis 0.1)`

// Sentiment classifies text polarity via the model, with a word-list
// fallback when the model's reply is not parseable JSON.
type Sentiment struct {
	textAgent
}

// NewSentiment creates the sentiment analysis agent.
func NewSentiment(provider llm.Provider, model string) *Sentiment {
	return &Sentiment{textAgent{name: SentimentName, provider: provider, model: model}}
}

type sentimentVerdict struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
	Score      float64 `json:"score"`
	Emotions   []struct {
		Emotion   string  `json:"emotion"`
		Intensity float64 `json:"intensity"`
	} `json:"emotions"`
}

func (a *Sentiment) Handle(ctx context.Context, data map[string]any) (map[string]any, error) {
	text, err := textField(data, "text")
	if err != nil {
		return nil, err
	}
	detailed, _ := data["detailed"].(bool)

	reply, err := a.chat(ctx, sentimentPrompt, text)
	if err != nil {
		return nil, err
	}

	verdict, ok := parseVerdict(reply)
	if !ok {
		verdict = fallbackVerdict(text)
	}

	out := map[string]any{
		"sentiment": map[string]any{
			"label":      normalizeLabel(verdict.Label),
			"confidence": clamp(verdict.Confidence, 0, 1),
			"score":      clamp(verdict.Score, -1, 1),
		},
		"original_text": text,
	}
	if detailed {
		emotions := make([]map[string]any, 0, len(verdict.Emotions))
		for _, e := range verdict.Emotions {
			if e.Emotion == "" {
				continue
			}
			emotions = append(emotions, map[string]any{
				"emotion":   e.Emotion,
				"intensity": clamp(e.Intensity, 0, 1),
			})
		}
		out["emotions"] = emotions
	}
	return out, nil
}

// parseVerdict tolerates replies that wrap the JSON object in prose or
// markdown fences.
func parseVerdict(reply string) (sentimentVerdict, bool) {
	var v sentimentVerdict
	start := strings.Index(reply, "{")
	end := strings.LastIndex(reply, "}")
	if start < 0 || end <= start {
		return v, false
	}
	if err := json.Unmarshal([]byte(reply[start:end+1]), &v); err != nil {
		return v, false
	}
	if v.Label == "" {
		return v, false
	}
	return v, true
}

var (
	positiveWords = []string{"gut", "toll", "super", "fantastisch", "großartig", "wunderbar", "perfekt", "ausgezeichnet"}
	negativeWords = []string{"schlecht", "schrecklich", "furchtbar", "katastrophal", "schlimm", "ärgerlich", "enttäuschend"}
)

// fallbackVerdict is the word-list classifier used when the model does
// not answer with valid JSON.
func fallbackVerdict(text string) sentimentVerdict {
	lower := strings.ToLower(text)
	pos, neg := 0, 0
	for _, w := range positiveWords {
		if strings.Contains(lower, w) {
			pos++
		}
	}
	for _, w := range negativeWords {
		if strings.Contains(lower, w) {
			neg++
		}
	}
	switch {
	case pos > neg:
		return sentimentVerdict{
			Label:      "positive",
			Confidence: min(0.8, 0.5+float64(pos)*0.1),
			Score:      min(1.0, float64(pos)*0.3),
		}
	case neg > pos:
		return sentimentVerdict{
			Label:      "negative",
			Confidence: min(0.8, 0.5+float64(neg)*0.1),
			Score:      max(-1.0, -float64(neg)*0.3),
		}
	default:
		return sentimentVerdict{Label: "neutral", Confidence: 0.6}
	}
}

func normalizeLabel(label string) string {
	switch strings.ToLower(strings.TrimSpace(label)) {
	case "positive":
		return "positive"
	case "negative":
		return "negative"
	default:
		return "neutral"
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
