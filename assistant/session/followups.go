package session

import (
	"encoding/json"
	"strings"

	"github.com/platewise/platewise/assistant"
	"github.com/platewise/platewise/backend"
)

// ExtractFollowUps parses the recommendation fields optionally attached
// to a turn's backend response. The wire shape has drifted over time, so
// several are accepted: a JSON array of strings, an array of objects with
// a text field, or a bare string. Absent or malformed structures degrade
// to an empty list; recommendations are a UI affordance, not core
// correctness.
func ExtractFollowUps(resp *backend.ChatResponse) []assistant.FollowUpRecommendation {
	if resp == nil {
		return nil
	}
	texts := parseRecommendation(resp.RecommendFollowUp)
	texts = append(texts, parseRecommendation(resp.RecommendPrompt)...)

	followUps := make([]assistant.FollowUpRecommendation, 0, len(texts))
	for _, text := range texts {
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		followUps = append(followUps, assistant.FollowUpRecommendation{Text: text})
	}
	if len(followUps) == 0 {
		return nil
	}
	return followUps
}

func parseRecommendation(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}

	var asStrings []string
	if err := json.Unmarshal(raw, &asStrings); err == nil {
		return asStrings
	}

	var asObjects []struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &asObjects); err == nil {
		texts := make([]string, 0, len(asObjects))
		for _, obj := range asObjects {
			texts = append(texts, obj.Text)
		}
		return texts
	}

	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		return []string{asString}
	}

	return nil
}
