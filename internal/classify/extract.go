package classify

import (
	"encoding/json"
	"strings"

	"github.com/go-viper/mapstructure/v2"
)

// responsePayload is the loosely-typed shape answer services reply with.
// Services differ on where the rendered answer lives: chat-style services
// nest messages under rm, simpler ones return a flat output field.
type responsePayload struct {
	RM struct {
		Messages []struct {
			HTML string `mapstructure:"html"`
			Text string `mapstructure:"text"`
		} `mapstructure:"messages"`
	} `mapstructure:"rm"`
	Output string `mapstructure:"output"`
}

// ExtractAnswer pulls the displayable answer text out of a raw response
// body. Message html/text fragments are joined with single spaces; when no
// messages are present the top-level output field is used, and an
// unparseable body falls back to the raw text itself.
func ExtractAnswer(rawBody []byte) string {
	var raw map[string]any
	if err := json.Unmarshal(rawBody, &raw); err != nil {
		return strings.TrimSpace(string(rawBody))
	}

	var payload responsePayload
	if err := mapstructure.Decode(raw, &payload); err != nil {
		return strings.TrimSpace(string(rawBody))
	}

	var parts []string
	for _, msg := range payload.RM.Messages {
		text := msg.HTML
		if text == "" {
			text = msg.Text
		}
		if text = strings.TrimSpace(text); text != "" {
			parts = append(parts, text)
		}
	}
	if len(parts) > 0 {
		return strings.Join(parts, " ")
	}
	return strings.TrimSpace(payload.Output)
}
