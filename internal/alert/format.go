package alert

import (
	"encoding/json"
	"fmt"
)

// FormatPayload builds the webhook body for the given format.
func FormatPayload(format string, event Event) ([]byte, error) {
	switch format {
	case "slack":
		return formatSlack(event)
	default:
		return json.Marshal(event)
	}
}

func formatSlack(event Event) ([]byte, error) {
	fields := []any{
		mrkdwn("*Direction:* %s", event.Direction),
	}
	switch event.Type {
	case EventRecordFailed:
		fields = append(fields,
			mrkdwn("*Entity:* %s", event.EntityKey),
			mrkdwn("*Change:* %s", event.ChangeID),
			mrkdwn("*Reason:* %s", event.Reason),
		)
	case EventFailureRate:
		fields = append(fields,
			mrkdwn("*Run:* %s", event.RunID),
			mrkdwn("*Failed:* %d of %d (%.0f%%)", event.Failed, event.Attempted, event.FailureRate*100),
		)
	}

	payload := map[string]any{
		"blocks": []any{
			map[string]any{
				"type": "header",
				"text": map[string]any{
					"type": "plain_text",
					"text": fmt.Sprintf("membersync: %s", event.Type),
				},
			},
			map[string]any{
				"type":   "section",
				"fields": fields,
			},
		},
	}
	return json.Marshal(payload)
}

func mrkdwn(format string, args ...any) map[string]any {
	return map[string]any{"type": "mrkdwn", "text": fmt.Sprintf(format, args...)}
}
