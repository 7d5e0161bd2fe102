package alert

import (
	"encoding/json"
	"fmt"
	"strings"
)

// FormatPayload builds the webhook body for the given format.
func FormatPayload(format string, event Event) ([]byte, error) {
	switch format {
	case "slack":
		return formatSlack(event)
	case "pagerduty":
		return formatPagerDuty(event)
	default:
		return json.Marshal(event)
	}
}

func formatSlack(event Event) ([]byte, error) {
	fields := []any{
		map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Agent:* %s", orDash(event.AgentID))},
		map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Target:* %s", orDash(event.Target))},
		map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Reason:* %s", event.Reason)},
	}
	if len(event.Unresolved) > 0 {
		fields = append(fields, map[string]any{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Unresolved:* %s", strings.Join(event.Unresolved, ", ")),
		})
	}

	payload := map[string]any{
		"blocks": []any{
			map[string]any{
				"type": "header",
				"text": map[string]any{
					"type": "plain_text",
					"text": fmt.Sprintf("swarmgate: %s", event.Type),
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

func formatPagerDuty(event Event) ([]byte, error) {
	severity := "warning"
	switch event.Type {
	case EventKillSwitchTimeout:
		severity = "critical"
	case EventDataIntegrity, EventAuthorizationTimeout:
		severity = "error"
	}

	payload := map[string]any{
		"event_action": "trigger",
		"payload": map[string]any{
			"summary":  fmt.Sprintf("swarmgate %s: %s", event.Type, event.Reason),
			"severity": severity,
			"source":   "swarmgate",
			"custom_details": map[string]any{
				"agent_id":   event.AgentID,
				"action_id":  event.ActionID,
				"target":     event.Target,
				"unresolved": event.Unresolved,
				"roe_hash":   event.RoEHash,
			},
		},
	}
	return json.Marshal(payload)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
