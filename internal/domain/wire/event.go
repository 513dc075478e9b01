package wire

import "strings"

// Event is the raw shape of a downstream-pushed event object.
type Event struct {
	EventID     string         `json:"event_id"`
	EventType   string         `json:"event_type"`
	RequestID   string         `json:"request_id,omitempty"`
	TimestampMs int64          `json:"timestamp_ms"`
	Payload     map[string]any `json:"payload,omitempty"`
}

// NormalizedEvent is the shape the bridge hands to subscribers and to the
// stdio client, regardless of the downstream event_type.
type NormalizedEvent struct {
	Type             string         `json:"type"`
	EventID          string         `json:"event_id"`
	EventType        string         `json:"event_type"`
	RequestID        string         `json:"request_id,omitempty"`
	TimestampMs      int64          `json:"timestamp_ms"`
	Payload          map[string]any `json:"payload,omitempty"`
	NotificationKind string         `json:"notification_kind"`
	Percent          *float64       `json:"percent,omitempty"`
	Phase            string         `json:"phase,omitempty"`
	Level            string         `json:"level,omitempty"`
	Message          string         `json:"message,omitempty"`
}

// notificationKinds maps a raw event_type, with any leading "event."
// namespace removed, to the normalized kind surfaced to subscribers;
// anything unmatched becomes "other".
var notificationKinds = map[string]string{
	"progress":    "progress",
	"log":         "log",
	"artifact":    "artifact",
	"job_status":  "job_status",
	"changeset":   "changeset",
}

func classifyNotification(eventType string) string {
	if kind, ok := notificationKinds[strings.TrimPrefix(eventType, "event.")]; ok {
		return kind
	}
	return "other"
}

// Normalize converts a raw downstream Event into the bridge's normalized
// shape, deriving notification_kind and lifting percent/phase/level/message
// out of the payload when present.
func Normalize(e Event) NormalizedEvent {
	n := NormalizedEvent{
		Type:             "ue.event",
		EventID:          e.EventID,
		EventType:        e.EventType,
		RequestID:        e.RequestID,
		TimestampMs:      e.TimestampMs,
		Payload:          e.Payload,
		NotificationKind: classifyNotification(e.EventType),
	}
	switch n.NotificationKind {
	case "progress":
		if pct, ok := numeric(e.Payload["percent"]); ok {
			n.Percent = &pct
		}
		if phase, ok := e.Payload["phase"].(string); ok {
			n.Phase = phase
		}
	case "log":
		if level, ok := e.Payload["level"].(string); ok {
			n.Level = level
		}
		if msg, ok := e.Payload["message"].(string); ok {
			n.Message = msg
		}
	}
	return n
}

func numeric(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	default:
		return 0, false
	}
}
