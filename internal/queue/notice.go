package queue

import (
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// Notice tells workers that a webhook is waiting. The database row is the
// source of truth; a lost notice only delays processing until the next poll.
type Notice struct {
	WebhookID    int64
	ConnectionID int64
	EventType    string
	TraceID      *string
}

// DeadLetter describes a webhook that used every attempt.
type DeadLetter struct {
	WebhookID    int64
	ConnectionID int64
	EventType    string
	Attempts     int
	Error        string
}

type Message struct {
	ID     string
	Notice Notice
	Raw    redis.XMessage
}

func ParseMessage(msg redis.XMessage) (Message, error) {
	webhookID, err := parseInt64(msg.Values, "webhook_id")
	if err != nil {
		return Message{}, err
	}
	connectionID, err := parseInt64(msg.Values, "connection_id")
	if err != nil {
		return Message{}, err
	}
	eventType, err := parseOptionalString(msg.Values, "event_type")
	if err != nil {
		return Message{}, err
	}
	traceID, err := parseOptionalString(msg.Values, "trace_id")
	if err != nil {
		return Message{}, err
	}

	n := Notice{
		WebhookID:    webhookID,
		ConnectionID: connectionID,
		EventType:    eventType,
	}
	if traceID != "" {
		n.TraceID = &traceID
	}
	return Message{ID: msg.ID, Notice: n, Raw: msg}, nil
}

func noticeValues(n Notice) map[string]any {
	values := map[string]any{
		"webhook_id":    n.WebhookID,
		"connection_id": n.ConnectionID,
	}
	if n.EventType != "" {
		values["event_type"] = n.EventType
	}
	if n.TraceID != nil && *n.TraceID != "" {
		values["trace_id"] = *n.TraceID
	}
	return values
}

func deadLetterValues(d DeadLetter) map[string]any {
	return map[string]any{
		"webhook_id":    d.WebhookID,
		"connection_id": d.ConnectionID,
		"event_type":    d.EventType,
		"attempts":      d.Attempts,
		"error":         d.Error,
	}
}

func parseInt64(values map[string]any, key string) (int64, error) {
	raw, ok := values[key]
	if !ok {
		return 0, fmt.Errorf("missing %s", key)
	}
	num, err := strconv.ParseInt(fmt.Sprint(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing %s: %w", key, err)
	}
	return num, nil
}

func parseOptionalString(values map[string]any, key string) (string, error) {
	raw, ok := values[key]
	if !ok {
		return "", nil
	}
	return fmt.Sprint(raw), nil
}
