package dispatch

import "fmt"

// HandlerError wraps a failure raised while applying a webhook to the
// downstream domain. The pipeline records it with MarkFailed and moves on.
type HandlerError struct {
	WebhookID int64
	EventType string
	Err       error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("handling %s webhook %d: %v", e.EventType, e.WebhookID, e.Err)
}

func (e *HandlerError) Unwrap() error {
	return e.Err
}
