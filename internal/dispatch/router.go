package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"jobboard.app/atsbridge/common/id"
	"jobboard.app/atsbridge/common/logger"
	"jobboard.app/atsbridge/internal/model"
	"jobboard.app/atsbridge/internal/store"
)

// Router applies a webhook to the downstream domain and marks it processed in
// the same transaction.
type Router struct {
	tx     store.TxRunner
	locker Locker
}

func NewRouter(tx store.TxRunner, locker Locker) *Router {
	if locker == nil {
		locker = NewKeyedMutex()
	}
	return &Router{tx: tx, locker: locker}
}

// Dispatch routes rec by event type. Handler failures come back as
// *HandlerError with the record left untouched; any other error means the
// record could not be marked processed. A leased record is only marked by its
// lease owner, so a record reclaimed by another worker rolls back with
// store.ErrLeaseLost.
func (r *Router) Dispatch(ctx context.Context, conn *model.Connection, rec *model.WebhookRecord) (model.Outcome, error) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		WebhookID:    logger.Ptr(rec.ID),
		ConnectionID: logger.Ptr(conn.ID),
		EventType:    logger.Ptr(string(rec.EventType)),
		Provider:     logger.Ptr(conn.Provider),
		Component:    "atsbridge.dispatch.router",
	})

	sc := logger.StartSpan(ctx, "dispatch."+string(rec.EventType), trace.WithSpanKind(trace.SpanKindConsumer))
	defer sc.End()
	ctx = sc.Context()
	sc.SetAttributes(
		attribute.Int64("webhook.id", rec.ID),
		attribute.Int64("connection.id", conn.ID),
		attribute.String("webhook.event_type", string(rec.EventType)),
		attribute.Int("webhook.retry_count", rec.RetryCount),
	)

	outcome, err := r.dispatch(ctx, conn, rec)
	if err != nil {
		sc.RecordError(err)
		return "", err
	}
	sc.SetAttributes(attribute.String("webhook.outcome", string(outcome)))
	return outcome, nil
}

func (r *Router) dispatch(ctx context.Context, conn *model.Connection, rec *model.WebhookRecord) (model.Outcome, error) {
	payload, err := model.DecodePayload(rec.EventType, rec.Payload)
	if err != nil {
		return "", r.handlerError(rec, err)
	}

	if payload == nil {
		slog.WarnContext(ctx, "unknown webhook event type, marking processed without side effects")
		err := r.tx.WithTx(ctx, func(stores store.Provider) error {
			return stores.Webhooks().MarkProcessed(ctx, rec.ID, rec.Lease(), model.OutcomeIgnored)
		})
		if err != nil {
			return "", fmt.Errorf("marking webhook %d processed: %w", rec.ID, err)
		}
		return model.OutcomeIgnored, nil
	}

	unlock, err := r.locker.Lock(ctx, entityLockKey(conn.ID, payload))
	if err != nil {
		return "", r.handlerError(rec, fmt.Errorf("locking %s: %w", payload.EntityKey(), err))
	}
	defer unlock()

	var outcome model.Outcome
	err = r.tx.WithTx(ctx, func(stores store.Provider) error {
		var applyErr error
		outcome, applyErr = r.apply(ctx, stores, conn, rec, payload)
		if applyErr != nil {
			return r.handlerError(rec, applyErr)
		}
		if err := stores.Webhooks().MarkProcessed(ctx, rec.ID, rec.Lease(), outcome); err != nil {
			return fmt.Errorf("marking webhook %d processed: %w", rec.ID, err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	if outcome == model.OutcomeEntityMissing {
		slog.WarnContext(ctx, "application not found, webhook processed without changes",
			"entity", payload.EntityKey())
	} else {
		slog.DebugContext(ctx, "webhook applied", "entity", payload.EntityKey(), "outcome", outcome)
	}
	return outcome, nil
}

func (r *Router) apply(ctx context.Context, stores store.Provider, conn *model.Connection, rec *model.WebhookRecord, payload model.Payload) (model.Outcome, error) {
	switch p := payload.(type) {
	case model.JobPayload:
		_, err := stores.Jobs().Upsert(ctx, &model.Job{
			ID:           id.New(),
			ConnectionID: conn.ID,
			ExternalID:   p.ExternalID,
			Title:        p.Title,
			Department:   p.Department,
			Location:     p.Location,
			Status:       p.Status,
			Data:         p.Raw,
		})
		if err != nil {
			return "", fmt.Errorf("upserting job %s: %w", p.ExternalID, err)
		}
		return model.OutcomeApplied, nil

	case model.CandidatePayload:
		_, err := stores.Candidates().Upsert(ctx, &model.Candidate{
			ID:           id.New(),
			ConnectionID: conn.ID,
			ExternalID:   p.ExternalID,
			FirstName:    p.FirstName,
			LastName:     p.LastName,
			Email:        p.Email,
			Data:         p.Raw,
		})
		if err != nil {
			return "", fmt.Errorf("upserting candidate %s: %w", p.ExternalID, err)
		}
		return model.OutcomeApplied, nil

	case model.ApplicationPayload:
		_, err := stores.Applications().Upsert(ctx, &model.Application{
			ID:                  id.New(),
			ConnectionID:        conn.ID,
			ExternalID:          p.ExternalID,
			ExternalJobID:       p.ExternalJobID,
			ExternalCandidateID: p.ExternalCandidateID,
			Status:              model.ApplicationStatus(p.Status),
			Data:                p.Raw,
		})
		if err != nil {
			return "", fmt.Errorf("upserting application %s: %w", p.ExternalID, err)
		}
		return model.OutcomeApplied, nil

	case model.InterviewPayload:
		return r.advanceApplication(ctx, stores, conn, rec, p.ApplicationID,
			model.ApplicationStatusInterview, nil, interviewNote(p))

	case model.OfferPayload:
		return r.advanceApplication(ctx, stores, conn, rec, p.ApplicationID,
			model.ApplicationStatusOffer, p.Salary, offerNote(p))

	case model.HirePayload:
		return r.advanceApplication(ctx, stores, conn, rec, p.ApplicationID,
			model.ApplicationStatusHired, p.FinalSalary, hireNote(p))
	}

	return "", fmt.Errorf("no handler for payload %T", payload)
}

// advanceApplication moves an application to status and appends note once
// per webhook. A missing application is not an error.
func (r *Router) advanceApplication(
	ctx context.Context,
	stores store.Provider,
	conn *model.Connection,
	rec *model.WebhookRecord,
	externalID string,
	status model.ApplicationStatus,
	salary *float64,
	note string,
) (model.Outcome, error) {
	apps := stores.Applications()

	app, err := apps.GetByExternalID(ctx, conn.ID, externalID)
	if errors.Is(err, store.ErrNotFound) {
		return model.OutcomeEntityMissing, nil
	}
	if err != nil {
		return "", fmt.Errorf("looking up application %s: %w", externalID, err)
	}

	if err := apps.UpdateStatus(ctx, app.ID, status, salary); err != nil {
		return "", fmt.Errorf("updating application %s: %w", externalID, err)
	}
	if _, err := apps.AppendNote(ctx, app.ID, NoteKey(rec.ID), note); err != nil {
		return "", fmt.Errorf("appending note to application %s: %w", externalID, err)
	}
	return model.OutcomeApplied, nil
}

func (r *Router) handlerError(rec *model.WebhookRecord, err error) error {
	return &HandlerError{WebhookID: rec.ID, EventType: string(rec.EventType), Err: err}
}

// NoteKey identifies the note a webhook contributes, so redelivery does not
// append it twice.
func NoteKey(webhookID int64) string {
	return "webhook:" + strconv.FormatInt(webhookID, 10)
}

func entityLockKey(connectionID int64, p model.Payload) string {
	return strconv.FormatInt(connectionID, 10) + ":" + p.EntityKey()
}

func interviewNote(p model.InterviewPayload) string {
	parts := []string{"Interview scheduled"}
	if p.ScheduledAt != "" {
		parts = append(parts, "Date: "+p.ScheduledAt)
	}
	if p.Interviewer != "" {
		parts = append(parts, "Interviewer: "+p.Interviewer)
	}
	return strings.Join(parts, ". ")
}

func offerNote(p model.OfferPayload) string {
	parts := []string{"Offer extended"}
	if p.Salary != nil {
		parts = append(parts, "Offered salary: $"+model.FormatAmount(*p.Salary))
	}
	return strings.Join(parts, ". ")
}

func hireNote(p model.HirePayload) string {
	parts := []string{"Candidate hired"}
	if p.StartDate != "" {
		parts = append(parts, "Start date: "+p.StartDate)
	}
	if p.FinalSalary != nil {
		parts = append(parts, "Final salary: $"+model.FormatAmount(*p.FinalSalary))
	}
	return strings.Join(parts, ". ")
}
