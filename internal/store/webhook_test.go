package store_test

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"jobboard.app/atsbridge/core/db"
	"jobboard.app/atsbridge/internal/model"
	"jobboard.app/atsbridge/internal/store"
)

var _ = Describe("Postgres WebhookStore", func() {
	var (
		ctx    context.Context
		stores *store.Stores
		hooks  store.WebhookStore
		now    time.Time
	)

	enqueue := func(id, connID int64, evt model.EventType, ext string) *model.WebhookRecord {
		rec, created, err := hooks.Enqueue(ctx, store.EnqueueParams{
			ID: id, ConnectionID: connID, EventType: evt, ExternalID: ext,
			Payload: json.RawMessage(`{"id":"x"}`),
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(created).To(BeTrue())
		return rec
	}

	get := func(id int64) *model.WebhookRecord {
		rec, err := hooks.GetByID(ctx, id)
		Expect(err).NotTo(HaveOccurred())
		return rec
	}

	BeforeEach(func() {
		ctx = context.Background()
		truncate(ctx)
		stores = store.NewStores(database.Conn())
		hooks = stores.Webhooks()
		now = time.Now().UTC().Truncate(time.Microsecond)

		for _, c := range []model.Connection{
			{ID: 1, Provider: "greenhouse", Name: "acme", Active: true},
			{ID: 2, Provider: "lever", Name: "other", Active: true},
		} {
			conn := c
			Expect(stores.Connections().Create(ctx, &conn)).To(Succeed())
		}
	})

	Describe("Enqueue", func() {
		It("keeps the payload exactly as received", func() {
			body := `{"b": 1,  "a": {"z":true, "y":null}, "a": 2}`
			rec, created, err := hooks.Enqueue(ctx, store.EnqueueParams{
				ID: 10, ConnectionID: 1, EventType: model.EventJobCreated, Payload: json.RawMessage(body),
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(created).To(BeTrue())
			Expect(string(rec.Payload)).To(Equal(body))
			Expect(string(get(10).Payload)).To(Equal(body))
		})

		It("deduplicates on connection and external id only when the id is set", func() {
			first := enqueue(10, 1, model.EventJobCreated, "evt-1")
			again, created, err := hooks.Enqueue(ctx, store.EnqueueParams{
				ID: 11, ConnectionID: 1, EventType: model.EventJobCreated, ExternalID: "evt-1",
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(created).To(BeFalse())
			Expect(again.ID).To(Equal(first.ID))

			enqueue(12, 2, model.EventJobCreated, "evt-1")
			enqueue(13, 1, model.EventJobCreated, "")
			enqueue(14, 1, model.EventJobCreated, "")
		})

		It("rejects unknown connections", func() {
			_, _, err := hooks.Enqueue(ctx, store.EnqueueParams{ID: 10, ConnectionID: 99, EventType: model.EventJobCreated})
			Expect(errors.Is(err, store.ErrValidation)).To(BeTrue())
		})
	})

	Describe("state transitions", func() {
		It("explains rejected transitions", func() {
			enqueue(10, 1, model.EventJobCreated, "")
			Expect(hooks.MarkProcessed(ctx, 10, "", model.OutcomeApplied)).To(Succeed())
			Expect(hooks.MarkProcessed(ctx, 10, "", model.OutcomeApplied)).To(MatchError(store.ErrInvalidState))
			Expect(hooks.MarkProcessed(ctx, 99, "", model.OutcomeApplied)).To(MatchError(store.ErrNotFound))

			_, err := hooks.MarkFailed(ctx, 10, "", "late", nil)
			Expect(err).To(MatchError(store.ErrInvalidState))
			Expect(hooks.ResetForRetry(ctx, 10)).To(MatchError(store.ErrInvalidState))
		})

		It("caps retry_count and refuses resets once exhausted", func() {
			enqueue(10, 1, model.EventJobCreated, "")
			for i := 0; i < model.MaxAttempts; i++ {
				if i > 0 {
					Expect(hooks.ResetForRetry(ctx, 10)).To(Succeed())
				}
				rec, err := hooks.MarkFailed(ctx, 10, "", "boom", nil)
				Expect(err).NotTo(HaveOccurred())
				Expect(rec.RetryCount).To(Equal(i + 1))
			}
			Expect(get(10).Exhausted()).To(BeTrue())
			Expect(hooks.ResetForRetry(ctx, 10)).To(MatchError(store.ErrInvalidState))
		})
	})

	Describe("RetryableBatch", func() {
		It("filters by due time, connection and event type before the limit", func() {
			enqueue(10, 1, model.EventJobCreated, "")
			enqueue(11, 1, model.EventJobCreated, "")
			enqueue(12, 2, model.EventJobCreated, "")
			enqueue(13, 1, model.EventCandidateCreated, "")

			later := now.Add(10 * time.Minute)
			soon := now.Add(time.Minute)
			_, err := hooks.MarkFailed(ctx, 10, "", "boom", &later)
			Expect(err).NotTo(HaveOccurred())
			_, err = hooks.MarkFailed(ctx, 11, "", "boom", &soon)
			Expect(err).NotTo(HaveOccurred())
			_, err = hooks.MarkFailed(ctx, 12, "", "boom", nil)
			Expect(err).NotTo(HaveOccurred())
			_, err = hooks.MarkFailed(ctx, 13, "", "boom", nil)
			Expect(err).NotTo(HaveOccurred())

			due := now.Add(2 * time.Minute)
			conn := int64(1)
			evt := model.EventJobCreated
			batch, err := hooks.RetryableBatch(ctx, model.RetryFilter{ConnectionID: &conn, EventType: &evt, DueBy: &due}, 1)
			Expect(err).NotTo(HaveOccurred())
			Expect(batch).To(HaveLen(1))
			Expect(batch[0].ID).To(Equal(int64(11)))

			all, err := hooks.RetryableBatch(ctx, model.RetryFilter{}, 10)
			Expect(err).NotTo(HaveOccurred())
			Expect(all).To(HaveLen(4))
		})
	})

	Describe("leases", func() {
		It("skips rows locked by a concurrent claimer", func() {
			enqueue(10, 1, model.EventJobCreated, "")
			enqueue(11, 1, model.EventJobCreated, "")

			err := database.WithTx(ctx, func(tx db.DBTX) error {
				mine, err := store.NewStores(tx).Webhooks().ClaimBatch(ctx, model.ClaimParams{
					Owner: "w1", LeaseFor: time.Minute, Limit: 1, Now: now,
				})
				Expect(err).NotTo(HaveOccurred())
				Expect(mine).To(HaveLen(1))
				Expect(mine[0].ID).To(Equal(int64(10)))

				theirs, err := hooks.ClaimBatch(ctx, model.ClaimParams{
					Owner: "w2", LeaseFor: time.Minute, Limit: 10, Now: now,
				})
				Expect(err).NotTo(HaveOccurred())
				Expect(theirs).To(HaveLen(1))
				Expect(theirs[0].ID).To(Equal(int64(11)))
				Expect(theirs[0].Lease()).To(Equal("w2"))
				return nil
			})
			Expect(err).NotTo(HaveOccurred())

			Expect(get(10).Lease()).To(Equal("w1"))
			Expect(get(10).Status).To(Equal(model.WebhookStatusProcessing))
		})

		It("releases expired leases and rejects marks from the previous owner", func() {
			enqueue(10, 1, model.EventJobCreated, "")
			_, err := hooks.ClaimBatch(ctx, model.ClaimParams{Owner: "w1", LeaseFor: time.Minute, Limit: 10, Now: now})
			Expect(err).NotTo(HaveOccurred())

			released, err := hooks.ReleaseExpiredLeases(ctx, now.Add(30*time.Second))
			Expect(err).NotTo(HaveOccurred())
			Expect(released).To(BeZero())

			released, err = hooks.ReleaseExpiredLeases(ctx, now.Add(2*time.Minute))
			Expect(err).NotTo(HaveOccurred())
			Expect(released).To(Equal(int64(1)))

			_, err = hooks.ClaimBatch(ctx, model.ClaimParams{Owner: "w2", LeaseFor: time.Minute, Limit: 10, Now: now})
			Expect(err).NotTo(HaveOccurred())

			Expect(hooks.MarkProcessed(ctx, 10, "w1", model.OutcomeApplied)).To(MatchError(store.ErrLeaseLost))
			_, err = hooks.MarkFailed(ctx, 10, "w1", "boom", nil)
			Expect(err).To(MatchError(store.ErrLeaseLost))

			Expect(hooks.MarkProcessed(ctx, 10, "w2", model.OutcomeApplied)).To(Succeed())
			rec := get(10)
			Expect(rec.Status).To(Equal(model.WebhookStatusProcessed))
			Expect(rec.LeaseOwner).To(BeNil())
			Expect(*rec.Outcome).To(Equal(model.OutcomeApplied))
		})
	})

	It("rolls back writes when the transaction fails", func() {
		runner := store.NewTxRunner(database)
		boom := errors.New("boom")
		err := runner.WithTx(ctx, func(p store.Provider) error {
			_, _, err := p.Webhooks().Enqueue(ctx, store.EnqueueParams{ID: 10, ConnectionID: 1, EventType: model.EventJobCreated})
			Expect(err).NotTo(HaveOccurred())
			return boom
		})
		Expect(err).To(MatchError(boom))

		_, err = hooks.GetByID(ctx, 10)
		Expect(err).To(MatchError(store.ErrNotFound))
	})
})
