package service_test

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"jobboard.app/atsbridge/internal/model"
	"jobboard.app/atsbridge/internal/service"
	"jobboard.app/atsbridge/internal/store"
	"jobboard.app/atsbridge/internal/store/memstore"
)

var _ = Describe("WebhookAdminService", func() {
	var (
		ctx      context.Context
		mem      *memstore.Store
		producer *mockProducer
		svc      service.WebhookAdminService
	)

	enqueue := func(id int64, evt model.EventType) {
		_, _, err := mem.Webhooks().Enqueue(ctx, store.EnqueueParams{
			ID: id, ConnectionID: 1, EventType: evt, Payload: json.RawMessage(`{}`),
		})
		Expect(err).NotTo(HaveOccurred())
	}

	failTimes := func(id int64, n int) {
		for range n {
			if rec, _ := mem.Webhooks().GetByID(ctx, id); rec.Status == model.WebhookStatusFailed {
				Expect(mem.Webhooks().ResetForRetry(ctx, id)).To(Succeed())
			}
			next := time.Now().Add(time.Hour)
			_, err := mem.Webhooks().MarkFailed(ctx, id, "", "boom", &next)
			Expect(err).NotTo(HaveOccurred())
		}
	}

	BeforeEach(func() {
		ctx = context.Background()
		mem = memstore.New()
		producer = &mockProducer{}
		svc = service.NewWebhookAdminService(mem.Webhooks(), producer)
		Expect(mem.Connections().Create(ctx, &model.Connection{ID: 1, Provider: "lever", Name: "lv", Active: true})).To(Succeed())
	})

	It("lists failed webhooks by default and honours filters", func() {
		enqueue(1, model.EventHireCompleted)
		enqueue(2, model.EventOfferExtended)
		enqueue(3, model.EventOfferExtended)
		failTimes(1, 1)
		failTimes(2, 1)

		failed, err := svc.List(ctx, service.WebhookListParams{})
		Expect(err).NotTo(HaveOccurred())
		Expect(failed).To(HaveLen(2))

		evt := model.EventOfferExtended
		offers, err := svc.List(ctx, service.WebhookListParams{EventType: &evt})
		Expect(err).NotTo(HaveOccurred())
		Expect(offers).To(HaveLen(1))
		Expect(offers[0].ID).To(Equal(int64(2)))

		pending, err := svc.List(ctx, service.WebhookListParams{Status: model.WebhookStatusPending})
		Expect(err).NotTo(HaveOccurred())
		Expect(pending).To(HaveLen(1))
	})

	It("rejects unknown statuses", func() {
		_, err := svc.List(ctx, service.WebhookListParams{Status: "stuck"})
		Expect(errors.Is(err, store.ErrValidation)).To(BeTrue())
	})

	It("resets a failed webhook and wakes the worker", func() {
		enqueue(1, model.EventHireCompleted)
		failTimes(1, 1)

		rec, err := svc.Retry(ctx, 1)
		Expect(err).NotTo(HaveOccurred())
		Expect(rec.Status).To(Equal(model.WebhookStatusPending))
		Expect(rec.RetryCount).To(Equal(1))
		Expect(producer.Notices()).To(HaveLen(1))
	})

	It("refuses to retry exhausted or pending webhooks", func() {
		enqueue(1, model.EventHireCompleted)
		_, err := svc.Retry(ctx, 1)
		Expect(errors.Is(err, store.ErrInvalidState)).To(BeTrue())

		failTimes(1, model.MaxAttempts)
		_, err = svc.Retry(ctx, 1)
		Expect(errors.Is(err, store.ErrInvalidState)).To(BeTrue())

		_, err = svc.Retry(ctx, 404)
		Expect(errors.Is(err, store.ErrNotFound)).To(BeTrue())
		Expect(producer.Notices()).To(BeEmpty())
	})

	It("describes payload schemas for typed events only", func() {
		schema, err := svc.Schema("hire_completed")
		Expect(err).NotTo(HaveOccurred())
		Expect(schema.Required).To(ContainElement("application_id"))
		_, ok := schema.Properties.Get("final_salary")
		Expect(ok).To(BeTrue())

		_, err = svc.Schema("unknown")
		Expect(errors.Is(err, store.ErrNotFound)).To(BeTrue())
	})
})
