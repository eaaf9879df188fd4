package service_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"jobboard.app/atsbridge/common/id"
	"jobboard.app/atsbridge/core/config"
	"jobboard.app/atsbridge/internal/model"
	"jobboard.app/atsbridge/internal/queue"
	"jobboard.app/atsbridge/internal/service"
	"jobboard.app/atsbridge/internal/store/memstore"
)

var _ = Describe("WebhookIngestService", func() {
	var (
		ctx      context.Context
		mem      *memstore.Store
		producer *mockProducer
		svc      service.WebhookIngestService
	)

	providers := config.Providers{
		"greenhouse": {
			EventField:      "action",
			SignatureHeader: "Signature",
			Events:          map[string]string{"hire_candidate": "hire_completed"},
		},
		"lever": {
			EventHeader: "X-Lever-Event",
			IDField:     "data.id",
		},
	}

	ingest := func(connID int64, headers http.Header, body string) (*service.WebhookIngestResult, error) {
		if headers == nil {
			headers = http.Header{}
		}
		return svc.Ingest(ctx, service.WebhookIngestParams{ConnectionID: connID, Headers: headers, Body: []byte(body)})
	}

	BeforeEach(func() {
		ctx = context.Background()
		Expect(id.Init(1)).To(Succeed())

		mem = memstore.New()
		producer = &mockProducer{}
		svc = service.NewWebhookIngestService(mem.Webhooks(), mem.Connections(), providers, producer, nil)

		Expect(mem.Connections().Create(ctx, &model.Connection{ID: 1, Provider: "greenhouse", Name: "gh", Active: true})).To(Succeed())
		Expect(mem.Connections().Create(ctx, &model.Connection{
			ID: 2, Provider: "lever", Name: "lv", Active: true,
			Credentials: json.RawMessage(`{"webhook_secret":"s3cret"}`),
		})).To(Succeed())
		Expect(mem.Connections().Create(ctx, &model.Connection{ID: 3, Provider: "greenhouse", Name: "off", Active: false})).To(Succeed())
	})

	It("maps the provider event, stores the webhook pending and notifies", func() {
		result, err := ingest(1, nil, `{"action":"hire_candidate","id":"evt-1","application_id":"A-1"}`)
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Duplicate).To(BeFalse())
		Expect(result.Notified).To(BeTrue())

		rec := result.Webhook
		Expect(rec.EventType).To(Equal(model.EventHireCompleted))
		Expect(rec.ExternalID).To(Equal("evt-1"))
		Expect(rec.Status).To(Equal(model.WebhookStatusPending))
		Expect(rec.RetryCount).To(BeZero())

		Expect(producer.Notices()).To(HaveLen(1))
		Expect(producer.Notices()[0].WebhookID).To(Equal(rec.ID))
	})

	It("dedupes redelivery by external id without a second notice", func() {
		body := `{"action":"hire_candidate","id":"evt-1","application_id":"A-1"}`
		first, err := ingest(1, nil, body)
		Expect(err).NotTo(HaveOccurred())

		second, err := ingest(1, nil, body)
		Expect(err).NotTo(HaveOccurred())
		Expect(second.Duplicate).To(BeTrue())
		Expect(second.Webhook.ID).To(Equal(first.Webhook.ID))
		Expect(producer.Notices()).To(HaveLen(1))
	})

	It("stores unrecognised events as unknown", func() {
		result, err := ingest(1, nil, `{"action":"prospect_merged"}`)
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Webhook.EventType).To(Equal(model.EventUnknown))
	})

	It("reads the event from a header and the id from a nested field", func() {
		body := `{"data":{"id":42}}`
		headers := http.Header{}
		headers.Set("X-Lever-Event", "candidate_updated")
		headers.Set("X-Signature", service.Sign("s3cret", []byte(body)))

		result, err := ingest(2, headers, body)
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Webhook.EventType).To(Equal(model.EventCandidateUpdated))
		Expect(result.Webhook.ExternalID).To(Equal("42"))
	})

	It("rejects a bad or missing signature when the connection has a secret", func() {
		headers := http.Header{}
		headers.Set("X-Lever-Event", "candidate_updated")
		_, err := ingest(2, headers, `{"data":{"id":1}}`)
		Expect(err).To(MatchError(service.ErrInvalidSignature))

		headers.Set("X-Signature", service.Sign("wrong", []byte(`{"data":{"id":1}}`)))
		_, err = ingest(2, headers, `{"data":{"id":1}}`)
		Expect(err).To(MatchError(service.ErrInvalidSignature))
	})

	It("returns ErrConnectionNotFound for unknown connections", func() {
		_, err := ingest(99, nil, `{"action":"x"}`)
		Expect(err).To(MatchError(service.ErrConnectionNotFound))
	})

	It("returns ErrConnectionNotFound when the connection vanishes before enqueue", func() {
		detached := memstore.New()
		svc = service.NewWebhookIngestService(detached.Webhooks(), mem.Connections(), providers, producer, nil)

		_, err := ingest(1, nil, `{"action":"job_created","id":"J-1"}`)
		Expect(err).To(MatchError(service.ErrConnectionNotFound))
		Expect(producer.Notices()).To(BeEmpty())
	})

	It("refuses inactive connections", func() {
		_, err := ingest(3, nil, `{"action":"x"}`)
		Expect(err).To(MatchError(service.ErrConnectionInactive))
	})

	It("rejects bodies that are not JSON objects or lack an event name", func() {
		_, err := ingest(1, nil, `not json`)
		Expect(errors.Is(err, service.ErrInvalidBody)).To(BeTrue())

		_, err = ingest(1, nil, `{"id":"x"}`)
		Expect(errors.Is(err, service.ErrInvalidBody)).To(BeTrue())
	})

	It("keeps the webhook when the worker notice fails", func() {
		producer.notifyFn = func(context.Context, queue.Notice) error { return errors.New("redis down") }

		result, err := ingest(1, nil, `{"action":"job_created","id":"J-1"}`)
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Notified).To(BeFalse())

		_, err = mem.Webhooks().GetByID(ctx, result.Webhook.ID)
		Expect(err).NotTo(HaveOccurred())
	})
})

var _ = Describe("VerifySignature", func() {
	It("accepts prefixed and bare hex digests", func() {
		body := []byte(`{"a":1}`)
		sig := service.Sign("k", body)
		Expect(service.VerifySignature("k", body, sig)).To(BeTrue())
		Expect(service.VerifySignature("k", body, sig[len("sha256="):])).To(BeTrue())
		Expect(service.VerifySignature("k", body, "zz")).To(BeFalse())
		Expect(service.VerifySignature("k", []byte(`{"a":2}`), sig)).To(BeFalse())
	})
})
