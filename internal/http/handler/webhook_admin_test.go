package handler_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"

	"github.com/gin-gonic/gin"
	"github.com/invopop/jsonschema"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"jobboard.app/atsbridge/internal/http/dto"
	"jobboard.app/atsbridge/internal/http/handler"
	"jobboard.app/atsbridge/internal/model"
	"jobboard.app/atsbridge/internal/service"
	"jobboard.app/atsbridge/internal/store"
)

var _ = Describe("WebhookAdminHandler", func() {
	var (
		router *gin.Engine
		svc    *mockAdminService
	)

	do := func(method, path string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(method, path, nil))
		return w
	}

	BeforeEach(func() {
		gin.SetMode(gin.TestMode)
		router = gin.New()
		svc = &mockAdminService{}
		h := handler.NewWebhookAdminHandler(svc)
		router.GET("/webhooks", h.List)
		router.GET("/webhooks/:id", h.Get)
		router.POST("/webhooks/:id/retry", h.Retry)
		router.GET("/webhook-schemas/:event_type", h.Schema)
	})

	It("passes query filters through and omits payloads in lists", func() {
		var got service.WebhookListParams
		svc.listFn = func(_ context.Context, p service.WebhookListParams) ([]model.WebhookRecord, error) {
			got = p
			return []model.WebhookRecord{
				{ID: 1, Status: model.WebhookStatusFailed, RetryCount: 1, Payload: json.RawMessage(`{"x":1}`)},
				{ID: 2, Status: model.WebhookStatusFailed, RetryCount: 3},
			}, nil
		}

		w := do(http.MethodGet, "/webhooks?status=failed&connection_id=9&event_type=offer_extended&limit=10")
		Expect(w.Code).To(Equal(http.StatusOK))

		Expect(got.Status).To(Equal(model.WebhookStatusFailed))
		Expect(*got.ConnectionID).To(Equal(int64(9)))
		Expect(*got.EventType).To(Equal(model.EventOfferExtended))
		Expect(got.Limit).To(Equal(10))

		var resp dto.ListWebhooksResponse
		Expect(json.Unmarshal(w.Body.Bytes(), &resp)).To(Succeed())
		Expect(resp.Count).To(Equal(2))
		Expect(resp.Webhooks[0].Payload).To(BeEmpty())
		Expect(resp.Webhooks[0].Retryable).To(BeTrue())
		Expect(resp.Webhooks[1].Retryable).To(BeFalse())
	})

	It("rejects out-of-range limits", func() {
		Expect(do(http.MethodGet, "/webhooks?limit=0").Code).To(Equal(http.StatusOK))
		Expect(do(http.MethodGet, "/webhooks?limit=9999").Code).To(Equal(http.StatusBadRequest))
	})

	It("returns a single webhook with its payload", func() {
		svc.getFn = func(_ context.Context, id int64) (*model.WebhookRecord, error) {
			return &model.WebhookRecord{ID: id, Payload: json.RawMessage(`{"x":1}`)}, nil
		}
		w := do(http.MethodGet, "/webhooks/12")
		Expect(w.Code).To(Equal(http.StatusOK))
		Expect(w.Body.String()).To(ContainSubstring(`"payload":{"x":1}`))

		Expect(do(http.MethodGet, "/webhooks/nope").Code).To(Equal(http.StatusBadRequest))
	})

	DescribeTable("maps retry errors",
		func(err error, status int) {
			svc.retryFn = func(context.Context, int64) (*model.WebhookRecord, error) { return nil, err }
			Expect(do(http.MethodPost, "/webhooks/3/retry").Code).To(Equal(status))
		},
		Entry("missing", store.ErrNotFound, http.StatusNotFound),
		Entry("exhausted", fmt.Errorf("%w: webhook 3 is failed after 3 attempts", store.ErrInvalidState), http.StatusConflict),
		Entry("validation", store.ErrValidation, http.StatusBadRequest),
	)

	It("accepts a retry", func() {
		svc.retryFn = func(_ context.Context, id int64) (*model.WebhookRecord, error) {
			return &model.WebhookRecord{ID: id, Status: model.WebhookStatusPending, RetryCount: 1}, nil
		}
		w := do(http.MethodPost, "/webhooks/3/retry")
		Expect(w.Code).To(Equal(http.StatusAccepted))
		Expect(w.Body.String()).To(ContainSubstring(`"status":"pending"`))
	})

	It("serves payload schemas", func() {
		svc.schemaFn = func(evt string) (*jsonschema.Schema, error) {
			return &jsonschema.Schema{Type: "object", Title: evt}, nil
		}
		w := do(http.MethodGet, "/webhook-schemas/hire_completed")
		Expect(w.Code).To(Equal(http.StatusOK))
		Expect(w.Body.String()).To(ContainSubstring(`"title":"hire_completed"`))
	})
})
