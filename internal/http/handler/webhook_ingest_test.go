package handler_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"

	"github.com/gin-gonic/gin"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"jobboard.app/atsbridge/internal/http/dto"
	"jobboard.app/atsbridge/internal/http/handler"
	"jobboard.app/atsbridge/internal/model"
	"jobboard.app/atsbridge/internal/service"
)

var _ = Describe("WebhookIngestHandler", func() {
	var (
		router *gin.Engine
		svc    *mockIngestService
	)

	post := func(path, body string, headers map[string]string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		for k, v := range headers {
			req.Header.Set(k, v)
		}
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}

	BeforeEach(func() {
		gin.SetMode(gin.TestMode)
		router = gin.New()
		svc = &mockIngestService{}
		h := handler.NewWebhookIngestHandler(svc, "X-Trace-Id")
		router.POST("/webhooks/:connection_id", h.Receive)
	})

	It("accepts a new webhook with 202 and passes the raw body and trace id", func() {
		svc.ingestFn = func(_ context.Context, p service.WebhookIngestParams) (*service.WebhookIngestResult, error) {
			return &service.WebhookIngestResult{
				Webhook:  &model.WebhookRecord{ID: 77, ConnectionID: p.ConnectionID, EventType: model.EventHireCompleted},
				Notified: true,
			}, nil
		}

		w := post("/webhooks/5", `{"action":"hire"}`, map[string]string{"X-Trace-Id": "trace-1"})
		Expect(w.Code).To(Equal(http.StatusAccepted))

		var resp dto.IngestWebhookResponse
		Expect(json.Unmarshal(w.Body.Bytes(), &resp)).To(Succeed())
		Expect(resp.WebhookID).To(Equal(int64(77)))
		Expect(resp.EventType).To(Equal(model.EventHireCompleted))
		Expect(resp.Duplicate).To(BeFalse())

		Expect(svc.last.ConnectionID).To(Equal(int64(5)))
		Expect(string(svc.last.Body)).To(Equal(`{"action":"hire"}`))
		Expect(*svc.last.TraceID).To(Equal("trace-1"))
	})

	It("answers duplicates with 200", func() {
		svc.ingestFn = func(context.Context, service.WebhookIngestParams) (*service.WebhookIngestResult, error) {
			return &service.WebhookIngestResult{Webhook: &model.WebhookRecord{ID: 1}, Duplicate: true}, nil
		}
		w := post("/webhooks/5", `{}`, nil)
		Expect(w.Code).To(Equal(http.StatusOK))
		Expect(w.Body.String()).To(ContainSubstring(`"duplicate":true`))
	})

	DescribeTable("maps service errors to statuses",
		func(err error, status int) {
			svc.ingestFn = func(context.Context, service.WebhookIngestParams) (*service.WebhookIngestResult, error) {
				return nil, err
			}
			Expect(post("/webhooks/5", `{}`, nil).Code).To(Equal(status))
		},
		Entry("unknown connection", service.ErrConnectionNotFound, http.StatusNotFound),
		Entry("inactive connection", service.ErrConnectionInactive, http.StatusForbidden),
		Entry("bad signature", service.ErrInvalidSignature, http.StatusUnauthorized),
		Entry("malformed body", fmt.Errorf("%w: missing event name", service.ErrInvalidBody), http.StatusBadRequest),
		Entry("storage failure", errors.New("db down"), http.StatusInternalServerError),
	)

	It("rejects a non-numeric connection id", func() {
		Expect(post("/webhooks/abc", `{}`, nil).Code).To(Equal(http.StatusBadRequest))
	})
})
