package logger_test

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"jobboard.app/atsbridge/common/logger"
)

func TestLogger(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Logger Suite")
}

var _ = Describe("LogFields", func() {
	It("merges newer non-empty values over existing ones", func() {
		ctx := logger.WithLogFields(context.Background(), logger.LogFields{
			WebhookID: logger.Ptr(int64(1)),
			Component: "first",
		})
		ctx = logger.WithLogFields(ctx, logger.LogFields{
			ConnectionID: logger.Ptr(int64(7)),
		})

		fields := logger.GetLogFields(ctx)
		Expect(*fields.WebhookID).To(Equal(int64(1)))
		Expect(*fields.ConnectionID).To(Equal(int64(7)))
		Expect(fields.Component).To(Equal("first"))
	})

	It("returns empty fields for a bare context", func() {
		Expect(logger.GetLogFields(context.Background())).To(Equal(logger.LogFields{}))
	})
})

var _ = Describe("TraceHandler", func() {
	It("adds context fields to every record", func() {
		buf := &bytes.Buffer{}
		log := slog.New(logger.NewTraceHandler(slog.NewTextHandler(buf, nil)))

		ctx := logger.WithLogFields(context.Background(), logger.LogFields{
			WebhookID: logger.Ptr(int64(42)),
			EventType: logger.Ptr("hire_completed"),
			Component: "atsbridge.dispatch",
		})
		log.InfoContext(ctx, "dispatched")

		Expect(buf.String()).To(ContainSubstring("webhook_id=42"))
		Expect(buf.String()).To(ContainSubstring("event_type=hire_completed"))
		Expect(buf.String()).To(ContainSubstring("component=atsbridge.dispatch"))
	})
})

var _ = Describe("Truncate", func() {
	It("leaves short strings alone and cuts long ones", func() {
		Expect(logger.Truncate("abc", 5)).To(Equal("abc"))
		Expect(logger.Truncate("abcdef", 3)).To(Equal("abc..."))
	})
})
