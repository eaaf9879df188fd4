package queue

import (
	"fmt"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/redis/go-redis/v9"
)

func TestQueue(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Queue Suite")
}

var _ = Describe("ParseMessage", func() {
	It("round-trips a notice through stream values", func() {
		trace := "4bf92f3577b34da6a3ce929d0e0e4736"
		n := Notice{WebhookID: 42, ConnectionID: 7, EventType: "hire_completed", TraceID: &trace}

		// Redis hands every value back as a string.
		values := map[string]any{}
		for k, v := range noticeValues(n) {
			values[k] = fmt.Sprint(v)
		}

		msg, err := ParseMessage(redis.XMessage{ID: "1-0", Values: values})
		Expect(err).NotTo(HaveOccurred())
		Expect(msg.ID).To(Equal("1-0"))
		Expect(msg.Notice).To(Equal(n))
	})

	It("omits empty optional fields", func() {
		values := noticeValues(Notice{WebhookID: 1, ConnectionID: 2})
		Expect(values).NotTo(HaveKey("trace_id"))
		Expect(values).NotTo(HaveKey("event_type"))
	})

	It("rejects notices without ids", func() {
		_, err := ParseMessage(redis.XMessage{ID: "1-0", Values: map[string]any{"connection_id": "2"}})
		Expect(err).To(MatchError(ContainSubstring("missing webhook_id")))

		_, err = ParseMessage(redis.XMessage{ID: "1-0", Values: map[string]any{"webhook_id": "x", "connection_id": "2"}})
		Expect(err).To(MatchError(ContainSubstring("parsing webhook_id")))
	})
})

var _ = Describe("deadLetterValues", func() {
	It("carries the failure context", func() {
		v := deadLetterValues(DeadLetter{WebhookID: 9, ConnectionID: 3, EventType: "offer_extended", Attempts: 3, Error: "boom"})
		Expect(v).To(HaveKeyWithValue("attempts", 3))
		Expect(v).To(HaveKeyWithValue("error", "boom"))
	})
})
