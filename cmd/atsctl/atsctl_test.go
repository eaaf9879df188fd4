package main

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/spf13/viper"

	"jobboard.app/atsbridge/internal/model"
)

func TestAtsctl(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "atsctl Suite")
}

var _ = Describe("formatResult", func() {
	It("prints failures with their reason", func() {
		Expect(formatResult("acme", model.FailedSync("Rate limited"))).To(Equal("acme: FAILED (Rate limited)"))
	})

	It("prints counts in a fixed entity order", func() {
		var r model.SyncResult
		r.Success = true
		r.Add(model.EntityApplications, false, nil)
		r.Add(model.EntityJobs, true, nil)
		Expect(formatResult("acme", r)).To(Equal(
			"acme: ok, jobs 1 created / 0 updated / 0 failed, applications 0 created / 1 updated / 0 failed"))
	})
})

var _ = Describe("processOptions", func() {
	AfterEach(func() {
		for _, k := range []string{"process.connection", "process.event-type", "process.limit", "process.workers", "process.failed"} {
			viper.Set(k, nil)
		}
	})

	It("reads filters bound from flags", func() {
		viper.Set("process.connection", int64(9))
		viper.Set("process.event-type", "hire_completed")
		viper.Set("process.limit", 10)
		viper.Set("process.workers", 4)
		viper.Set("process.failed", true)

		opts, err := processOptions()
		Expect(err).NotTo(HaveOccurred())
		Expect(*opts.ConnectionID).To(Equal(int64(9)))
		Expect(*opts.EventType).To(Equal(model.EventHireCompleted))
		Expect(opts.Limit).To(Equal(10))
		Expect(opts.Workers).To(Equal(4))
		Expect(opts.OnlyFailed).To(BeTrue())
	})

	It("rejects unknown event types", func() {
		viper.Set("process.event-type", "bogus")
		viper.Set("process.limit", 5)
		viper.Set("process.workers", 1)
		_, err := processOptions()
		Expect(err).To(MatchError(ContainSubstring("unknown event type")))
	})
})
