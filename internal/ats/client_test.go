package ats_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"jobboard.app/atsbridge/common/id"
	"jobboard.app/atsbridge/core/config"
	"jobboard.app/atsbridge/internal/ats"
	"jobboard.app/atsbridge/internal/model"
	"jobboard.app/atsbridge/internal/store/memstore"
)

func TestATS(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "ATS Client Suite")
}

var _ = BeforeSuite(func() {
	Expect(id.Init(3)).To(Succeed())
})

type fakeProvider struct {
	mu       sync.Mutex
	requests []*http.Request
	pages    map[string][]string
	status   int
}

func (f *fakeProvider) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.requests = append(f.requests, r.Clone(context.Background()))
	f.mu.Unlock()

	if f.status != 0 {
		w.WriteHeader(f.status)
		_, _ = w.Write([]byte("nope"))
		return
	}

	pageNo, _ := strconv.Atoi(r.URL.Query().Get("page"))
	resource := r.URL.Path[1:]
	pages := f.pages[resource]

	resp := map[string]any{"data": []json.RawMessage{}, "has_more": false}
	if pageNo >= 1 && pageNo <= len(pages) {
		resp["data"] = json.RawMessage(pages[pageNo-1])
		resp["has_more"] = pageNo < len(pages)
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func (f *fakeProvider) Requests() []*http.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*http.Request(nil), f.requests...)
}

var _ = Describe("Client", func() {
	var (
		ctx    context.Context
		mem    *memstore.Store
		fake   *fakeProvider
		server *httptest.Server
		client *ats.Client
		conn   *model.Connection
	)

	BeforeEach(func() {
		ctx = context.Background()
		mem = memstore.New()
		fake = &fakeProvider{pages: map[string][]string{
			"jobs": {
				`[{"id":"J-1","title":"Engineer","location":"Berlin"},{"id":"J-2","title":"Designer"}]`,
				`[{"id":"J-3","title":"Recruiter"}]`,
			},
			"candidates":   {`[{"id":"C-1","email":"a@b.c"}]`},
			"applications": {`[{"id":"A-1","job_id":"J-1","candidate_id":"C-1"}]`},
		}}
		server = httptest.NewServer(fake)
		DeferCleanup(server.Close)

		providers := config.Providers{"lever": {BaseURL: server.URL}}
		client = ats.NewClient(providers, mem, ats.Config{RequestTimeout: 5 * time.Second, RetryMax: 1, PageSize: 2})

		conn = &model.Connection{
			ID: 7, Provider: "lever", Name: "acme", Active: true,
			Credentials: json.RawMessage(`{"api_key":"secret-key"}`),
		}
		Expect(mem.Connections().Create(ctx, conn)).To(Succeed())
	})

	It("pages through every resource and tallies created records", func() {
		result, err := client.Sync(ctx, conn, model.SyncFilters{Location: "Berlin", Department: "Eng"})
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Success).To(BeTrue())
		Expect(result.Counts[model.EntityJobs]).To(Equal(model.EntityCounts{Processed: 3, Created: 3}))
		Expect(result.Counts[model.EntityCandidates].Created).To(Equal(1))
		Expect(result.Counts[model.EntityApplications].Created).To(Equal(1))

		job, err := mem.Jobs().GetByExternalID(ctx, conn.ID, "J-1")
		Expect(err).NotTo(HaveOccurred())
		Expect(job.Location).To(Equal("Berlin"))

		reqs := fake.Requests()
		Expect(reqs).NotTo(BeEmpty())
		Expect(reqs[0].Header.Get("Authorization")).To(Equal("Bearer secret-key"))
		Expect(reqs[0].URL.Query().Get("location")).To(Equal("Berlin"))
		Expect(reqs[0].URL.Query().Get("department")).To(Equal("Eng"))
		Expect(reqs[0].URL.Query().Get("per_page")).To(Equal("2"))
	})

	It("counts a second sync as updates", func() {
		_, err := client.Sync(ctx, conn, model.SyncFilters{})
		Expect(err).NotTo(HaveOccurred())

		result, err := client.Sync(ctx, conn, model.SyncFilters{})
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Counts[model.EntityJobs]).To(Equal(model.EntityCounts{Processed: 3, Updated: 3}))
	})

	It("counts records without an id as failed and keeps going", func() {
		fake.pages["candidates"] = []string{`[{"email":"x@y.z"},{"id":"C-2"}]`}

		result, err := client.Sync(ctx, conn, model.SyncFilters{})
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Success).To(BeTrue())
		Expect(result.Counts[model.EntityCandidates]).To(Equal(model.EntityCounts{Processed: 2, Created: 1, Failed: 1}))
	})

	It("reports a provider rejection as a failed result", func() {
		fake.status = http.StatusUnauthorized

		result, err := client.Sync(ctx, conn, model.SyncFilters{})
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Success).To(BeFalse())
		Expect(result.Error).To(ContainSubstring("401"))
	})

	It("prefers a base url from the connection credentials", func() {
		conn.Provider = "greenhouse"
		conn.Credentials = json.RawMessage(`{"base_url":"` + server.URL + `"}`)
		client = ats.NewClient(config.Providers{"greenhouse": {BaseURL: "http://127.0.0.1:1", Resources: []string{"jobs"}}}, mem, ats.Config{})

		result, err := client.Sync(ctx, conn, model.SyncFilters{})
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Success).To(BeTrue())
		Expect(result.Counts).To(HaveKey(model.EntityJobs))
		Expect(result.Counts).NotTo(HaveKey(model.EntityCandidates))
	})

	It("rejects unknown providers", func() {
		conn.Provider = "bamboo"
		_, err := client.Sync(ctx, conn, model.SyncFilters{})
		Expect(err).To(MatchError(ats.ErrUnknownProvider))
	})
})
