package store_test

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"jobboard.app/atsbridge/internal/model"
	"jobboard.app/atsbridge/internal/store"
)

var _ = Describe("Postgres ApplicationStore", func() {
	var (
		ctx  context.Context
		apps store.ApplicationStore
		app  *model.Application
	)

	BeforeEach(func() {
		ctx = context.Background()
		truncate(ctx)
		stores := store.NewStores(database.Conn())
		apps = stores.Applications()

		Expect(stores.Connections().Create(ctx, &model.Connection{ID: 1, Provider: "greenhouse", Name: "acme", Active: true})).To(Succeed())
		app = &model.Application{ID: 100, ConnectionID: 1, ExternalID: "A-1", Status: model.ApplicationStatus("applied")}
		created, err := apps.Upsert(ctx, app)
		Expect(err).NotTo(HaveOccurred())
		Expect(created).To(BeTrue())
	})

	It("appends each note once per key", func() {
		added, err := apps.AppendNote(ctx, app.ID, "webhook:1", "Interview scheduled")
		Expect(err).NotTo(HaveOccurred())
		Expect(added).To(BeTrue())

		added, err = apps.AppendNote(ctx, app.ID, "webhook:1", "Interview scheduled")
		Expect(err).NotTo(HaveOccurred())
		Expect(added).To(BeFalse())

		added, err = apps.AppendNote(ctx, app.ID, "webhook:2", "Offer extended")
		Expect(err).NotTo(HaveOccurred())
		Expect(added).To(BeTrue())

		got, err := apps.GetByExternalID(ctx, 1, "A-1")
		Expect(err).NotTo(HaveOccurred())
		Expect(got.Notes).To(Equal("Interview scheduled\nOffer extended"))
		Expect(got.HasNote("webhook:2")).To(BeTrue())
	})

	It("reports missing applications", func() {
		_, err := apps.AppendNote(ctx, 999, "webhook:1", "x")
		Expect(err).To(MatchError(store.ErrNotFound))
		Expect(apps.UpdateStatus(ctx, 999, model.ApplicationStatusHired, nil)).To(MatchError(store.ErrNotFound))
	})

	It("keeps salary and notes across upserts", func() {
		salary := 50000.0
		Expect(apps.UpdateStatus(ctx, app.ID, model.ApplicationStatusOffer, &salary)).To(Succeed())
		_, err := apps.AppendNote(ctx, app.ID, "webhook:1", "Offer extended")
		Expect(err).NotTo(HaveOccurred())

		created, err := apps.Upsert(ctx, &model.Application{ID: 101, ConnectionID: 1, ExternalID: "A-1"})
		Expect(err).NotTo(HaveOccurred())
		Expect(created).To(BeFalse())

		got, err := apps.GetByExternalID(ctx, 1, "A-1")
		Expect(err).NotTo(HaveOccurred())
		Expect(got.ID).To(Equal(app.ID))
		Expect(got.Status).To(Equal(model.ApplicationStatusOffer))
		Expect(*got.Salary).To(Equal(salary))
		Expect(got.Notes).To(Equal("Offer extended"))
	})
})
