package store

import (
	"jobboard.app/atsbridge/core/db"
)

type Stores struct {
	db db.DBTX
}

// NewStores binds Postgres-backed stores to a pool or a transaction.
func NewStores(conn db.DBTX) *Stores {
	return &Stores{db: conn}
}

func (s *Stores) Webhooks() WebhookStore {
	return newWebhookStore(s.db)
}

func (s *Stores) Connections() ConnectionStore {
	return newConnectionStore(s.db)
}

func (s *Stores) Jobs() JobStore {
	return newJobStore(s.db)
}

func (s *Stores) Candidates() CandidateStore {
	return newCandidateStore(s.db)
}

func (s *Stores) Applications() ApplicationStore {
	return newApplicationStore(s.db)
}
