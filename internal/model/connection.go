package model

import (
	"encoding/json"
	"time"
)

type Connection struct {
	ID             int64           `json:"id"`
	Provider       string          `json:"provider"`
	Name           string          `json:"name"`
	Active         bool            `json:"active"`
	Credentials    json.RawMessage `json:"-"`
	LastSyncedAt   *time.Time      `json:"last_synced_at,omitempty"`
	NextEligibleAt *time.Time      `json:"next_eligible_at,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// CanSync is true iff the connection is active and its cool-down has elapsed.
func (c *Connection) CanSync(now time.Time) bool {
	if !c.Active {
		return false
	}
	return c.NextEligibleAt == nil || !now.Before(*c.NextEligibleAt)
}

// ConnectionCredentials is the subset of the opaque credentials blob we read.
// Unknown keys are ignored.
type ConnectionCredentials struct {
	APIKey        string `json:"api_key"`
	BaseURL       string `json:"base_url"`
	WebhookSecret string `json:"webhook_secret"`
}

func (c *Connection) ParseCredentials() (ConnectionCredentials, error) {
	var creds ConnectionCredentials
	if len(c.Credentials) == 0 {
		return creds, nil
	}
	if err := json.Unmarshal(c.Credentials, &creds); err != nil {
		return ConnectionCredentials{}, err
	}
	return creds, nil
}
