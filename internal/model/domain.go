package model

import (
	"encoding/json"
	"time"
)

type ApplicationStatus string

const (
	ApplicationStatusInterview ApplicationStatus = "interview"
	ApplicationStatusOffer     ApplicationStatus = "offer"
	ApplicationStatusHired     ApplicationStatus = "hired"
)

type Job struct {
	ID           int64           `json:"id"`
	ConnectionID int64           `json:"connection_id"`
	ExternalID   string          `json:"external_id"`
	Title        string          `json:"title"`
	Department   string          `json:"department"`
	Location     string          `json:"location"`
	Status       string          `json:"status"`
	Data         json.RawMessage `json:"data,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

type Candidate struct {
	ID           int64           `json:"id"`
	ConnectionID int64           `json:"connection_id"`
	ExternalID   string          `json:"external_id"`
	FirstName    string          `json:"first_name"`
	LastName     string          `json:"last_name"`
	Email        string          `json:"email"`
	Data         json.RawMessage `json:"data,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

type Application struct {
	ID                  int64             `json:"id"`
	ConnectionID        int64             `json:"connection_id"`
	ExternalID          string            `json:"external_id"`
	ExternalJobID       string            `json:"external_job_id"`
	ExternalCandidateID string            `json:"external_candidate_id"`
	Status              ApplicationStatus `json:"status"`
	Salary              *float64          `json:"salary,omitempty"`
	Notes               string            `json:"notes"`
	NoteKeys            []string          `json:"-"`
	Data                json.RawMessage   `json:"data,omitempty"`
	CreatedAt           time.Time         `json:"created_at"`
	UpdatedAt           time.Time         `json:"updated_at"`
}

func (a *Application) HasNote(key string) bool {
	for _, k := range a.NoteKeys {
		if k == key {
			return true
		}
	}
	return false
}
