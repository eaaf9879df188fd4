package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidPayload is returned when a payload is missing a field its event
// type cannot do without.
var ErrInvalidPayload = errors.New("invalid payload")

// Payload is the decoded, typed form of a webhook body. Each event type has
// exactly one concrete payload type.
type Payload interface {
	// EntityKey identifies the downstream entity the event touches, scoped to
	// the connection by the caller. Events on the same key are serialised.
	EntityKey() string
}

type JobPayload struct {
	ExternalID string          `json:"id" jsonschema:"required"`
	Title      string          `json:"title,omitempty"`
	Department string          `json:"department,omitempty"`
	Location   string          `json:"location,omitempty"`
	Status     string          `json:"status,omitempty"`
	Raw        json.RawMessage `json:"-"`
}

func (p JobPayload) EntityKey() string { return "job:" + p.ExternalID }

type CandidatePayload struct {
	ExternalID string          `json:"id" jsonschema:"required"`
	FirstName  string          `json:"first_name,omitempty"`
	LastName   string          `json:"last_name,omitempty"`
	Email      string          `json:"email,omitempty"`
	Raw        json.RawMessage `json:"-"`
}

func (p CandidatePayload) EntityKey() string { return "candidate:" + p.ExternalID }

type ApplicationPayload struct {
	ExternalID          string          `json:"id" jsonschema:"required"`
	ExternalJobID       string          `json:"job_id,omitempty"`
	ExternalCandidateID string          `json:"candidate_id,omitempty"`
	Status              string          `json:"status,omitempty"`
	Raw                 json.RawMessage `json:"-"`
}

func (p ApplicationPayload) EntityKey() string { return "application:" + p.ExternalID }

type InterviewPayload struct {
	ApplicationID string `json:"application_id" jsonschema:"required"`
	ScheduledAt   string `json:"scheduled_at,omitempty"`
	Interviewer   string `json:"interviewer,omitempty"`
}

func (p InterviewPayload) EntityKey() string { return "application:" + p.ApplicationID }

type OfferPayload struct {
	ApplicationID string   `json:"application_id" jsonschema:"required"`
	Salary        *float64 `json:"salary,omitempty"`
}

func (p OfferPayload) EntityKey() string { return "application:" + p.ApplicationID }

type HirePayload struct {
	ApplicationID string   `json:"application_id" jsonschema:"required"`
	FinalSalary   *float64 `json:"final_salary,omitempty"`
	StartDate     string   `json:"start_date,omitempty"`
}

func (p HirePayload) EntityKey() string { return "application:" + p.ApplicationID }

// PayloadPrototype returns a zero value of the payload type for eventType,
// or nil when the event carries no typed payload.
func PayloadPrototype(eventType EventType) Payload {
	switch eventType {
	case EventJobCreated, EventJobUpdated:
		return &JobPayload{}
	case EventCandidateCreated, EventCandidateUpdated:
		return &CandidatePayload{}
	case EventApplicationSubmitted, EventApplicationUpdated:
		return &ApplicationPayload{}
	case EventInterviewScheduled:
		return &InterviewPayload{}
	case EventOfferExtended:
		return &OfferPayload{}
	case EventHireCompleted:
		return &HirePayload{}
	default:
		return nil
	}
}

// DecodePayload turns a stored payload into its typed form. Providers disagree
// on key names and on whether numbers are quoted, so each field accepts a few
// aliases and numeric strings.
func DecodePayload(eventType EventType, raw json.RawMessage) (Payload, error) {
	if eventType == EventUnknown {
		return nil, nil
	}

	f, err := parseFields(raw)
	if err != nil {
		return nil, err
	}

	switch eventType {
	case EventJobCreated, EventJobUpdated:
		p := JobPayload{
			ExternalID: f.str("id", "job_id", "external_id"),
			Title:      f.str("title", "name"),
			Department: f.str("department"),
			Location:   f.str("location"),
			Status:     f.str("status"),
			Raw:        raw,
		}
		if p.ExternalID == "" {
			return nil, fmt.Errorf("%w: job id is required", ErrInvalidPayload)
		}
		return p, nil

	case EventCandidateCreated, EventCandidateUpdated:
		p := CandidatePayload{
			ExternalID: f.str("id", "candidate_id", "external_id"),
			FirstName:  f.str("first_name"),
			LastName:   f.str("last_name"),
			Email:      f.str("email"),
			Raw:        raw,
		}
		if p.ExternalID == "" {
			return nil, fmt.Errorf("%w: candidate id is required", ErrInvalidPayload)
		}
		return p, nil

	case EventApplicationSubmitted, EventApplicationUpdated:
		p := ApplicationPayload{
			ExternalID:          f.str("id", "application_id", "external_id"),
			ExternalJobID:       f.str("job_id"),
			ExternalCandidateID: f.str("candidate_id"),
			Status:              f.str("status", "stage"),
			Raw:                 raw,
		}
		if p.ExternalID == "" {
			return nil, fmt.Errorf("%w: application id is required", ErrInvalidPayload)
		}
		return p, nil

	case EventInterviewScheduled:
		p := InterviewPayload{
			ApplicationID: f.str("application_id"),
			ScheduledAt:   f.str("scheduled_at", "interview_date"),
			Interviewer:   f.str("interviewer"),
		}
		if p.ApplicationID == "" {
			return nil, fmt.Errorf("%w: application_id is required", ErrInvalidPayload)
		}
		return p, nil

	case EventOfferExtended:
		salary, err := f.num("salary", "offered_salary")
		if err != nil {
			return nil, err
		}
		p := OfferPayload{ApplicationID: f.str("application_id"), Salary: salary}
		if p.ApplicationID == "" {
			return nil, fmt.Errorf("%w: application_id is required", ErrInvalidPayload)
		}
		return p, nil

	case EventHireCompleted:
		salary, err := f.num("final_salary", "salary")
		if err != nil {
			return nil, err
		}
		p := HirePayload{
			ApplicationID: f.str("application_id"),
			FinalSalary:   salary,
			StartDate:     f.str("start_date"),
		}
		if p.ApplicationID == "" {
			return nil, fmt.Errorf("%w: application_id is required", ErrInvalidPayload)
		}
		return p, nil
	}

	return nil, fmt.Errorf("%w: unsupported event type %q", ErrInvalidPayload, eventType)
}

type fields map[string]json.RawMessage

func parseFields(raw json.RawMessage) (fields, error) {
	if len(raw) == 0 {
		return fields{}, nil
	}
	var f fields
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("%w: payload must be a JSON object: %v", ErrInvalidPayload, err)
	}
	return f, nil
}

// str returns the first alias holding a non-empty string or number.
func (f fields) str(keys ...string) string {
	for _, k := range keys {
		raw, ok := f[k]
		if !ok {
			continue
		}
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			if s = strings.TrimSpace(s); s != "" {
				return s
			}
			continue
		}
		var n json.Number
		if err := json.Unmarshal(raw, &n); err == nil && n != "" {
			return n.String()
		}
	}
	return ""
}

// num returns the first alias holding a number or numeric string. A present
// but non-numeric value is an error; an absent one is nil.
func (f fields) num(keys ...string) (*float64, error) {
	for _, k := range keys {
		raw, ok := f[k]
		if !ok || string(raw) == "null" {
			continue
		}
		var v float64
		if err := json.Unmarshal(raw, &v); err == nil {
			return &v, nil
		}
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			s = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(s), "$"))
			s = strings.ReplaceAll(s, ",", "")
			if s == "" {
				continue
			}
			parsed, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return nil, fmt.Errorf("%w: %s is not a number", ErrInvalidPayload, k)
			}
			return &parsed, nil
		}
		return nil, fmt.Errorf("%w: %s is not a number", ErrInvalidPayload, k)
	}
	return nil, nil
}

// FormatAmount renders a money amount without trailing zeros: 50000, 1250.5.
func FormatAmount(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
