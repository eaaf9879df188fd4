package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const DefaultSyncInterval = 15 * time.Minute

// Provider describes how one ATS vendor talks to us: where its API lives,
// how often we may sync against it, and how its webhook vocabulary maps
// onto our canonical event types.
type Provider struct {
	BaseURL         string            `yaml:"base_url"`
	MinSyncInterval time.Duration     `yaml:"min_sync_interval"`
	EventHeader     string            `yaml:"event_header"`
	EventField      string            `yaml:"event_field"`
	IDField         string            `yaml:"id_field"`
	SignatureHeader string            `yaml:"signature_header"`
	Events          map[string]string `yaml:"events"`
	Resources       []string          `yaml:"resources"`
}

type Providers map[string]Provider

type providersFile struct {
	Providers Providers `yaml:"providers"`
}

// LoadProviders reads the provider catalog from path. An empty path yields the
// built-in catalog; entries in the file override built-ins with the same name.
func LoadProviders(path string) (Providers, error) {
	catalog := defaultProviders()
	if path == "" {
		return catalog, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading providers file: %w", err)
	}

	parsed, err := ParseProviders(raw)
	if err != nil {
		return nil, err
	}
	for name, p := range parsed {
		catalog[name] = p
	}
	return catalog, nil
}

func ParseProviders(raw []byte) (Providers, error) {
	var file providersFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parsing providers file: %w", err)
	}

	out := make(Providers, len(file.Providers))
	for name, p := range file.Providers {
		out[strings.ToLower(strings.TrimSpace(name))] = p
	}
	return out, nil
}

func (p Providers) Get(name string) (Provider, bool) {
	provider, ok := p[strings.ToLower(name)]
	return provider, ok
}

// SyncInterval is the cool-down applied after every sync attempt.
func (p Providers) SyncInterval(name string) time.Duration {
	if provider, ok := p.Get(name); ok && provider.MinSyncInterval > 0 {
		return provider.MinSyncInterval
	}
	return DefaultSyncInterval
}

// MapEvent translates a provider event name into the canonical tag. Names
// without a mapping pass through unchanged and are validated by the caller.
func (p Provider) MapEvent(name string) string {
	if canonical, ok := p.Events[name]; ok {
		return canonical
	}
	return name
}

func (p Provider) EventFieldOrDefault() string {
	if p.EventField == "" {
		return "event"
	}
	return p.EventField
}

func (p Provider) IDFieldOrDefault() string {
	if p.IDField == "" {
		return "id"
	}
	return p.IDField
}

func (p Provider) SignatureHeaderOrDefault() string {
	if p.SignatureHeader == "" {
		return "X-Signature"
	}
	return p.SignatureHeader
}

func defaultProviders() Providers {
	return Providers{
		"greenhouse": {
			BaseURL:         "https://harvest.greenhouse.io/v1",
			MinSyncInterval: 15 * time.Minute,
			EventField:      "action",
			SignatureHeader: "Signature",
			Events: map[string]string{
				"job_created":                "job_created",
				"job_updated":                "job_updated",
				"new_candidate_application":  "application_submitted",
				"candidate_stage_change":     "application_updated",
				"prospect_created":           "candidate_created",
				"candidate_has_been_updated": "candidate_updated",
				"interview_scheduled":        "interview_scheduled",
				"offer_created":              "offer_extended",
				"candidate_has_been_hired":   "hire_completed",
			},
			Resources: []string{"jobs", "candidates", "applications"},
		},
		"lever": {
			BaseURL:         "https://api.lever.co/v1",
			MinSyncInterval: 10 * time.Minute,
			EventField:      "event",
			SignatureHeader: "X-Lever-Signature",
			Events: map[string]string{
				"applicationCreated":     "application_submitted",
				"candidateStageChange":   "application_updated",
				"candidateHired":         "hire_completed",
				"interviewCreated":       "interview_scheduled",
				"candidateArchiveChange": "candidate_updated",
			},
			Resources: []string{"jobs", "applications"},
		},
		"workable": {
			BaseURL:         "https://www.workable.com/spi/v3",
			MinSyncInterval: 30 * time.Minute,
			EventField:      "event_type",
			Events: map[string]string{
				"candidate_created": "candidate_created",
				"candidate_moved":   "application_updated",
			},
			Resources: []string{"jobs", "candidates"},
		},
	}
}
