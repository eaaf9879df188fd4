package model

type EntityKind string

const (
	EntityJobs         EntityKind = "jobs"
	EntityCandidates   EntityKind = "candidates"
	EntityApplications EntityKind = "applications"
)

type EntityCounts struct {
	Processed int `json:"processed"`
	Created   int `json:"created"`
	Updated   int `json:"updated"`
	Failed    int `json:"failed"`
}

type SyncFilters struct {
	Location   string `json:"location,omitempty"`
	Keywords   string `json:"keywords,omitempty"`
	Department string `json:"department,omitempty"`
}

// SyncResult is what one sync attempt against one connection produced.
type SyncResult struct {
	Success bool                        `json:"success"`
	Counts  map[EntityKind]EntityCounts `json:"counts,omitempty"`
	Error   string                      `json:"error,omitempty"`
}

func FailedSync(msg string) SyncResult {
	return SyncResult{Success: false, Error: msg}
}

// Add folds one upsert into the counters for kind.
func (r *SyncResult) Add(kind EntityKind, created bool, err error) {
	if r.Counts == nil {
		r.Counts = make(map[EntityKind]EntityCounts)
	}
	c := r.Counts[kind]
	c.Processed++
	switch {
	case err != nil:
		c.Failed++
	case created:
		c.Created++
	default:
		c.Updated++
	}
	r.Counts[kind] = c
}
