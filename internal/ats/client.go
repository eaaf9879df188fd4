// Package ats pulls jobs, candidates and applications from provider APIs
// into the local domain tables.
package ats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"jobboard.app/atsbridge/common/id"
	"jobboard.app/atsbridge/core/config"
	"jobboard.app/atsbridge/internal/model"
	"jobboard.app/atsbridge/internal/store"
)

const (
	defaultPageSize = 100
	maxPages        = 200
)

var ErrUnknownProvider = errors.New("unknown provider")

type Config struct {
	RequestTimeout time.Duration
	RetryMax       int
	PageSize       int
}

// Client implements syncer.Client over the providers' REST APIs.
type Client struct {
	http      *retryablehttp.Client
	providers config.Providers
	stores    store.Provider
	pageSize  int
}

func NewClient(providers config.Providers, stores store.Provider, cfg Config) *Client {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = defaultPageSize
	}

	rc := retryablehttp.NewClient()
	rc.RetryMax = cfg.RetryMax
	if rc.RetryMax <= 0 {
		rc.RetryMax = 3
	}
	rc.RetryWaitMin = 500 * time.Millisecond
	rc.RetryWaitMax = 10 * time.Second
	rc.Logger = slog.Default()
	rc.HTTPClient = &http.Client{
		Timeout:   cfg.RequestTimeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}

	return &Client{
		http:      rc,
		providers: providers,
		stores:    stores,
		pageSize:  cfg.PageSize,
	}
}

// page is the envelope every provider adapter is normalised to.
type page struct {
	Data    []json.RawMessage `json:"data"`
	HasMore bool              `json:"has_more"`
}

var resourceKinds = map[string]struct {
	kind  model.EntityKind
	event model.EventType
}{
	"jobs":         {model.EntityJobs, model.EventJobUpdated},
	"candidates":   {model.EntityCandidates, model.EventCandidateUpdated},
	"applications": {model.EntityApplications, model.EventApplicationUpdated},
}

func (c *Client) Sync(ctx context.Context, conn *model.Connection, filters model.SyncFilters) (model.SyncResult, error) {
	provider, ok := c.providers.Get(conn.Provider)
	if !ok {
		return model.SyncResult{}, fmt.Errorf("%w: %s", ErrUnknownProvider, conn.Provider)
	}
	creds, err := conn.ParseCredentials()
	if err != nil {
		return model.SyncResult{}, fmt.Errorf("parsing credentials: %w", err)
	}

	baseURL := strings.TrimRight(provider.BaseURL, "/")
	if creds.BaseURL != "" {
		baseURL = strings.TrimRight(creds.BaseURL, "/")
	}
	if baseURL == "" {
		return model.SyncResult{}, fmt.Errorf("no base url for provider %s", conn.Provider)
	}

	resources := provider.Resources
	if len(resources) == 0 {
		resources = []string{"jobs", "candidates", "applications"}
	}

	result := model.SyncResult{Success: true}
	for _, resource := range resources {
		rk, ok := resourceKinds[resource]
		if !ok {
			slog.WarnContext(ctx, "skipping unsupported resource", "resource", resource)
			continue
		}
		if err := c.syncResource(ctx, conn, baseURL, creds.APIKey, resource, rk.kind, rk.event, filters, &result); err != nil {
			result.Success = false
			result.Error = err.Error()
			return result, nil
		}
	}
	return result, nil
}

func (c *Client) syncResource(
	ctx context.Context,
	conn *model.Connection,
	baseURL, apiKey, resource string,
	kind model.EntityKind,
	event model.EventType,
	filters model.SyncFilters,
	result *model.SyncResult,
) error {
	for pageNo := 1; pageNo <= maxPages; pageNo++ {
		p, err := c.fetchPage(ctx, baseURL, apiKey, resource, pageNo, filters)
		if err != nil {
			return fmt.Errorf("fetching %s page %d: %w", resource, pageNo, err)
		}

		for _, raw := range p.Data {
			created, err := c.upsert(ctx, conn, event, raw)
			if err != nil {
				slog.WarnContext(ctx, "failed to upsert synced record", "resource", resource, "error", err)
			}
			result.Add(kind, created, err)
		}

		if !p.HasMore || len(p.Data) == 0 {
			return nil
		}
	}
	slog.WarnContext(ctx, "stopped paging at limit", "resource", resource, "max_pages", maxPages)
	return nil
}

func (c *Client) fetchPage(ctx context.Context, baseURL, apiKey, resource string, pageNo int, filters model.SyncFilters) (*page, error) {
	q := url.Values{}
	q.Set("page", strconv.Itoa(pageNo))
	q.Set("per_page", strconv.Itoa(c.pageSize))
	if filters.Location != "" {
		q.Set("location", filters.Location)
	}
	if filters.Keywords != "" {
		q.Set("keywords", filters.Keywords)
	}
	if filters.Department != "" {
		q.Set("department", filters.Department)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/"+resource+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var p page
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	return &p, nil
}

// upsert reuses the webhook payload decoding so synced and pushed records
// land identically.
func (c *Client) upsert(ctx context.Context, conn *model.Connection, event model.EventType, raw json.RawMessage) (bool, error) {
	payload, err := model.DecodePayload(event, raw)
	if err != nil {
		return false, err
	}

	switch p := payload.(type) {
	case model.JobPayload:
		return c.stores.Jobs().Upsert(ctx, &model.Job{
			ID: id.New(), ConnectionID: conn.ID, ExternalID: p.ExternalID,
			Title: p.Title, Department: p.Department, Location: p.Location, Status: p.Status, Data: p.Raw,
		})
	case model.CandidatePayload:
		return c.stores.Candidates().Upsert(ctx, &model.Candidate{
			ID: id.New(), ConnectionID: conn.ID, ExternalID: p.ExternalID,
			FirstName: p.FirstName, LastName: p.LastName, Email: p.Email, Data: p.Raw,
		})
	case model.ApplicationPayload:
		return c.stores.Applications().Upsert(ctx, &model.Application{
			ID: id.New(), ConnectionID: conn.ID, ExternalID: p.ExternalID,
			ExternalJobID: p.ExternalJobID, ExternalCandidateID: p.ExternalCandidateID,
			Status: model.ApplicationStatus(p.Status), Data: p.Raw,
		})
	}
	return false, fmt.Errorf("unsupported payload %T", payload)
}
