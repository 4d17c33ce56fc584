package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/lvonguyen/intelforge/internal/intel"
)

// APICollector is the shared adapter for sources that expose a JSON search
// API: a base URL, an API key in the environment, and a paged result list.
// The concrete sources this engine ships with (web search, business
// directories, social profiles) are all instances of it; anything needing a
// bespoke protocol implements Collector directly.
type APICollector struct {
	def        *SourceDefinition
	apiKey     string
	httpClient *http.Client
	timeout    time.Duration
}

// NewAPICollector builds an adapter from a catalog definition. The API key is
// resolved from the environment once, at construction.
func NewAPICollector(def *SourceDefinition, timeout time.Duration) (*APICollector, error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}
	if def.BaseURL == "" {
		return nil, fmt.Errorf("source %q: base_url required for API collector", def.ID)
	}

	apiKey := ""
	if def.APIKeyEnv != "" {
		apiKey = os.Getenv(def.APIKeyEnv)
		if apiKey == "" {
			return nil, fmt.Errorf("source %q: API key not found in env var %s", def.ID, def.APIKeyEnv)
		}
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &APICollector{
		def:        def,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
		timeout:    timeout,
	}, nil
}

// Name returns the source id.
func (a *APICollector) Name() string { return a.def.ID }

// Capabilities returns the declared capability set.
func (a *APICollector) Capabilities() Capabilities { return a.def.Capabilities() }

// Mapping returns the declared payload field mapping.
func (a *APICollector) Mapping() FieldMapping { return a.def.FieldMapping() }

// HealthCheck probes the API root.
func (a *APICollector) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.def.BaseURL, nil)
	if err != nil {
		return fmt.Errorf("creating health check request: %w", err)
	}
	a.setAuth(req)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s health check: %w", a.def.ID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("%s returned status %d", a.def.ID, resp.StatusCode)
	}
	return nil
}

// Collect starts a paged query for the target. The stream fetches one page at
// a time, so records are produced lazily and cancellation is observed between
// pages as well as between records.
func (a *APICollector) Collect(ctx context.Context, req CollectRequest) (RecordStream, error) {
	q := url.Values{}
	q.Set("q", req.Target)
	if len(req.Keywords) > 0 {
		q.Set("keywords", strings.Join(req.Keywords, ","))
	}
	if req.SearchDepth != "" {
		q.Set("depth", req.SearchDepth)
	}

	client := a.httpClient
	if req.ProxyURL != "" {
		proxyURL, err := url.Parse(req.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy url: %w", err)
		}
		client = &http.Client{
			Timeout:   a.timeout,
			Transport: &http.Transport{Proxy: http.ProxyURL(proxyURL)},
		}
	}

	return &pagedStream{
		collector: a,
		client:    client,
		nextURL:   a.def.BaseURL + "/search?" + q.Encode(),
	}, nil
}

func (a *APICollector) setAuth(req *http.Request) {
	if a.apiKey != "" {
		req.Header.Set("X-API-KEY", a.apiKey)
	}
	req.Header.Set("Accept", "application/json")
}

// searchPage is the wire shape every bundled API source agrees on.
type searchPage struct {
	Results []json.RawMessage `json:"results"`
	Next    string            `json:"next"`
}

// pagedStream drains one collection run. Not safe for concurrent use — a
// stream belongs to exactly one task.
type pagedStream struct {
	collector *APICollector
	client    *http.Client
	nextURL   string
	page      []json.RawMessage
	pos       int
	done      bool
}

func (s *pagedStream) Next(ctx context.Context) (intel.RawRecord, error) {
	for {
		if err := ctx.Err(); err != nil {
			return intel.RawRecord{}, err
		}
		if s.pos < len(s.page) {
			raw := s.page[s.pos]
			s.pos++

			var payload map[string]any
			if err := json.Unmarshal(raw, &payload); err != nil {
				return intel.RawRecord{}, &ParseError{
					SourceID: s.collector.def.ID,
					Detail:   "result element is not an object",
					Err:      err,
				}
			}
			return intel.RawRecord{
				SourceID:  s.collector.def.ID,
				FetchedAt: time.Now().UTC(),
				Payload:   payload,
			}, nil
		}
		if s.done {
			return intel.RawRecord{}, io.EOF
		}
		if err := s.fetchPage(ctx); err != nil {
			return intel.RawRecord{}, err
		}
	}
}

func (s *pagedStream) fetchPage(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.nextURL, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	s.collector.setAuth(req)

	resp, err := s.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || os.IsTimeout(err) {
			return fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", ErrRateLimited, s.collector.def.ID)
	case resp.StatusCode >= http.StatusInternalServerError:
		return fmt.Errorf("%w: status %d", ErrSourceUnavailable, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("%w: unexpected status %d", ErrSourceUnavailable, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return fmt.Errorf("%w: reading response: %v", ErrSourceUnavailable, err)
	}

	var page searchPage
	if err := json.Unmarshal(body, &page); err != nil {
		return fmt.Errorf("%w: undecodable page: %v", ErrSourceUnavailable, err)
	}

	s.page = page.Results
	s.pos = 0
	if page.Next == "" {
		s.done = true
	} else {
		next := page.Next
		if strings.HasPrefix(next, "/") {
			next = s.collector.def.BaseURL + next
		}
		s.nextURL = next
	}
	return nil
}
