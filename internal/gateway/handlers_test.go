package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/lvonguyen/intelforge/internal/engine"
	"github.com/lvonguyen/intelforge/internal/intel"
	"github.com/lvonguyen/intelforge/internal/source"
	"github.com/lvonguyen/intelforge/internal/store"
	"github.com/lvonguyen/intelforge/internal/validate"
)

// ============================================================================
// Test fixtures
// ============================================================================

type okResolver struct{}

func (okResolver) LookupMX(ctx context.Context, name string) ([]*net.MX, error) {
	return []*net.MX{{Host: "mx." + name}}, nil
}

func (okResolver) LookupHost(ctx context.Context, host string) ([]string, error) {
	return []string{"203.0.113.1"}, nil
}

type okDialer struct{}

func (okDialer) DialTLS(ctx context.Context, addr string) error { return nil }

// stubCollector returns a fixed record set, or blocks when records is nil.
type stubCollector struct {
	name    string
	records []map[string]any

	mu      sync.Mutex
	started chan struct{} // closed on first Collect when non-nil
}

func (c *stubCollector) Name() string { return c.name }

func (c *stubCollector) Capabilities() source.Capabilities {
	return source.Capabilities{
		EntityTypes:   []intel.EntityType{intel.EntityContactEmail, intel.EntityContactPhone},
		Tier:          1,
		RatePerMinute: 600,
		Burst:         20,
	}
}

func (c *stubCollector) Mapping() source.FieldMapping {
	return source.FieldMapping{
		"email": intel.EntityContactEmail,
		"phone": intel.EntityContactPhone,
	}
}

func (c *stubCollector) Collect(ctx context.Context, req source.CollectRequest) (source.RecordStream, error) {
	c.mu.Lock()
	if c.started != nil {
		close(c.started)
		c.started = nil
	}
	c.mu.Unlock()

	if c.records == nil {
		return parkedStream{}, nil
	}
	recs := make([]intel.RawRecord, len(c.records))
	for i, p := range c.records {
		recs[i] = intel.RawRecord{SourceID: c.name, FetchedAt: time.Now().UTC(), Payload: p}
	}
	return source.NewSliceStream(c.name, recs, nil), nil
}

func (c *stubCollector) HealthCheck(ctx context.Context) error { return nil }

type parkedStream struct{}

func (parkedStream) Next(ctx context.Context) (intel.RawRecord, error) {
	<-ctx.Done()
	return intel.RawRecord{}, ctx.Err()
}

func newTestServer(t *testing.T, collectors ...source.Collector) (*httptest.Server, *engine.Engine) {
	t.Helper()
	registry := source.NewRegistry()
	for _, c := range collectors {
		if err := registry.Register(c); err != nil {
			t.Fatalf("Register(%s) failed: %v", c.Name(), err)
		}
	}
	validator := validate.New(validate.DefaultConfig(), nil,
		validate.WithResolver(okResolver{}), validate.WithDialer(okDialer{}))

	defaults := engine.DefaultInvestigationConfig()
	defaults.RetryBaseDelay = time.Millisecond
	defaults.RetryMaxDelay = 5 * time.Millisecond

	eng, err := engine.New(engine.Options{
		Registry:  registry,
		Store:     store.NewMemory(),
		Validator: validator,
		Defaults:  defaults,
	})
	if err != nil {
		t.Fatalf("engine.New failed: %v", err)
	}

	r := chi.NewRouter()
	r.Route("/api/v1", NewAPI(eng, registry, nil).Routes)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, eng
}

func submitInvestigation(t *testing.T, srv *httptest.Server, body string) intel.Investigation {
	t.Helper()
	resp, err := http.Post(srv.URL+"/api/v1/investigations", "application/json", bytes.NewBufferString(body))
	if err != nil {
		t.Fatalf("POST investigations failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("submit status = %d, want 202", resp.StatusCode)
	}
	var inv intel.Investigation
	if err := json.NewDecoder(resp.Body).Decode(&inv); err != nil {
		t.Fatalf("decode submit response: %v", err)
	}
	if inv.ID == "" {
		t.Fatal("submit response missing investigation id")
	}
	return inv
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s failed: %v", url, err)
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
	return resp.StatusCode
}

// ============================================================================
// Investigation round trip
// ============================================================================

// TestAPI_SubmitGetRoundTrip drives an investigation through the HTTP
// surface: submit, poll the terminal state, read findings back.
func TestAPI_SubmitGetRoundTrip(t *testing.T) {
	collector := &stubCollector{
		name:    "directory",
		records: []map[string]any{{"email": "info@acme.sa", "phone": "+966501234567"}},
	}
	srv, eng := newTestServer(t, collector)

	inv := submitInvestigation(t, srv,
		`{"target":"acme","target_class":"business_category"}`)

	waitCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := eng.Wait(waitCtx, inv.ID); err != nil {
		t.Fatalf("Wait failed: %v", err)
	}

	var got intel.Investigation
	if status := getJSON(t, srv.URL+"/api/v1/investigations/"+inv.ID, &got); status != http.StatusOK {
		t.Fatalf("get status = %d, want 200", status)
	}
	if got.State != intel.StateCompleted {
		t.Errorf("state = %q, want completed", got.State)
	}

	var findings struct {
		Count int `json:"count"`
	}
	if status := getJSON(t, srv.URL+"/api/v1/investigations/"+inv.ID+"/findings", &findings); status != http.StatusOK {
		t.Fatalf("findings status = %d, want 200", status)
	}
	if findings.Count != 2 {
		t.Errorf("findings count = %d, want 2", findings.Count)
	}

	var entities struct {
		Count    int            `json:"count"`
		Entities []intel.Entity `json:"entities"`
	}
	if status := getJSON(t, srv.URL+"/api/v1/investigations/"+inv.ID+"/entities?min_confidence=0.99", &entities); status != http.StatusOK {
		t.Fatalf("entities status = %d, want 200", status)
	}
	for _, ent := range entities.Entities {
		if ent.AggregateConfidence < 0.99 {
			t.Errorf("entity %s below the requested confidence floor: %v", ent.ID, ent.AggregateConfidence)
		}
	}
}

// TestAPI_SubmitValidation verifies bad submissions come back as 400s.
func TestAPI_SubmitValidation(t *testing.T) {
	srv, _ := newTestServer(t)

	for name, body := range map[string]string{
		"empty target":  `{"target_class":"business_category"}`,
		"unknown class": `{"target":"acme","target_class":"bogus"}`,
		"not json":      `{{{`,
	} {
		resp, err := http.Post(srv.URL+"/api/v1/investigations", "application/json", bytes.NewBufferString(body))
		if err != nil {
			t.Fatalf("%s: POST failed: %v", name, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", name, resp.StatusCode)
		}
	}
}

// TestAPI_GetMissing verifies unknown ids are 404s.
func TestAPI_GetMissing(t *testing.T) {
	srv, _ := newTestServer(t)
	if status := getJSON(t, srv.URL+"/api/v1/investigations/nope", nil); status != http.StatusNotFound {
		t.Errorf("status = %d, want 404", status)
	}
}

// ============================================================================
// Cancellation
// ============================================================================

// TestAPI_Cancel verifies cancelling over HTTP interrupts a running
// investigation, and that cancelling one that is not running is a conflict.
func TestAPI_Cancel(t *testing.T) {
	started := make(chan struct{})
	collector := &stubCollector{name: "slow", started: started}
	srv, eng := newTestServer(t, collector)

	inv := submitInvestigation(t, srv,
		`{"target":"acme","target_class":"business_category"}`)
	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("collector never started")
	}

	resp, err := http.Post(srv.URL+"/api/v1/investigations/"+inv.ID+"/cancel", "application/json", nil)
	if err != nil {
		t.Fatalf("POST cancel failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("cancel status = %d, want 200", resp.StatusCode)
	}

	waitCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := eng.Wait(waitCtx, inv.ID); err != nil {
		t.Fatalf("Wait failed: %v", err)
	}

	var got intel.Investigation
	if status := getJSON(t, srv.URL+"/api/v1/investigations/"+inv.ID, &got); status != http.StatusOK {
		t.Fatalf("get status = %d, want 200", status)
	}
	if got.State != intel.StateCancelled {
		t.Errorf("state = %q, want cancelled", got.State)
	}

	resp, err = http.Post(srv.URL+"/api/v1/investigations/"+inv.ID+"/cancel", "application/json", nil)
	if err != nil {
		t.Fatalf("POST second cancel failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("cancel of terminal investigation = %d, want 409", resp.StatusCode)
	}
}

// ============================================================================
// Sources
// ============================================================================

// TestAPI_Sources verifies the source inventory endpoint.
func TestAPI_Sources(t *testing.T) {
	srv, _ := newTestServer(t,
		&stubCollector{name: "directory", records: []map[string]any{}},
	)

	var out struct {
		Count   int `json:"count"`
		Sources []struct {
			ID   string `json:"id"`
			Tier int    `json:"tier"`
		} `json:"sources"`
	}
	if status := getJSON(t, srv.URL+"/api/v1/sources", &out); status != http.StatusOK {
		t.Fatalf("status = %d, want 200", status)
	}
	if out.Count != 1 || len(out.Sources) != 1 {
		t.Fatalf("source inventory = %+v", out)
	}
	if out.Sources[0].ID != "directory" || out.Sources[0].Tier != 1 {
		t.Errorf("source = %+v", out.Sources[0])
	}
}
