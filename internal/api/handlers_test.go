package api

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"testing"
	"time"

	"updown-mm/internal/config"
)

type fakeProvider struct {
	markets  []MarketStatus
	bankroll BankrollStatus
	exposure float64
}

func (f *fakeProvider) MarketsStatus() []MarketStatus  { return f.markets }
func (f *fakeProvider) BankrollStatus() BankrollStatus { return f.bankroll }
func (f *fakeProvider) TotalExposure() float64         { return f.exposure }

func testHandlers(provider SnapshotProvider) *Handlers {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := config.Config{ExecutionMode: "paper"}
	cfg.Normalize()
	return NewHandlers(provider, cfg, NewHub(logger), logger)
}

func TestIsOriginAllowed(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		origin  string
		cfg     config.StatusConfig
		reqHost string
		want    bool
	}{
		{
			name:    "empty origin is allowed",
			origin:  "",
			cfg:     config.StatusConfig{},
			reqHost: "localhost:8080",
			want:    true,
		},
		{
			name:    "localhost origin allowed by default",
			origin:  "http://localhost:8080",
			cfg:     config.StatusConfig{},
			reqHost: "localhost:8080",
			want:    true,
		},
		{
			name:    "non-local origin denied by default",
			origin:  "https://evil.example",
			cfg:     config.StatusConfig{},
			reqHost: "localhost:8080",
			want:    false,
		},
		{
			name:    "allowlist permits exact origin",
			origin:  "https://status.example.com",
			cfg:     config.StatusConfig{AllowedOrigins: []string{"https://status.example.com"}},
			reqHost: "0.0.0.0:8080",
			want:    true,
		},
		{
			name:    "allowlist denies everything else",
			origin:  "https://evil.example",
			cfg:     config.StatusConfig{AllowedOrigins: []string{"https://status.example.com"}},
			reqHost: "0.0.0.0:8080",
			want:    false,
		},
		{
			name:    "same host allowed when no allowlist",
			origin:  "https://mm.internal:8080",
			cfg:     config.StatusConfig{},
			reqHost: "mm.internal:8080",
			want:    true,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := isOriginAllowed(tt.origin, tt.cfg, tt.reqHost); got != tt.want {
				t.Fatalf("isOriginAllowed(%q) = %v, want %v", tt.origin, got, tt.want)
			}
		})
	}
}

func TestHandleHealth(t *testing.T) {
	t.Parallel()
	h := testHandlers(&fakeProvider{})

	rec := httptest.NewRecorder()
	h.HandleHealth(rec, httptest.NewRequest("GET", "/health", nil))

	if rec.Code != 200 {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("body not JSON: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status field = %q, want ok", body["status"])
	}
}

func TestHandleSnapshot(t *testing.T) {
	t.Parallel()
	provider := &fakeProvider{
		markets: []MarketStatus{{
			Slug:            "btc-updown-15m-1756100700",
			Series:          "btc-15m",
			EndTime:         time.Date(2026, 8, 25, 12, 15, 0, 0, time.UTC),
			Up:              LegStatus{Token: "tok-up", BestBid: 0.62, BestAsk: 0.64},
			Down:            LegStatus{Token: "tok-down", BestBid: 0.34, BestAsk: 0.36},
			CompleteSetEdge: 0.04,
		}},
		bankroll: BankrollStatus{Mode: "FIXED", Effective: 1000},
		exposure: 6.2,
	}
	h := testHandlers(provider)

	rec := httptest.NewRecorder()
	h.HandleSnapshot(rec, httptest.NewRequest("GET", "/api/snapshot", nil))

	if rec.Code != 200 {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var snap StatusSnapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatalf("snapshot not JSON: %v", err)
	}
	if len(snap.Markets) != 1 || snap.Markets[0].Slug != "btc-updown-15m-1756100700" {
		t.Errorf("markets = %+v, want the provider's market", snap.Markets)
	}
	if snap.Bankroll.Effective != 1000 {
		t.Errorf("bankroll = %+v, want effective 1000", snap.Bankroll)
	}
	if snap.TotalExposure != 6.2 {
		t.Errorf("exposure = %v, want 6.2", snap.TotalExposure)
	}
	if snap.ExecutionMode != "paper" {
		t.Errorf("mode = %q, want paper", snap.ExecutionMode)
	}
}
