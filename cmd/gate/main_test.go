package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/0gfoundation/0g-x402-gate/internal/config"
	"github.com/0gfoundation/0g-x402-gate/internal/facilitator"
	"github.com/0gfoundation/0g-x402-gate/internal/journal"
	"github.com/0gfoundation/0g-x402-gate/internal/metrics"
	"github.com/0gfoundation/0g-x402-gate/internal/nullifier"
	"github.com/0gfoundation/0g-x402-gate/internal/scheme"
	"github.com/0gfoundation/0g-x402-gate/internal/upstream"
	"github.com/0gfoundation/0g-x402-gate/internal/x402"
)

func init() { gin.SetMode(gin.TestMode) }

// ── helpers ───────────────────────────────────────────────────────────────────

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	return redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func testConfig() *config.Config {
	return &config.Config{
		Gate: config.GateConfig{
			PayTo:         "0x1111111111111111111111111111111111111111",
			Network:       "eip155:10143",
			Price:         "$0.01",
			ResourceURL:   "http://localhost:8080/api/premium",
			MaxTimeoutSec: 60,
		},
		Facilitator: config.FacilitatorConfig{URL: "http://127.0.0.1:1", TimeoutSec: 1},
		Nullifier:   config.NullifierConfig{Backend: config.BackendMemory},
		Assets: []config.AssetConfig{{
			Network:  "eip155:10143",
			Address:  "0x534b2f3A21130d7a60830c2Df862319e593943A3",
			Name:     "USDC",
			Version:  "2",
			Decimals: 6,
		}},
	}
}

func newTestServer(t *testing.T, cfg *config.Config, store nullifier.Store) *httptest.Server {
	t.Helper()
	rec := metrics.NewPrometheusRecorder()
	fac := facilitator.NewClient(cfg.Facilitator.URL, 0)
	h, err := buildHandler(cfg, fac, store, journal.NewLog(zap.NewNop()), rec, upstream.NewStatic("answer"), zap.NewNop())
	if err != nil {
		t.Fatalf("buildHandler: %v", err)
	}
	srv := httptest.NewServer(newRouter(h, rec, zap.NewNop()))
	t.Cleanup(srv.Close)
	return srv
}

// ── buildStore ────────────────────────────────────────────────────────────────

func TestBuildStore_Memory(t *testing.T) {
	store, closeFn, err := buildStore(context.Background(), testConfig(), nil, zap.NewNop())
	if err != nil {
		t.Fatalf("buildStore: %v", err)
	}
	defer closeFn()
	if _, ok := store.(*nullifier.MemoryStore); !ok {
		t.Errorf("store: got %T", store)
	}
}

func TestBuildStore_Redis(t *testing.T) {
	cfg := testConfig()
	cfg.Nullifier.Backend = config.BackendRedis
	store, closeFn, err := buildStore(context.Background(), cfg, newTestRedis(t), zap.NewNop())
	if err != nil {
		t.Fatalf("buildStore: %v", err)
	}
	defer closeFn()
	if _, ok := store.(*nullifier.RedisStore); !ok {
		t.Errorf("store: got %T", store)
	}
	ok, err := store.TryConsume(context.Background(), "aa")
	if err != nil || !ok {
		t.Errorf("TryConsume: %v %v", ok, err)
	}
}

func TestBuildStore_TTLWarning(t *testing.T) {
	cfg := testConfig()
	cfg.Nullifier.TTLSec = 3600
	core, logs := observer.New(zap.WarnLevel)

	_, closeFn, err := buildStore(context.Background(), cfg, nil, zap.New(core))
	if err != nil {
		t.Fatalf("buildStore: %v", err)
	}
	defer closeFn()
	if logs.Len() != 1 || !strings.Contains(logs.All()[0].Message, "accepted again") {
		t.Errorf("warnings: %+v", logs.All())
	}
}

func TestBuildHandler_LogsSchemes(t *testing.T) {
	cfg := testConfig()
	core, logs := observer.New(zap.InfoLevel)
	store := nullifier.NewMemoryStore(nullifier.MemoryStoreConfig{})

	_, err := buildHandler(cfg, facilitator.NewClient(cfg.Facilitator.URL, 0), store, journal.NewLog(zap.NewNop()), metrics.NoopRecorder{}, upstream.NewStatic("a"), zap.New(core))
	if err != nil {
		t.Fatalf("buildHandler: %v", err)
	}
	entries := logs.FilterMessage("payment schemes registered").All()
	if len(entries) != 1 {
		t.Fatalf("logs: %+v", logs.All())
	}
	kinds, _ := entries[0].ContextMap()["schemes"].([]scheme.Kind)
	if len(kinds) != 2 {
		t.Errorf("schemes: %v", entries[0].ContextMap()["schemes"])
	}
}

// ── Router ────────────────────────────────────────────────────────────────────

func TestRouter_Healthz(t *testing.T) {
	srv := newTestServer(t, testConfig(), nullifier.NewMemoryStore(nullifier.MemoryStoreConfig{}))
	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status: %d", resp.StatusCode)
	}
}

func TestRouter_ChallengeThenMetrics(t *testing.T) {
	srv := newTestServer(t, testConfig(), nullifier.NewMemoryStore(nullifier.MemoryStoreConfig{}))

	resp, err := http.Get(srv.URL + "/api/premium")
	if err != nil {
		t.Fatalf("GET /api/premium: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusPaymentRequired {
		t.Fatalf("status: got %d want 402", resp.StatusCode)
	}
	var pr x402.PaymentRequired
	if err := x402.DecodeHeader(resp.Header.Get(x402.HeaderPaymentRequired), &pr); err != nil {
		t.Fatalf("decode challenge: %v", err)
	}
	if pr.Accepts[0].Amount != "10000" || pr.Accepts[0].MaxTimeoutSeconds != 60 {
		t.Errorf("challenge: %+v", pr.Accepts[0])
	}

	mresp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer mresp.Body.Close()
	buf := new(bytes.Buffer)
	if _, err := buf.ReadFrom(mresp.Body); err != nil {
		t.Fatalf("read metrics: %v", err)
	}
	if !strings.Contains(buf.String(), `outcome="challenged"`) {
		t.Error("challenge not counted in /metrics")
	}
}

func TestRouter_PrivateRedemption(t *testing.T) {
	srv := newTestServer(t, testConfig(), nullifier.NewMemoryStore(nullifier.MemoryStoreConfig{}))
	p, err := scheme.NewIntent()
	if err != nil {
		t.Fatalf("NewIntent: %v", err)
	}
	body, _ := json.Marshal(p)

	post := func() int {
		resp, err := http.Post(srv.URL+"/api/private-premium", "application/json", strings.NewReader(string(body)))
		if err != nil {
			t.Fatalf("POST: %v", err)
		}
		resp.Body.Close()
		return resp.StatusCode
	}
	if code := post(); code != http.StatusOK {
		t.Fatalf("first: %d", code)
	}
	if code := post(); code != http.StatusForbidden {
		t.Fatalf("replay: %d", code)
	}
}

func TestRouter_FacilitatorUnreachable(t *testing.T) {
	srv := newTestServer(t, testConfig(), nullifier.NewMemoryStore(nullifier.MemoryStoreConfig{}))
	h, _ := x402.EncodeHeader(map[string]any{
		"x402Version": 2,
		"accepted":    map[string]any{"scheme": "exact", "network": "eip155:10143"},
		"payload":     map[string]any{"signature": "0x01"},
	})
	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/premium", nil)
	req.Header.Set(x402.HeaderPaymentSignature, h)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadGateway {
		t.Errorf("status: got %d want 502", resp.StatusCode)
	}
}

func TestPrivateResource(t *testing.T) {
	if got := privateResource("http://x/api/premium"); got != "http://x/api/private-premium" {
		t.Errorf("got %q", got)
	}
	if got := privateResource("http://x/paid"); got != "http://x/paid#private" {
		t.Errorf("got %q", got)
	}
}
