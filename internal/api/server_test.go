package api

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/labstack/echo/v5"

	"github.com/samcharles93/strata/internal/logger"
)

func newTestServer() *echo.Echo {
	e := echo.New()
	NewServer(logger.JSON(io.Discard, slog.LevelError)).Register(e)
	return e
}

func TestHealthz(t *testing.T) {
	e := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "ok") {
		t.Fatalf("body %q", rec.Body.String())
	}
}

func TestVersionEndpoint(t *testing.T) {
	e := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/version", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["version"] == "" {
		t.Fatalf("empty version in %v", body)
	}
}

func TestBenchRunsTinyModel(t *testing.T) {
	e := newTestServer()
	payload := `{
		"layers": 1, "batch": 1, "seq": 3, "steps": 2,
		"config": {
			"hidden_size": 8,
			"intermediate_size": 16,
			"moe_intermediate_size": 8,
			"num_attention_heads": 2,
			"qk_nope_head_dim": 2,
			"qk_rope_head_dim": 2,
			"v_head_dim": 4,
			"kv_lora_rank": 4,
			"n_routed_experts": 4,
			"num_experts_per_tok": 2,
			"max_position_embeddings": 64
		}
	}`
	req := httptest.NewRequest(http.MethodPost, "/v1/bench", strings.NewReader(payload))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	var resp BenchResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.ID == "" {
		t.Fatalf("missing run id")
	}
	if len(resp.StepSeconds) != 2 {
		t.Fatalf("got %d step timings, want 2", len(resp.StepSeconds))
	}
	if resp.TokensPerSecond <= 0 {
		t.Fatalf("tokens per second %v", resp.TokensPerSecond)
	}
}

func TestBenchLogsThroughRequestLogger(t *testing.T) {
	var buf bytes.Buffer
	e := echo.New()
	NewServer(logger.JSON(&buf, slog.LevelDebug)).Register(e)

	payload := `{
		"layers": 1, "batch": 1, "seq": 2, "steps": 1,
		"config": {
			"hidden_size": 8,
			"intermediate_size": 16,
			"num_attention_heads": 2,
			"qk_nope_head_dim": 2,
			"qk_rope_head_dim": 2,
			"v_head_dim": 4,
			"kv_lora_rank": 4,
			"max_position_embeddings": 64
		}
	}`
	req := httptest.NewRequest(http.MethodPost, "/v1/bench", strings.NewReader(payload))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	out := buf.String()
	if !strings.Contains(out, "decode step done") {
		t.Fatalf("per-step debug logs missing: %s", out)
	}
	if !strings.Contains(out, "bench run complete") {
		t.Fatalf("completion log missing: %s", out)
	}
}

func TestBenchRejectsBadRequests(t *testing.T) {
	e := newTestServer()
	cases := []string{
		`{"layers": -1}`,
		`{"steps": 100000}`,
		`{"config": {"hidden_size": 0}}`,
		`{"seq": 4096, "steps": 1024, "config": {
			"hidden_size": 8, "intermediate_size": 16,
			"num_attention_heads": 2, "qk_nope_head_dim": 2,
			"qk_rope_head_dim": 2, "v_head_dim": 4, "kv_lora_rank": 4,
			"max_position_embeddings": 64
		}}`,
	}
	for _, payload := range cases {
		req := httptest.NewRequest(http.MethodPost, "/v1/bench", strings.NewReader(payload))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("payload %s: status %d", payload, rec.Code)
		}
	}
}
