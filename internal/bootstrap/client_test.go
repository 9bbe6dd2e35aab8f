package bootstrap

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestIssueSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/session" {
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var req sessionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Voice != "verse" {
			t.Fatalf("voice = %q, want verse", req.Voice)
		}
		json.NewEncoder(w).Encode(Credentials{
			SessionID:    "sess_1",
			EphemeralKey: "ek_secret_value",
			WebRTCURL:    "https://region.example/realtimertc",
			Deployment:   "gpt-realtime",
			Voice:        "verse",
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, srv.Client())
	creds, err := c.IssueSession(context.Background(), "gpt-realtime", "verse")
	if err != nil {
		t.Fatalf("IssueSession() error = %v", err)
	}
	if creds.SessionID != "sess_1" || creds.EphemeralKey != "ek_secret_value" {
		t.Fatalf("creds = %+v", creds)
	}
}

func TestIssueSessionRetriesRetryableStatus(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(Credentials{SessionID: "sess_2", EphemeralKey: "ek_x"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, srv.Client())
	creds, err := c.IssueSession(context.Background(), "", "")
	if err != nil {
		t.Fatalf("IssueSession() error = %v", err)
	}
	if creds.SessionID != "sess_2" {
		t.Fatalf("creds = %+v", creds)
	}
	if hits.Load() != 2 {
		t.Fatalf("hits = %d, want 2", hits.Load())
	}
}

func TestIssueSessionDoesNotRetryClientError(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, "bad deployment", http.StatusBadRequest)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, srv.Client())
	if _, err := c.IssueSession(context.Background(), "nope", ""); err == nil {
		t.Fatal("expected error for 400")
	}
	if hits.Load() != 1 {
		t.Fatalf("hits = %d, want 1 (no retry on 4xx)", hits.Load())
	}
}

func TestIssueSessionRejectsMissingKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(Credentials{SessionID: "sess_3"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, srv.Client())
	if _, err := c.IssueSession(context.Background(), "", ""); err == nil {
		t.Fatal("expected error for missing ephemeral key")
	}
}

func TestRedactedKey(t *testing.T) {
	c := Credentials{EphemeralKey: "ek_1234567890"}
	if got := c.RedactedKey(); got != "ek_1****" {
		t.Fatalf("RedactedKey() = %q", got)
	}
	if got := (Credentials{EphemeralKey: "ek"}).RedactedKey(); got != "****" {
		t.Fatalf("RedactedKey(short) = %q", got)
	}
}

func TestToolCacheFetchesOnceAndInvalidates(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write([]byte(`{"tools":[{"type":"function","name":"get_billing_info"}],"tool_choice":"auto"}`))
	}))
	defer srv.Close()

	cache := NewToolCache(NewClient(srv.URL, srv.Client()), time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		tools, choice, err := cache.Get(ctx)
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if len(tools) != 1 || tools[0].Name != "get_billing_info" {
			t.Fatalf("tools = %+v", tools)
		}
		if choice != "auto" {
			t.Fatalf("choice = %q, want auto", choice)
		}
	}
	if hits.Load() != 1 {
		t.Fatalf("hits = %d, want 1 (cached)", hits.Load())
	}

	cache.Invalidate()
	if _, _, err := cache.Get(ctx); err != nil {
		t.Fatalf("Get() after invalidate error = %v", err)
	}
	if hits.Load() != 2 {
		t.Fatalf("hits = %d, want 2 after invalidate", hits.Load())
	}
}

func TestToolCacheServesStaleOnFetchFailure(t *testing.T) {
	var healthy atomic.Bool
	healthy.Store(true)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !healthy.Load() {
			http.Error(w, "down", http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"tools":[{"type":"function","name":"check_service_outage"}]}`))
	}))
	defer srv.Close()

	cache := NewToolCache(NewClient(srv.URL, srv.Client()), time.Nanosecond)
	ctx := context.Background()

	if _, _, err := cache.Get(ctx); err != nil {
		t.Fatalf("first Get() error = %v", err)
	}

	healthy.Store(false)
	tools, _, err := cache.Get(ctx)
	if err != nil {
		t.Fatalf("Get() with backend down error = %v, want stale definitions", err)
	}
	if len(tools) != 1 || tools[0].Name != "check_service_outage" {
		t.Fatalf("tools = %+v, want stale cached set", tools)
	}
}
