package tools

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHTTPExecutorSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/function-call" {
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var req executeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Name != "get_billing_info" || req.CallID != "c1" {
			t.Fatalf("request = %+v", req)
		}
		json.NewEncoder(w).Encode(executeResponse{
			CallID: "c1",
			Output: json.RawMessage(`{"balance":12.5}`),
		})
	}))
	defer srv.Close()

	exec := NewHTTPExecutor(srv.URL, srv.Client())
	out, err := exec.Execute(context.Background(), "get_billing_info", "c1", `{"customer_id":"42"}`)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if out != `{"balance":12.5}` {
		t.Fatalf("output = %q", out)
	}
}

func TestHTTPExecutorErrorStatusClassified(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	exec := NewHTTPExecutor(srv.URL, srv.Client())
	_, err := exec.Execute(context.Background(), "modify_plan", "c2", "{}")
	var execErr *ExecError
	if !errors.As(err, &execErr) {
		t.Fatalf("error = %v, want *ExecError", err)
	}
	if !execErr.Retryable {
		t.Fatal("503 should classify as retryable")
	}

	srv2 := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unknown function", http.StatusNotFound)
	}))
	defer srv2.Close()

	exec2 := NewHTTPExecutor(srv2.URL, srv2.Client())
	_, err = exec2.Execute(context.Background(), "no_such_tool", "c3", "{}")
	if !errors.As(err, &execErr) {
		t.Fatalf("error = %v, want *ExecError", err)
	}
	if execErr.Retryable {
		t.Fatal("404 should not classify as retryable")
	}
}

func TestHTTPExecutorCallIDMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(executeResponse{CallID: "other"})
	}))
	defer srv.Close()

	exec := NewHTTPExecutor(srv.URL, srv.Client())
	if _, err := exec.Execute(context.Background(), "manage_sim", "c4", "{}"); err == nil {
		t.Fatal("expected error on call id mismatch")
	}
}

func TestHTTPExecutorEmptyOutput(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(executeResponse{CallID: "c5"})
	}))
	defer srv.Close()

	exec := NewHTTPExecutor(srv.URL, srv.Client())
	out, err := exec.Execute(context.Background(), "device_support", "c5", "{}")
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if out != "{}" {
		t.Fatalf("output = %q, want {}", out)
	}
}
