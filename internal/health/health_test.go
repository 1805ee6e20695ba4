package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) result {
	t.Helper()
	var res result
	if err := json.NewDecoder(rec.Body).Decode(&res); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return res
}

func TestHealthzAlwaysOK(t *testing.T) {
	t.Parallel()

	h := New()
	rec := httptest.NewRecorder()
	h.Healthz(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if res := decodeBody(t, rec); res.Status != "ok" {
		t.Errorf("status field = %q, want ok", res.Status)
	}
}

func TestReadyzAllPassing(t *testing.T) {
	t.Parallel()

	h := New(
		Checker{Name: "history", Check: func(context.Context) error { return nil }},
		Checker{Name: "providers", Check: func(context.Context) error { return nil }},
	)
	rec := httptest.NewRecorder()
	h.Readyz(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	res := decodeBody(t, rec)
	if res.Status != "ok" {
		t.Errorf("status field = %q, want ok", res.Status)
	}
	if res.Checks["history"] != "ok" || res.Checks["providers"] != "ok" {
		t.Errorf("checks = %v", res.Checks)
	}
}

func TestReadyzFailingCheck(t *testing.T) {
	t.Parallel()

	h := New(
		Checker{Name: "history", Check: func(context.Context) error { return errors.New("connection refused") }},
		Checker{Name: "providers", Check: func(context.Context) error { return nil }},
	)
	rec := httptest.NewRecorder()
	h.Readyz(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	res := decodeBody(t, rec)
	if res.Status != "fail" {
		t.Errorf("status field = %q, want fail", res.Status)
	}
	if res.Checks["history"] != "fail: connection refused" {
		t.Errorf("history check = %q", res.Checks["history"])
	}
	if res.Checks["providers"] != "ok" {
		t.Errorf("providers check = %q", res.Checks["providers"])
	}
}

func TestRegister(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	New().Register(mux)

	srv := httptest.NewServer(mux)
	defer srv.Close()

	for _, path := range []string{"/healthz", "/readyz"} {
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("GET %s = %d, want 200", path, resp.StatusCode)
		}
	}
}
