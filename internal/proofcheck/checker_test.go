package proofcheck

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"
)

func TestCheckExtractsTitle(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><head><title>  Shipping receipt #42  </title></head><body></body></html>`))
	}))
	defer srv.Close()

	c := NewChecker(2000, 0, zap.NewNop())
	res, err := c.Check(context.Background(), srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Alive {
		t.Fatal("alive = false")
	}
	if res.Title != "Shipping receipt #42" {
		t.Fatalf("title = %q", res.Title)
	}
}

func TestCheckFallsBackToH1(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><body><h1>Tracking page</h1></body></html>`))
	}))
	defer srv.Close()

	c := NewChecker(2000, 0, zap.NewNop())
	res, err := c.Check(context.Background(), srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	if res.Title != "Tracking page" {
		t.Fatalf("title = %q", res.Title)
	}
}

func TestCheckDeadLink(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	c := NewChecker(2000, 0, zap.NewNop())
	res, err := c.Check(context.Background(), srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	if res.Alive {
		t.Fatal("404 reported as alive")
	}
}

func TestCheckRetriesServerErrors(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`<html><head><title>ok</title></head></html>`))
	}))
	defer srv.Close()

	c := NewChecker(2000, 2, zap.NewNop())
	res, err := c.Check(context.Background(), srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Alive || res.Title != "ok" {
		t.Fatalf("result = %+v", res)
	}
	if calls != 2 {
		t.Fatalf("calls = %d, want 2", calls)
	}
}

func TestCheckGivesUpAfterRetries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewChecker(2000, 1, zap.NewNop())
	if _, err := c.Check(context.Background(), srv.URL); err == nil {
		t.Fatal("expected an error after retries exhausted")
	}
}
