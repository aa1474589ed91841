package admin

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"
)

func newTestClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatalf("parsing test server URL: %v", err)
	}
	port, err := strconv.Atoi(u.Port())
	if err != nil {
		t.Fatalf("parsing test server port: %v", err)
	}
	return New(u.Hostname(), port)
}

func TestHealthyReturnsTrueOn200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	if !c.Healthy(context.Background()) {
		t.Error("expected Healthy to return true")
	}
}

func TestHealthyReturnsFalseOnUnreachable(t *testing.T) {
	c := New("127.0.0.1", 1)
	if c.Healthy(context.Background()) {
		t.Error("expected Healthy to return false for an unreachable host")
	}
}

func TestReadyDecodesBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ready":true,"detail":"serving"}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	status, err := c.Ready(context.Background())
	if err != nil {
		t.Fatalf("Ready: %v", err)
	}
	if !status.Ready || status.Detail != "serving" {
		t.Errorf("status = %+v, want ready=true detail=serving", status)
	}
}

func TestWaitUntilHealthyTimesOut(t *testing.T) {
	c := New("127.0.0.1", 1)
	start := time.Now()
	ok := c.WaitUntilHealthy(context.Background(), 150*time.Millisecond)
	if ok {
		t.Error("expected WaitUntilHealthy to fail against an unreachable host")
	}
	if time.Since(start) < 100*time.Millisecond {
		t.Error("expected WaitUntilHealthy to actually wait out the timeout")
	}
}

func TestMetricsTextReturnsBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("helmsman_commands_total 1\n"))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	text, err := c.MetricsText(context.Background())
	if err != nil {
		t.Fatalf("MetricsText: %v", err)
	}
	if !strings.Contains(text, "helmsman_commands_total") {
		t.Errorf("unexpected metrics text: %q", text)
	}
}

func TestIsConnectionErrorClassifiesNetErrors(t *testing.T) {
	if IsConnectionError(nil) {
		t.Error("nil should not be a connection error")
	}
	if !IsConnectionError(errors.New("dial tcp 127.0.0.1:1: connection refused")) {
		t.Error("expected a connection-refused message to be classified as a connection error")
	}
}
