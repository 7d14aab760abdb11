package http

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestClient_Send(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("Expected method POST, got %s", r.Method)
		}
		if r.URL.Path != "/api/authenticate" {
			t.Errorf("Expected path /api/authenticate, got %s", r.URL.Path)
		}
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("Expected Content-Type application/json, got %s", r.Header.Get("Content-Type"))
		}
		body, _ := io.ReadAll(r.Body)
		if string(body) != `{"username":"admin"}` {
			t.Errorf("Unexpected body %s", body)
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"token":"abc"}`))
	}))
	defer server.Close()

	client := NewClient(DefaultConfig())
	defer client.CloseIdleConnections()

	req := NewRequest(http.MethodPost, server.URL+"/api/authenticate").
		WithHeader("Content-Type", "application/json").
		WithBody([]byte(`{"username":"admin"}`))

	resp, err := client.Send(context.Background(), req)
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("StatusCode = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	if resp.Header("Content-Type") != "application/json" {
		t.Errorf("Content-Type = %s", resp.Header("Content-Type"))
	}
	if resp.BodyString() != `{"token":"abc"}` {
		t.Errorf("BodyString() = %s", resp.BodyString())
	}
	if resp.Timing.TotalTime <= 0 {
		t.Errorf("TotalTime = %v, want > 0", resp.Timing.TotalTime)
	}
	if !resp.IsSuccess() {
		t.Error("IsSuccess() = false")
	}
}

func TestClient_NetworkError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	client := NewClient(DefaultConfig())
	_, err := client.Send(context.Background(), NewRequest(http.MethodGet, url))
	if !errors.Is(err, ErrNetwork) {
		t.Fatalf("Send() error = %v, want ErrNetwork", err)
	}
	var ne *NetworkError
	if !errors.As(err, &ne) || ne.Method != http.MethodGet {
		t.Errorf("expected *NetworkError with method GET, got %#v", err)
	}
}

func TestClient_ContextCancel(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	client := NewClient(DefaultConfig())
	_, err := client.Send(ctx, NewRequest(http.MethodGet, server.URL))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Send() error = %v, want context.DeadlineExceeded", err)
	}
	if !errors.Is(err, ErrNetwork) {
		t.Errorf("Send() error = %v, want ErrNetwork", err)
	}
}

func TestClient_NoRedirects(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/old" {
			http.Redirect(w, r, "/new", http.StatusFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	cfg := DefaultConfig()
	cfg.FollowRedirects = false
	resp, err := NewClient(cfg).Send(context.Background(), NewRequest(http.MethodGet, server.URL+"/old"))
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if resp.StatusCode != http.StatusFound {
		t.Errorf("StatusCode = %d, want %d", resp.StatusCode, http.StatusFound)
	}
}

func TestClient_BadURL(t *testing.T) {
	_, err := NewClient(DefaultConfig()).Send(context.Background(), NewRequest("GET", "://bad"))
	if err == nil {
		t.Fatal("expected error for malformed URL")
	}
}
