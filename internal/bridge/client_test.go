package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestChatID(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"6591234567", "6591234567@c.us"},
		{"6591234567@c.us", "6591234567@c.us"},
		{"120363041234567890@g.us", "120363041234567890@g.us"},
	}
	for _, tt := range tests {
		if got := ChatID(tt.in); got != tt.want {
			t.Errorf("ChatID(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestDeliverSuccess(t *testing.T) {
	var gotPath string
	var gotPayload map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		json.NewDecoder(r.Body).Decode(&gotPayload)
		json.NewEncoder(w).Encode(map[string]string{"idMessage": "BAE5ABCDEF"})
	}))
	defer srv.Close()

	c := New(WithBaseURL(srv.URL))
	result, err := c.Deliver(context.Background(), "7105991234", "secret-token", "6591234567", "hello")
	if err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if result.MessageID != "BAE5ABCDEF" {
		t.Fatalf("MessageID = %q", result.MessageID)
	}
	if gotPath != "/waInstance7105991234/sendMessage/secret-token" {
		t.Fatalf("path = %q", gotPath)
	}
	if gotPayload["chatId"] != "6591234567@c.us" || gotPayload["message"] != "hello" {
		t.Fatalf("payload = %v", gotPayload)
	}
}

func TestDeliverStatusMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   error
	}{
		{"unauthorized", http.StatusUnauthorized, ErrAuth},
		{"forbidden", http.StatusForbidden, ErrAuth},
		{"rate limited", http.StatusTooManyRequests, ErrRateLimited},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			c := New(WithBaseURL(srv.URL))
			_, err := c.Deliver(context.Background(), "1", "t", "6591234567", "hi")
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestDeliverServerErrorIsPlain(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "upstream unavailable", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := New(WithBaseURL(srv.URL))
	_, err := c.Deliver(context.Background(), "1", "t", "6591234567", "hi")
	if err == nil {
		t.Fatal("expected error for 502")
	}
	if errors.Is(err, ErrAuth) || errors.Is(err, ErrRateLimited) {
		t.Fatalf("5xx must not map to a typed error: %v", err)
	}
}

func TestDeliverMalformedResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("not json"))
	}))
	defer srv.Close()

	c := New(WithBaseURL(srv.URL))
	if _, err := c.Deliver(context.Background(), "1", "t", "6591234567", "hi"); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestDeliverContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c := New(WithBaseURL(srv.URL))
	if _, err := c.Deliver(ctx, "1", "t", "6591234567", "hi"); err == nil {
		t.Fatal("expected error for cancelled context")
	}
}
