package cluster

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

// TestPostJSON tests the JSON POST helper against canned server responses
func TestPostJSON(t *testing.T) {
	tests := []struct {
		name           string
		serverResponse int
		serverBody     string
		requestBody    interface{}
		responseBody   interface{}
		expectError    bool
		contextTimeout bool
	}{
		{
			name:           "successful POST with response",
			serverResponse: http.StatusOK,
			serverBody:     `{"status":"ok"}`,
			requestBody:    map[string]string{"test": "data"},
			responseBody:   &map[string]string{},
			expectError:    false,
		},
		{
			name:           "successful POST without response body",
			serverResponse: http.StatusNoContent,
			requestBody:    map[string]string{"test": "data"},
			expectError:    false,
		},
		{
			name:           "server error response",
			serverResponse: http.StatusInternalServerError,
			serverBody:     `{"error":"internal error"}`,
			requestBody:    map[string]string{"test": "data"},
			expectError:    true,
		},
		{
			name:           "bad request",
			serverResponse: http.StatusBadRequest,
			serverBody:     `{"error":"bad request"}`,
			requestBody:    map[string]string{"test": "data"},
			expectError:    true,
		},
		{
			name:           "redirect is not followed",
			serverResponse: http.StatusFound,
			serverBody:     `http://elsewhere/api/search`,
			requestBody:    map[string]string{"test": "data"},
			expectError:    true,
		},
		{
			name:           "context timeout",
			serverResponse: http.StatusOK,
			serverBody:     `{"status":"ok"}`,
			requestBody:    map[string]string{"test": "data"},
			expectError:    true,
			contextTimeout: true,
		},
		{
			name:           "unmarshalable request body",
			serverResponse: http.StatusOK,
			requestBody:    make(chan int), // channels can't be marshaled
			expectError:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodPost {
					t.Errorf("Expected POST method, got %s", r.Method)
				}
				if ct := r.Header.Get("Content-Type"); ct != "application/json" {
					t.Errorf("Expected Content-Type application/json, got %s", ct)
				}

				// Simulate delay for timeout test
				if tt.contextTimeout {
					time.Sleep(100 * time.Millisecond)
				}

				if tt.serverResponse == http.StatusFound {
					w.Header().Set("Location", tt.serverBody)
				}
				w.WriteHeader(tt.serverResponse)
				if tt.serverBody != "" {
					w.Write([]byte(tt.serverBody))
				}
			}))
			defer server.Close()

			ctx := context.Background()
			if tt.contextTimeout {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, 1*time.Millisecond)
				defer cancel()
			}

			err := NewClient(time.Second).PostJSON(ctx, server.URL, tt.requestBody, tt.responseBody)

			if tt.expectError && err == nil {
				t.Errorf("Expected error but got none")
			}
			if !tt.expectError && err != nil {
				t.Errorf("Unexpected error: %v", err)
			}
			if !tt.expectError && tt.responseBody != nil {
				respMap := tt.responseBody.(*map[string]string)
				if (*respMap)["status"] != "ok" {
					t.Errorf("Expected response status 'ok', got %v", *respMap)
				}
			}
		})
	}
}

// TestClientStatusError tests that non-2xx answers carry code and body
func TestClientStatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"no route"}`))
	}))
	defer server.Close()

	err := NewClient(0).GetJSON(context.Background(), server.URL, &struct{}{})

	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("Expected *StatusError, got %T: %v", err, err)
	}
	if se.Code != http.StatusBadRequest || se.Body != `{"error":"no route"}` {
		t.Errorf("Unexpected status error %+v", se)
	}
}

// TestClientHeaders tests hop counting and request id forwarding
func TestClientHeaders(t *testing.T) {
	var gotHops, gotID string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHops = r.Header.Get(HopsHeader)
		gotID = r.Header.Get(RequestIDHeader)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	c := NewClient(time.Second)

	if err := c.Delete(context.Background(), server.URL); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if gotHops != "1" || gotID != "" {
		t.Errorf("Expected hops=1 and no id, got hops=%q id=%q", gotHops, gotID)
	}

	ctx := WithRequestID(WithHops(context.Background(), 3), "req-42")
	if err := c.Delete(ctx, server.URL); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if gotHops != "4" || gotID != "req-42" {
		t.Errorf("Expected hops=4 id=req-42, got hops=%q id=%q", gotHops, gotID)
	}
}

// TestGetJSONInvalidURL tests GetJSON with an invalid URL
func TestGetJSONInvalidURL(t *testing.T) {
	var out map[string]string
	if err := NewClient(0).GetJSON(context.Background(), "://invalid-url", &out); err == nil {
		t.Error("Expected error for invalid URL, got nil")
	}
}

func TestParseHops(t *testing.T) {
	cases := map[string]int{"": 0, "3": 3, " 7 ": 7, "-2": 0, "x": 0}
	for in, want := range cases {
		if got := ParseHops(in); got != want {
			t.Errorf("ParseHops(%q) = %d, want %d", in, got, want)
		}
	}
}

func TestJoinURL(t *testing.T) {
	tests := []struct{ base, path, want string }{
		{"http://a:1/api", "/search", "http://a:1/api/search"},
		{"http://a:1/api/", "/search", "http://a:1/api/search"},
		{"http://a:1/api", "search", "http://a:1/api/search"},
	}
	for _, tt := range tests {
		if got := JoinURL(tt.base, tt.path); got != tt.want {
			t.Errorf("JoinURL(%q, %q) = %q, want %q", tt.base, tt.path, got, tt.want)
		}
	}
}
