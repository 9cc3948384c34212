package security

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestNewProviderClient_SetsTimeout(t *testing.T) {
	client := NewProviderClient(OutboundClientConfig{Timeout: 7 * time.Second})
	if client == nil {
		t.Fatal("expected non-nil client")
	}
	if client.Timeout != 7*time.Second {
		t.Errorf("Timeout = %v, want %v", client.Timeout, 7*time.Second)
	}
}

func TestNewProviderClient_BlocksLoopback(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewProviderClient(OutboundClientConfig{Timeout: 2 * time.Second})
	resp, err := client.Get(server.URL)
	if err == nil {
		resp.Body.Close()
		t.Fatal("expected request to loopback test server to be blocked")
	}
}

func TestLimitedTransport_RejectsOversizedBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(strings.Repeat("x", 64)))
	}))
	defer server.Close()

	client := &http.Client{Transport: &limitedTransport{base: http.DefaultTransport, limit: 16}}
	resp, err := client.Get(server.URL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer resp.Body.Close()

	_, err = io.ReadAll(resp.Body)
	if !errors.Is(err, ErrResponseTooLarge) {
		t.Errorf("err = %v, want ErrResponseTooLarge", err)
	}
}

func TestLimitedTransport_AllowsBodyAtLimit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(strings.Repeat("x", 16)))
	}))
	defer server.Close()

	client := &http.Client{Transport: &limitedTransport{base: http.DefaultTransport, limit: 16}}
	resp, err := client.Get(server.URL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("unexpected read error: %v", err)
	}
	if len(body) != 16 {
		t.Errorf("len(body) = %d, want 16", len(body))
	}
}

func TestValidateEndpoint(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		wantErr bool
	}{
		{"truelayer api", "https://api.truelayer.com/data/v1", false},
		{"sandbox auth", "https://auth.truelayer-sandbox.com", false},
		{"empty", "", true},
		{"http scheme", "http://api.truelayer.com", true},
		{"localhost", "https://localhost/data", true},
		{"private ip", "https://10.0.0.5/data", true},
		{"metadata ip", "https://169.254.169.254/latest", true},
		{"ipv6 loopback", "https://[::1]/", true},
		{"no host", "https:///path", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateEndpoint(tt.url)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateEndpoint(%q) error = %v, wantErr %v", tt.url, err, tt.wantErr)
			}
		})
	}
}
