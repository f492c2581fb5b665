package genai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"oratio/internal/retry"
	"oratio/internal/schedule"
	logx "oratio/pkg/logx"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := New(Config{BaseURL: srv.URL, APIKey: "k", TextModel: "t", AudioModel: "a", ImageModel: "i"}, logx.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestScriptRequestShape(t *testing.T) {
	var got textRequest
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/text" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer k" {
			t.Errorf("auth header = %q", auth)
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		_ = json.NewEncoder(w).Encode(textResponse{Text: "a prayer"})
	})

	s, err := c.Script(context.Background(), "hope", []string{"light"}, "es", schedule.KindShort)
	if err != nil {
		t.Fatalf("Script: %v", err)
	}
	if s != "a prayer" {
		t.Fatalf("script = %q", s)
	}
	if got.Task != "script" || got.Language != "es" || got.Form != "short" || got.Theme != "hope" {
		t.Fatalf("request = %+v", got)
	}
}

func TestNarrationPassthrough(t *testing.T) {
	payload := base64.StdEncoding.EncodeToString([]byte{1, 2, 3})
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(audioResponse{Audio: payload})
	})

	b, err := c.Narration(context.Background(), "text", "warm")
	if err != nil {
		t.Fatalf("Narration: %v", err)
	}
	// The client must not decode; the pipeline owns that.
	if string(b) != payload {
		t.Fatalf("narration = %q, want base64 passthrough", b)
	}
}

func TestImageDecodesBase64(t *testing.T) {
	raw := []byte{0x89, 'P', 'N', 'G'}
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(imageResponse{Image: base64.StdEncoding.EncodeToString(raw)})
	})

	b, err := c.Image(context.Background(), "prompt", "9:16")
	if err != nil {
		t.Fatalf("Image: %v", err)
	}
	if string(b) != string(raw) {
		t.Fatalf("image bytes = %v, want %v", b, raw)
	}
}

func TestRateLimitClassification(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		body        string
		rateLimited bool
	}{
		{name: "http 429", status: http.StatusTooManyRequests, body: `{}`, rateLimited: true},
		{name: "resource exhausted", status: http.StatusBadRequest, body: `{"error":{"code":"RESOURCE_EXHAUSTED","message":"quota"}}`, rateLimited: true},
		{name: "server error", status: http.StatusInternalServerError, body: `boom`, rateLimited: false},
		{name: "bad request", status: http.StatusBadRequest, body: `{"error":{"code":"INVALID","message":"bad"}}`, rateLimited: false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})
			_, err := c.Script(context.Background(), "hope", nil, "en", schedule.KindShort)
			if err == nil {
				t.Fatal("expected error")
			}
			if retry.IsRateLimited(err) != tt.rateLimited {
				t.Fatalf("IsRateLimited = %v, want %v (err %v)", retry.IsRateLimited(err), tt.rateLimited, err)
			}
		})
	}
}

func TestEmptyResponsesAreFatal(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(textResponse{})
	})
	if _, err := c.Script(context.Background(), "hope", nil, "en", schedule.KindShort); err == nil {
		t.Fatal("expected error for empty script")
	}
	if _, err := c.Post(context.Background(), "s", "hope", nil, "en", schedule.KindShort); err == nil {
		t.Fatal("expected error for missing post")
	}
}
