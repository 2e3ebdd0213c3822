package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/example/robin/internal/application"
	"github.com/example/robin/internal/notify"
	"github.com/example/robin/internal/notify/realtime"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newGateway(t *testing.T, checks map[string]HealthCheck) (*realtime.Hub, *httptest.Server) {
	t.Helper()
	logger := discardLogger()
	hub := realtime.NewHub(logger)
	router := NewRouter(RouterConfig{
		Health:     NewHealthHandler(checks, logger),
		Rooms:      NewRoomStreamHandler(hub, "/robin", logger),
		Middleware: []func(http.Handler) http.Handler{Recoverer(logger), RequestLogger(logger)},
	})
	server := httptest.NewServer(router)
	t.Cleanup(func() {
		hub.Close()
		server.Close()
	})
	return hub, server
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		checks     map[string]HealthCheck
		wantStatus int
		wantState  string
		wantChecks map[string]string
	}{
		{
			name:       "all healthy",
			checks:     map[string]HealthCheck{"sqlite": func(context.Context) error { return nil }},
			wantStatus: http.StatusOK,
			wantState:  "ok",
			wantChecks: map[string]string{"sqlite": "ok"},
		},
		{
			name: "redis down",
			checks: map[string]HealthCheck{
				"sqlite": func(context.Context) error { return nil },
				"redis":  func(context.Context) error { return errors.New("connection refused") },
			},
			wantStatus: http.StatusServiceUnavailable,
			wantState:  "degraded",
			wantChecks: map[string]string{"sqlite": "ok", "redis": "connection refused"},
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, server := newGateway(t, tc.checks)

			resp, err := http.Get(server.URL + "/healthz")
			if err != nil {
				t.Fatalf("GET /healthz failed: %v", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != tc.wantStatus {
				t.Fatalf("expected %d, got %d", tc.wantStatus, resp.StatusCode)
			}
			var body healthResponse
			if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
				t.Fatalf("decode failed: %v", err)
			}
			if body.Status != tc.wantState {
				t.Fatalf("expected status %q, got %q", tc.wantState, body.Status)
			}
			for name, want := range tc.wantChecks {
				if body.Checks[name] != want {
					t.Fatalf("check %s = %q, want %q", name, body.Checks[name], want)
				}
			}
		})
	}
}

func TestHealthzRejectsOtherMethods(t *testing.T) {
	_, server := newGateway(t, nil)

	resp, err := http.Post(server.URL+"/healthz", "application/json", nil)
	if err != nil {
		t.Fatalf("POST failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", resp.StatusCode)
	}
	if resp.Header.Get("Allow") != http.MethodGet {
		t.Fatalf("unexpected Allow header %q", resp.Header.Get("Allow"))
	}
}

func TestRoomStreamDeliversRoomEvents(t *testing.T) {
	hub, server := newGateway(t, nil)

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/robin/r1"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer ws.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.Subscribers("/robin/r1") != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("client was not subscribed")
		}
		time.Sleep(5 * time.Millisecond)
	}

	notifier := notify.NewRoomNotifier("/robin", hub)
	event := application.RoomEvent{RoomID: "r1", Type: application.EventMerge, Payload: application.MergePayload{Destination: "m1"}}
	if err := notifier.Notify(context.Background(), event); err != nil {
		t.Fatalf("Notify failed: %v", err)
	}

	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	var frame struct {
		Type    string            `json:"type"`
		Payload map[string]string `json:"payload"`
	}
	if err := json.Unmarshal(data, &frame); err != nil {
		t.Fatalf("frame is not JSON: %v", err)
	}
	if frame.Type != "merge" || frame.Payload["destination"] != "m1" {
		t.Fatalf("unexpected frame %s", data)
	}
}

func TestRoomStreamRejectsInvalidPaths(t *testing.T) {
	t.Parallel()
	_, server := newGateway(t, nil)

	tests := []struct {
		name   string
		method string
		path   string
		want   int
	}{
		{name: "missing room id", method: http.MethodGet, path: "/robin/", want: http.StatusNotFound},
		{name: "nested path", method: http.MethodGet, path: "/robin/r1/extra", want: http.StatusBadRequest},
		{name: "wrong method", method: http.MethodPost, path: "/robin/r1", want: http.StatusMethodNotAllowed},
		{name: "plain GET without upgrade", method: http.MethodGet, path: "/robin/r1", want: http.StatusBadRequest},
		{name: "unknown prefix", method: http.MethodGet, path: "/other/r1", want: http.StatusNotFound},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			req, err := http.NewRequest(tc.method, server.URL+tc.path, nil)
			if err != nil {
				t.Fatalf("NewRequest failed: %v", err)
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatalf("request failed: %v", err)
			}
			resp.Body.Close()
			if resp.StatusCode != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, resp.StatusCode)
			}
		})
	}
}
