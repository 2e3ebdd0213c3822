package redisbus

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
)

type frameSink struct {
	mu     sync.Mutex
	frames map[string][]string
	got    chan struct{}
}

func newFrameSink() *frameSink {
	return &frameSink{frames: make(map[string][]string), got: make(chan struct{}, 16)}
}

func (s *frameSink) Broadcast(ctx context.Context, namespace string, frame []byte) error {
	s.mu.Lock()
	s.frames[namespace] = append(s.frames[namespace], string(frame))
	s.mu.Unlock()
	s.got <- struct{}{}
	return nil
}

func (s *frameSink) snapshot(namespace string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.frames[namespace]...)
}

func newClient(t *testing.T) *redis.Client {
	t.Helper()
	server := miniredis.RunT(t)
	client, err := Connect(context.Background(), "redis://"+server.Addr())
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestPublisherAndSubscriber(t *testing.T) {
	client := newClient(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	sink := newFrameSink()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ready := make(chan struct{})
	done := make(chan error, 1)
	subscriber := NewSubscriber(client, "/robin", sink, logger)
	go func() { done <- subscriber.Run(ctx, ready) }()

	select {
	case <-ready:
	case <-time.After(2 * time.Second):
		t.Fatalf("subscription was not confirmed")
	}

	publisher := NewPublisher(client)
	frame := []byte(`{"type":"merge","payload":{"destination":"m1"}}`)
	if err := publisher.Broadcast(ctx, "/robin/r1", frame); err != nil {
		t.Fatalf("Broadcast failed: %v", err)
	}
	if err := publisher.Broadcast(ctx, "/elsewhere/r1", []byte(`{}`)); err != nil {
		t.Fatalf("Broadcast failed: %v", err)
	}

	select {
	case <-sink.got:
	case <-time.After(2 * time.Second):
		t.Fatalf("frame was not relayed")
	}
	if got := sink.snapshot("/robin/r1"); len(got) != 1 || got[0] != string(frame) {
		t.Fatalf("unexpected relayed frames: %v", got)
	}
	if got := sink.snapshot("/elsewhere/r1"); len(got) != 0 {
		t.Fatalf("frames outside the prefix must be ignored, got %v", got)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("subscriber did not stop")
	}
}

func TestConnectErrors(t *testing.T) {
	if _, err := Connect(context.Background(), ""); err == nil {
		t.Fatalf("expected error for empty url")
	}
	if _, err := Connect(context.Background(), "not a url"); err == nil {
		t.Fatalf("expected error for invalid url")
	}

	server, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	client, err := Connect(context.Background(), "redis://"+server.Addr())
	if err != nil {
		server.Close()
		t.Fatalf("Connect failed: %v", err)
	}
	defer client.Close()
	server.Close()
	if err := NewPublisher(client).Broadcast(context.Background(), "/robin/r1", []byte(`{}`)); err == nil {
		t.Fatalf("expected publish error after server shutdown")
	}
}
