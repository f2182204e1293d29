package runtime

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/loqalabs/mockchat/internal/config"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

func testConfig(t *testing.T) config.Config {
	cfg := config.Default()
	cfg.HTTP.Bind = "127.0.0.1"
	cfg.HTTP.Port = freePort(t)
	cfg.Telemetry.TraceExporter = "none"
	cfg.EventStore.Path = filepath.Join(t.TempDir(), "events.db")
	cfg.Chat.LatencyMinMS, cfg.Chat.LatencyMaxMS = 0, 0
	cfg.Chat.ReasoningPauseMS, cfg.Chat.SourcesPauseMS = 0, 0
	cfg.Chat.TokenDelayMinMS, cfg.Chat.TokenDelayMaxMS = 0, 0
	cfg.Chat.Seed = 1
	return cfg
}

func waitReady(t *testing.T, base string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := http.Get(base + "/readyz")
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return
			}
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("runtime did not become ready")
}

func runRuntime(t *testing.T, cfg config.Config) string {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- New(cfg, newLogger()).Start(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-errCh:
			if err != nil {
				t.Errorf("runtime returned error: %v", err)
			}
		case <-time.After(15 * time.Second):
			t.Error("runtime did not stop")
		}
	})

	base := fmt.Sprintf("http://127.0.0.1:%d", cfg.HTTP.Port)
	waitReady(t, base)
	return base
}

func TestRuntimeServesChat(t *testing.T) {
	base := runRuntime(t, testConfig(t))

	resp, err := http.Get(base + "/healthz")
	if err != nil {
		t.Fatalf("healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected healthy, got %d", resp.StatusCode)
	}

	body := `{"messages":[{"id":"1","role":"user","content":"Hello"}],"model":"gpt-4o","webSearch":false}`
	resp, err = http.Post(base+"/api/chat", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	data, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.StatusCode, data)
	}
	if !strings.Contains(string(data), `You asked: \"Hello\"`) {
		t.Fatalf("unexpected body %s", data)
	}

	resp, err = http.Get(base + "/metrics")
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	metrics, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(metrics), "chat_responses") && !strings.Contains(string(metrics), "chat.responses") {
		t.Fatalf("expected chat metrics to be exported")
	}
}

func TestRuntimeWithEmbeddedBus(t *testing.T) {
	cfg := testConfig(t)
	cfg.Bus.Enabled = true
	cfg.Bus.Embedded = true
	cfg.Bus.Port = freePort(t)
	base := runRuntime(t, cfg)

	resp, err := http.Get(base + "/healthz")
	if err != nil {
		t.Fatalf("healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected healthy runtime with bus, got %d", resp.StatusCode)
	}
}

func TestRuntimeShutdownEndsStreams(t *testing.T) {
	cfg := testConfig(t)
	cfg.Chat.TokenDelayMinMS, cfg.Chat.TokenDelayMaxMS = 5000, 5001
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := make(chan error, 1)
	go func() { errCh <- New(cfg, newLogger()).Start(ctx) }()

	base := fmt.Sprintf("http://127.0.0.1:%d", cfg.HTTP.Port)
	waitReady(t, base)

	body := `{"messages":[{"id":"1","role":"user","content":"Hello"}]}`
	resp, err := http.Post(base+"/api/chat/stream", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	// Wait for the first word; the stream then sleeps for a long token delay.
	buf := make([]byte, 1)
	if _, err := resp.Body.Read(buf); err != nil {
		t.Fatalf("read stream: %v", err)
	}

	start := time.Now()
	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("runtime returned error: %v", err)
		}
	case <-time.After(8 * time.Second):
		t.Fatal("runtime did not stop")
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Fatalf("shutdown waited %v for an in-flight stream", elapsed)
	}
}
