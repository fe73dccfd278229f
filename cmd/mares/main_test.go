package main

import (
	"bytes"
	"context"
	"net"
	"net/http"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestGetEnv(t *testing.T) {
	t.Setenv("FOO", "bar")
	if got := getEnv("FOO", "default"); got != "bar" {
		t.Fatalf("getEnv returned %q, want %q", got, "bar")
	}
	if got := getEnv("MISSING", "default"); got != "default" {
		t.Fatalf("getEnv returned %q, want %q", got, "default")
	}
}

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	root := newRootCommand()
	root.SetOut(&out)
	root.SetArgs([]string{"version"})
	if err := root.Execute(); err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(out.String(), "mares dev") {
		t.Fatalf("unexpected version output %q", out.String())
	}
}

func TestServeFlagsReadEnvironment(t *testing.T) {
	t.Setenv("MARES_ADDR", ":4000")
	t.Setenv("DATABASE_URL", "sqlite:file:env.sqlite")
	cmd := newServeCommand()
	if got, _ := cmd.Flags().GetString("addr"); got != ":4000" {
		t.Fatalf("addr=%q", got)
	}
	if got, _ := cmd.Flags().GetString("database-url"); got != "sqlite:file:env.sqlite" {
		t.Fatalf("database-url=%q", got)
	}
}

func TestServe_RejectsBadDatabaseURL(t *testing.T) {
	err := serve(context.Background(), &serveOptions{
		Addr:        "127.0.0.1:0",
		DatabaseURL: "mysql://root@localhost/mares",
		LogLevel:    "error",
	})
	if err == nil || !strings.Contains(err.Error(), "unsupported scheme") {
		t.Fatalf("err=%v", err)
	}
}

func TestServe_StopsOnCancel(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := l.Addr().String()
	_ = l.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() {
		done <- serve(ctx, &serveOptions{
			Addr:        addr,
			DatabaseURL: "sqlite:file:" + filepath.Join(t.TempDir(), "serve.sqlite"),
			ImageAPI:    "off",
			LogLevel:    "error",
		})
	}()

	ready := false
	for deadline := time.Now().Add(30 * time.Second); time.Now().Before(deadline) && !ready; {
		select {
		case err := <-done:
			t.Fatalf("serve exited before becoming ready: %v", err)
		default:
		}
		res, err := http.Get("http://" + addr + "/healthz")
		if err == nil {
			ready = res.StatusCode == http.StatusOK
			_ = res.Body.Close()
		}
		if !ready {
			time.Sleep(50 * time.Millisecond)
		}
	}
	if !ready {
		t.Fatal("serve never answered /healthz")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("serve returned %v", err)
		}
	case <-time.After(15 * time.Second):
		t.Fatal("serve did not stop after cancel")
	}
}

func TestBuildFinder(t *testing.T) {
	ctx := context.Background()
	f, closeFn, err := buildFinder(ctx, &serveOptions{ImageAPI: "off"}, zerolog.Nop())
	if err != nil || f != nil {
		t.Fatalf("off: finder=%v err=%v", f, err)
	}
	closeFn()

	f, closeFn, err = buildFinder(ctx, &serveOptions{RedisURL: "redis://127.0.0.1:1/0"}, zerolog.Nop())
	if err != nil || f == nil {
		t.Fatalf("unreachable redis should fall back to the plain client: finder=%v err=%v", f, err)
	}
	closeFn()
}
