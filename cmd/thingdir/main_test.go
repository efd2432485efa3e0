package main

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dreamware/thingdir/internal/config"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "node.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func run(args ...string) (string, error) {
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

// TestCheckConfig tests the check-config command
func TestCheckConfig(t *testing.T) {
	path := writeFile(t, `
name: level2
listen: ":5002"
neighbors:
  - {name: level1, url: "http://localhost:5001/api", role: parent}
  - {name: level3, url: "http://localhost:5003/api", role: child}
  - {name: master, url: "http://localhost:5000/api", role: master}
shortcuts:
  - {target: level4, via: level3}
`)
	out, err := run("check-config", "--config", path)
	if err != nil {
		t.Fatalf("check-config failed: %v", err)
	}
	for _, want := range []string{
		"node level2 listening on :5002/api",
		"parent   level1 http://localhost:5001/api",
		"master   master http://localhost:5000/api",
		"child    level3",
		"shortcut level4 via level3",
		"reachable below: level3, level4",
		"config OK",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

// TestCheckConfigInvalid tests that topology errors surface
func TestCheckConfigInvalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"dangling shortcut", "shortcuts: [{target: x, via: nobody}]"},
		{"bad yaml", "name: [oops"},
		{"bad backend", "store: {backend: mongo}"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := run("check-config", "-c", writeFile(t, tt.body)); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

// TestServeRejectsBadConfig tests that serve fails before binding a port
func TestServeRejectsBadConfig(t *testing.T) {
	_, err := run("serve", "--config", writeFile(t, "tracing: {exporter: zipkin}"))
	if err == nil {
		t.Fatal("expected serve to fail")
	}
}

// TestServeStopsOnCancel tests a full serve cycle
func TestServeStopsOnCancel(t *testing.T) {
	path := writeFile(t, `
name: solo
listen: "127.0.0.1:0"
log: {level: error, format: text}
`)
	cmd := newRootCmd()
	cmd.SetArgs([]string{"serve", "--config", path})
	cmd.SetErr(&bytes.Buffer{})

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- cmd.ExecuteContext(ctx) }()
	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-errc:
		if err != nil {
			t.Errorf("serve returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not stop")
	}
}

// TestMainFatal tests that main reports command errors through logFatal
func TestMainFatal(t *testing.T) {
	oldLogFatal := logFatal
	defer func() { logFatal = oldLogFatal }()
	oldArgs := os.Args
	defer func() { os.Args = oldArgs }()

	fatalCalled := false
	logFatal = func(format string, v ...interface{}) {
		fatalCalled = true
	}

	os.Args = []string{"thingdir", "check-config", "--config", filepath.Join(t.TempDir(), "missing.yaml")}
	main()

	if !fatalCalled {
		t.Error("Expected log.Fatal to be called but it wasn't")
	}
}

// TestNewLogger tests level parsing
func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, config.LogConfig{Level: "warn", Format: "json"})
	logger.Info("hidden")
	logger.Warn("shown")
	if strings.Contains(buf.String(), "hidden") || !strings.Contains(buf.String(), `"msg":"shown"`) {
		t.Errorf("unexpected log output: %s", buf.String())
	}

	buf.Reset()
	logger = newLogger(&buf, config.LogConfig{Level: "debug", Format: "text"})
	if !logger.Enabled(context.Background(), slog.LevelDebug) {
		t.Error("debug level not enabled")
	}
}
