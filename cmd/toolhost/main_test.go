package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"

	"github.com/nugget/toolhost/internal/story"
)

// clearUmask sets the process umask to 0 so file permission assertions are
// deterministic. It restores the original umask when the test completes.
func clearUmask(t *testing.T) {
	t.Helper()
	old := syscall.Umask(0)
	t.Cleanup(func() { syscall.Umask(old) })
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRun_Usage(t *testing.T) {
	for _, args := range [][]string{nil, {"-h"}, {"--help"}} {
		var stdout bytes.Buffer
		if err := run(context.Background(), &stdout, &bytes.Buffer{}, args); err != nil {
			t.Fatalf("run(%v) = %v", args, err)
		}
		if !strings.Contains(stdout.String(), "Usage: toolhost") {
			t.Errorf("run(%v) output = %q", args, stdout.String())
		}
	}
}

func TestRun_BadArguments(t *testing.T) {
	tests := []struct {
		args []string
		want string
	}{
		{[]string{"--frobnicate"}, "unknown flag"},
		{[]string{"-o", "yaml", "version"}, "unknown output format"},
		{[]string{"launch"}, "unknown command"},
		{[]string{"call"}, "usage: toolhost call"},
	}
	for _, tt := range tests {
		err := run(context.Background(), &bytes.Buffer{}, &bytes.Buffer{}, tt.args)
		if err == nil || !strings.Contains(err.Error(), tt.want) {
			t.Errorf("run(%v) = %v, want error containing %q", tt.args, err, tt.want)
		}
	}
}

func TestRun_Version(t *testing.T) {
	var text bytes.Buffer
	if err := run(context.Background(), &text, &bytes.Buffer{}, []string{"version"}); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(text.String(), "version:") {
		t.Errorf("text output = %q", text.String())
	}

	var js bytes.Buffer
	if err := run(context.Background(), &js, &bytes.Buffer{}, []string{"-o", "json", "version"}); err != nil {
		t.Fatal(err)
	}
	var info map[string]string
	if err := json.Unmarshal(js.Bytes(), &info); err != nil {
		t.Fatalf("json output: %v", err)
	}
	if info["version"] == "" {
		t.Errorf("info = %v", info)
	}
}

func TestRunInit(t *testing.T) {
	clearUmask(t)
	dir := filepath.Join(t.TempDir(), "work")

	var buf bytes.Buffer
	if err := runInit(&buf, dir); err != nil {
		t.Fatalf("runInit: %v", err)
	}
	path := filepath.Join(dir, "config.yaml")
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("config.yaml not created: %v", err)
	}
	if got := info.Mode().Perm(); got != 0o600 {
		t.Errorf("config.yaml permissions = %o, want 0600", got)
	}

	// The example must load as written.
	if _, _, err := loadConfig(path); err != nil {
		t.Errorf("example config does not load: %v", err)
	}

	if err := os.WriteFile(path, []byte("custom"), 0o600); err != nil {
		t.Fatal(err)
	}
	buf.Reset()
	if err := runInit(&buf, dir); err != nil {
		t.Fatalf("second runInit: %v", err)
	}
	got, _ := os.ReadFile(path)
	if string(got) != "custom" {
		t.Error("runInit overwrote an existing config")
	}
	if !strings.Contains(buf.String(), "skipped") {
		t.Errorf("output = %q", buf.String())
	}
}

func TestRun_Tools(t *testing.T) {
	cfg := writeConfig(t, "toolset: story\nlog_level: error\n")

	var stdout, stderr bytes.Buffer
	if err := run(context.Background(), &stdout, &stderr, []string{"-config", cfg, "tools"}); err != nil {
		t.Fatalf("tools: %v\n%s", err, stderr.String())
	}
	for _, want := range []string{"fetch--fetch", "creative_writer--create_chapter", "creative_writer--export_story"} {
		if !strings.Contains(stdout.String(), want) {
			t.Errorf("tools output missing %s", want)
		}
	}

	stdout.Reset()
	if err := run(context.Background(), &stdout, &stderr, []string{"-config", cfg, "-o", "json", "tools"}); err != nil {
		t.Fatalf("tools json: %v", err)
	}
	var defs []map[string]any
	if err := json.Unmarshal(stdout.Bytes(), &defs); err != nil {
		t.Fatalf("json output: %v", err)
	}
	if len(defs) < 2 {
		t.Errorf("defs = %d", len(defs))
	}
}

func TestRun_Call(t *testing.T) {
	cfg := writeConfig(t, "toolset: story\nlog_level: error\n")
	ctx := context.Background()

	var stdout bytes.Buffer
	err := run(ctx, &stdout, &bytes.Buffer{}, []string{
		"-config", cfg, "call", "creative_writer--create_chapter", `{"title":"Ebb","content":"Low water."}`,
	})
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if !strings.Contains(stdout.String(), "Ebb") {
		t.Errorf("output = %q", stdout.String())
	}

	// Tool-level failures print and exit non-zero.
	stdout.Reset()
	err = run(ctx, &stdout, &bytes.Buffer{}, []string{
		"-config", cfg, "call", "creative_writer--get_chapter", `{"chapter_index":4}`,
	})
	if err == nil || !strings.Contains(stdout.String(), "out of range") {
		t.Errorf("err = %v, output = %q", err, stdout.String())
	}

	err = run(ctx, &bytes.Buffer{}, &bytes.Buffer{}, []string{"-config", cfg, "call", "creative_writer--list_chapters", "{nope"})
	if err == nil || !strings.Contains(err.Error(), "not valid JSON") {
		t.Errorf("bad json err = %v", err)
	}

	err = run(ctx, &bytes.Buffer{}, &bytes.Buffer{}, []string{"-config", cfg, "call", "ghost--boo"})
	if err == nil || !strings.Contains(err.Error(), "unknown server") {
		t.Errorf("unknown server err = %v", err)
	}
}

func TestRun_CallPersistsStory(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "db", "story.db")
	cfg := writeConfig(t, "toolset: story\nlog_level: error\nstory:\n  db_path: "+dbPath+"\n  name: saga\n")
	ctx := context.Background()

	args := []string{"-config", cfg, "call", "creative_writer--create_chapter", `{"title":"Flood","content":"Water rose."}`}
	if err := run(ctx, &bytes.Buffer{}, &bytes.Buffer{}, args); err != nil {
		t.Fatalf("first call: %v", err)
	}

	// A second process sees the chapter restored from the snapshot.
	var stdout bytes.Buffer
	args = []string{"-config", cfg, "call", "creative_writer--list_chapters"}
	if err := run(ctx, &stdout, &bytes.Buffer{}, args); err != nil {
		t.Fatalf("second call: %v", err)
	}
	if !strings.Contains(stdout.String(), "Flood") {
		t.Errorf("restored chapters = %q", stdout.String())
	}

	store, err := story.OpenStore(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	snaps, err := store.List("saga")
	if err != nil {
		t.Fatal(err)
	}
	if len(snaps) != 1 {
		t.Errorf("snapshots = %d, want 1", len(snaps))
	}
}
