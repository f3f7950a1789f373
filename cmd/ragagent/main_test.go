package main

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"ragagent/internal/config"
)

func init() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestCleanedPath(t *testing.T) {
	if got := cleanedPath("data/guide.txt"); got != "data/guide_cleaned.txt" {
		t.Fatalf("unexpected path %q", got)
	}
	if got := cleanedPath("notes"); got != "notes_cleaned" {
		t.Fatalf("unexpected path %q", got)
	}
}

func TestLoadEnvFiles(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env.local")
	if err := os.WriteFile(envPath, []byte("RAGAGENT_TEST_KEY=from-file\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("RAGAGENT_TEST_KEY", "")
	os.Unsetenv("RAGAGENT_TEST_KEY")

	n := loadEnvFiles([]string{envPath, filepath.Join(dir, "missing.env")})
	if n != 1 {
		t.Fatalf("expected 1 file loaded, got %d", n)
	}
	if got := os.Getenv("RAGAGENT_TEST_KEY"); got != "from-file" {
		t.Fatalf("expected variable from env file, got %q", got)
	}
}

func TestBackupRoundTrip(t *testing.T) {
	dir := t.TempDir()
	index := filepath.Join(dir, "storage", "index.db")
	if err := os.MkdirAll(filepath.Dir(index), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(index, []byte("index-bytes"), 0o644); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	written, err := writeArchive(&buf, map[string]string{
		"index.db":       index,
		"call-traces.db": filepath.Join(dir, "missing.db"),
	})
	if err != nil {
		t.Fatalf("writeArchive: %v", err)
	}
	if len(written) != 1 || written[0].name != "index.db" || written[0].size != int64(len("index-bytes")) {
		t.Fatalf("missing files should be skipped: %+v", written)
	}

	target := filepath.Join(dir, "restored", "index.db")
	restored, err := readArchive(&buf, map[string]string{"index.db": target})
	if err != nil {
		t.Fatalf("readArchive: %v", err)
	}
	if len(restored) != 1 || restored[0] != target {
		t.Fatalf("unexpected restored files %v", restored)
	}
	data, _ := os.ReadFile(target)
	if string(data) != "index-bytes" {
		t.Fatalf("unexpected restored content %q", data)
	}
	leftovers, _ := filepath.Glob(filepath.Join(dir, "restored", ".restore-*"))
	if len(leftovers) != 0 {
		t.Fatalf("temp files left behind: %v", leftovers)
	}
}

func TestReadArchive_RejectsNonGzip(t *testing.T) {
	if _, err := readArchive(strings.NewReader("plain text"), nil); err == nil {
		t.Fatal("expected an error for a non-gzip archive")
	}
}

func TestArchiveManifest(t *testing.T) {
	cfg := config.Defaults()
	cfg.Knowledge.PersistDir = "/data/storage"
	cfg.Traces.DBPath = "/data/traces.db"

	m := archiveManifest(cfg, "/etc/ragagent/config.yaml")
	want := map[string]string{
		"index.db":           "/data/storage/index.db",
		"call-traces.db":     "/data/traces.db",
		"call-traces.db-wal": "/data/traces.db-wal",
		"config.yaml":        "/etc/ragagent/config.yaml",
	}
	for name, path := range want {
		if m[name] != path {
			t.Fatalf("member %s -> %q, want %q", name, m[name], path)
		}
	}

	cfg.Traces.DBPath = ""
	if _, ok := archiveManifest(cfg, "c.json")["call-traces.db-wal"]; ok {
		t.Fatal("no WAL member expected without a trace database")
	}
}

func TestCheckReport(t *testing.T) {
	var out bytes.Buffer
	r := &checkReport{w: &out}

	dir := t.TempDir()
	checkDocuments(r, dir)
	if err := os.WriteFile(filepath.Join(dir, "therapy_guide.txt"), []byte("Behavioral activation treats depression."), 0o644); err != nil {
		t.Fatal(err)
	}
	checkDocuments(r, dir)
	r.warn("Index", "not built yet")

	if r.passed != 1 || r.warned != 1 || r.failed != 1 {
		t.Fatalf("unexpected tally %d/%d/%d", r.passed, r.warned, r.failed)
	}
	if !strings.Contains(out.String(), "[PASS] Documents") || !strings.Contains(out.String(), "1 files") {
		t.Fatalf("unexpected report:\n%s", out.String())
	}
	if err := r.summary(); err == nil {
		t.Fatal("a failed check should fail the summary")
	}
}
