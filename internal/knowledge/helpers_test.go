package knowledge

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

const therapyGuide = `Therapy Guide

Depression is a common mood disorder that affects how a person feels and acts.

Treatment of depression usually combines several approaches. Behavioral activation helps people schedule rewarding activities and rebuild routines that depression has disrupted. Cognitive restructuring teaches people to notice and challenge negative automatic thoughts.

Anxiety responds well to gradual exposure and relaxation training.`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func mkdir(path string) error {
	return os.MkdirAll(path, 0o755)
}
