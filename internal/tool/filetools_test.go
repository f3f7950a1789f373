package tool

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"ragagent/internal/domain"
	"ragagent/internal/knowledge"
)

func writeDoc(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func fileToolsOptions() FileToolsOptions {
	return FileToolsOptions{Embedder: knowledge.NewHashEmbedder(128), Logger: testLogger()}
}

func TestCreateFileSpecificTools_TwoPerFile(t *testing.T) {
	dir := t.TempDir()
	writeDoc(t, dir, "b_notes.txt", "Sleep hygiene means a regular bedtime.")
	writeDoc(t, dir, "a_guide.md", "Behavioral activation helps with depression.")
	writeDoc(t, dir, "c_data.txt", "Exercise improves mood.")
	writeDoc(t, dir, ".hidden.txt", "ignored")
	if err := os.Mkdir(filepath.Join(dir, "nested"), 0o755); err != nil {
		t.Fatal(err)
	}

	byPath, tools, err := CreateFileSpecificTools(context.Background(), dir, fileToolsOptions())
	if err != nil {
		t.Fatalf("CreateFileSpecificTools: %v", err)
	}
	if len(byPath) != 3 {
		t.Fatalf("expected 3 files, got %d", len(byPath))
	}
	if len(tools) != 6 {
		t.Fatalf("expected 6 tools, got %d", len(tools))
	}
	want := []string{
		"vector_tool_a_guide", "summary_tool_a_guide",
		"vector_tool_b_notes", "summary_tool_b_notes",
		"vector_tool_c_data", "summary_tool_c_data",
	}
	for i, name := range want {
		if tools[i].Name() != name {
			t.Fatalf("tool %d: expected %s, got %s", i, name, tools[i].Name())
		}
	}

	ft, ok := byPath[filepath.Join(dir, "a_guide.md")]
	if !ok {
		t.Fatal("expected tools keyed by file path")
	}
	if ft.Vector.Name() != "vector_tool_a_guide" || ft.Document.Name != "a_guide" {
		t.Fatalf("unexpected file tools %+v", ft)
	}
}

func TestCreateFileSpecificTools_SkipsBadFiles(t *testing.T) {
	dir := t.TempDir()
	writeDoc(t, dir, "good.txt", "Useful text about anxiety.")
	writeDoc(t, dir, "picture.png", "\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

	byPath, tools, err := CreateFileSpecificTools(context.Background(), dir, fileToolsOptions())
	if err != nil {
		t.Fatal(err)
	}
	if len(byPath) != 1 || len(tools) != 2 {
		t.Fatalf("expected only good.txt tools, got %d files / %d tools", len(byPath), len(tools))
	}
}

func TestCreateFileSpecificTools_MissingDir(t *testing.T) {
	byPath, tools, err := CreateFileSpecificTools(context.Background(), filepath.Join(t.TempDir(), "missing"), fileToolsOptions())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(byPath) != 0 || len(tools) != 0 {
		t.Fatal("expected empty results")
	}
}

func TestCreateFileSpecificTools_DuplicateStems(t *testing.T) {
	dir := t.TempDir()
	writeDoc(t, dir, "notes.md", "Markdown notes about grief.")
	writeDoc(t, dir, "notes.txt", "Plain notes about grief.")
	writeDoc(t, dir, "my notes!.txt", "Notes with spaces in the name.")

	_, tools, err := CreateFileSpecificTools(context.Background(), dir, fileToolsOptions())
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, tl := range tools {
		names = append(names, tl.Name())
	}
	got := strings.Join(names, ",")
	want := "vector_tool_my_notes_,summary_tool_my_notes_,vector_tool_notes,summary_tool_notes,vector_tool_notes_2,summary_tool_notes_2"
	if got != want {
		t.Fatalf("expected %s, got %s", want, got)
	}
}

func TestVectorTool_RestrictedToItsDocument(t *testing.T) {
	dir := t.TempDir()
	writeDoc(t, dir, "depression.txt", "Behavioral activation is a treatment for depression.")
	writeDoc(t, dir, "garden.txt", "Tomatoes need sun and water.")

	byPath, _, err := CreateFileSpecificTools(context.Background(), dir, fileToolsOptions())
	if err != nil {
		t.Fatal(err)
	}
	garden := byPath[filepath.Join(dir, "garden.txt")]
	out, err := garden.Vector.Execute(context.Background(), map[string]any{"query": "depression treatment"})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if strings.Contains(out, "Behavioral") || !strings.Contains(out, "Tomatoes") {
		t.Fatalf("expected only garden content, got %q", out)
	}

	summary, err := byPath[filepath.Join(dir, "depression.txt")].Summary.Execute(context.Background(), map[string]any{"query": "overview"})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(summary, "Summary of depression") {
		t.Fatalf("unexpected summary %q", summary)
	}
}

func TestSanitizeToolName(t *testing.T) {
	cases := map[string]string{
		"therapy_guide":  "therapy_guide",
		"Q3 report (v2)": "Q3_report_v2_",
		"über-notes":     "_ber-notes",
		"***":            "doc",
	}
	for in, want := range cases {
		if got := SanitizeToolName(in); got != want {
			t.Fatalf("SanitizeToolName(%q) = %q, want %q", in, got, want)
		}
	}
	long := strings.Repeat("x", 100)
	if got := SanitizeToolName(long); len(summaryToolPrefix+got) > 64-4 {
		t.Fatalf("expected name to fit, got %d chars", len(summaryToolPrefix+got))
	}
}

var _ domain.Tool = (*QueryEngineTool)(nil)
