package workspace

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"epicdesk/internal/chat"
	"epicdesk/internal/learnings"
)

// writeFile creates path (and parents) with content.
func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestReadSpec(t *testing.T) {
	root := t.TempDir()
	p := NewProviders(nil)
	ctx := context.Background()

	got, err := p.ReadSpec(ctx, root, "epic-1")
	if err != nil {
		t.Fatalf("ReadSpec on missing file: %v", err)
	}
	if got != "" {
		t.Errorf("missing spec should read as empty, got %q", got)
	}

	writeFile(t, filepath.Join(root, ".epicdesk", "epics", "epic-1", "spec.md"), "# Login\n\nUsers sign in.")
	got, err = p.ReadSpec(ctx, root, "epic-1")
	if err != nil {
		t.Fatalf("ReadSpec: %v", err)
	}
	if !strings.Contains(got, "Users sign in.") {
		t.Errorf("ReadSpec = %q, want spec body", got)
	}
}

func TestReadTaskSummary(t *testing.T) {
	root := t.TempDir()
	p := NewProviders(nil)
	ctx := context.Background()

	got, err := p.ReadTaskSummary(ctx, root, "epic-1")
	if err != nil || got != "" {
		t.Fatalf("no tasks dir should read as empty, got %q err %v", got, err)
	}

	tasksDir := filepath.Join(root, ".epicdesk", "epics", "epic-1", "tasks")
	writeFile(t, filepath.Join(tasksDir, "build-form.md"), "status: in progress\ndetails here")
	writeFile(t, filepath.Join(tasksDir, "add-tests.md"), "status: todo")
	writeFile(t, filepath.Join(tasksDir, "notes.txt"), "not a task")

	got, err = p.ReadTaskSummary(ctx, root, "epic-1")
	if err != nil {
		t.Fatalf("ReadTaskSummary: %v", err)
	}
	if !strings.HasPrefix(got, "2 task(s):") {
		t.Errorf("summary header = %q, want count of 2", got)
	}
	if !strings.Contains(got, "- build-form: status: in progress") {
		t.Errorf("summary missing first-line status: %q", got)
	}
	if strings.Contains(got, "details here") {
		t.Errorf("summary should only include each task's first line: %q", got)
	}
	if strings.Contains(got, "notes") {
		t.Errorf("non-markdown files must be skipped: %q", got)
	}

	// Sorted output keeps the prompt reproducible.
	if strings.Index(got, "add-tests") > strings.Index(got, "build-form") {
		t.Errorf("task lines not sorted: %q", got)
	}
}

func TestReadTaskSummaryHonorsIgnoreRules(t *testing.T) {
	root := t.TempDir()
	p := NewProviders(nil)

	tasksDir := filepath.Join(root, ".epicdesk", "epics", "epic-1", "tasks")
	writeFile(t, filepath.Join(tasksDir, "keep.md"), "status: todo")
	writeFile(t, filepath.Join(tasksDir, "draft-idea.md"), "status: draft")
	writeFile(t, filepath.Join(root, ".epicdesk", ".ignore"), "draft-*.md\n")

	got, err := p.ReadTaskSummary(context.Background(), root, "epic-1")
	if err != nil {
		t.Fatalf("ReadTaskSummary: %v", err)
	}
	if strings.Contains(got, "draft-idea") {
		t.Errorf("ignored task leaked into summary: %q", got)
	}
	if !strings.Contains(got, "keep") {
		t.Errorf("non-ignored task missing from summary: %q", got)
	}
}

func TestReadProjectName(t *testing.T) {
	root := t.TempDir()
	p := NewProviders(nil)
	ctx := context.Background()

	got, err := p.ReadProjectName(ctx, root)
	if err != nil {
		t.Fatalf("ReadProjectName: %v", err)
	}
	if got != filepath.Base(root) {
		t.Errorf("fallback name = %q, want %q", got, filepath.Base(root))
	}

	writeFile(t, filepath.Join(root, ".epicdesk", "project.json"), `{"name": "Rocket"}`)
	got, err = p.ReadProjectName(ctx, root)
	if err != nil {
		t.Fatalf("ReadProjectName: %v", err)
	}
	if got != "Rocket" {
		t.Errorf("name = %q, want %q", got, "Rocket")
	}

	// Malformed metadata degrades to the fallback rather than failing.
	writeFile(t, filepath.Join(root, ".epicdesk", "project.json"), `{not json`)
	got, err = p.ReadProjectName(ctx, root)
	if err != nil {
		t.Fatalf("ReadProjectName: %v", err)
	}
	if got != filepath.Base(root) {
		t.Errorf("malformed metadata should fall back, got %q", got)
	}
}

func TestLoadLearnings(t *testing.T) {
	root := t.TempDir()

	notes, err := LoadLearnings(root)
	if err != nil {
		t.Fatalf("LoadLearnings on missing dir: %v", err)
	}
	if len(notes) != 0 {
		t.Errorf("missing dir should yield no notes, got %d", len(notes))
	}

	dir := filepath.Join(root, ".epicdesk", "learnings")
	writeFile(t, filepath.Join(dir, "b-caching.md"), "Cache invalidation is hard.\n")
	writeFile(t, filepath.Join(dir, "a-auth.md"), "Rotate tokens early.")
	writeFile(t, filepath.Join(root, ".epicdesk", ".ignore"), "learnings/b-*.md\n")

	notes, err = LoadLearnings(root)
	if err != nil {
		t.Fatalf("LoadLearnings: %v", err)
	}
	if len(notes) != 1 {
		t.Fatalf("got %d notes, want 1 after ignore rules", len(notes))
	}
	if notes[0].Name != "a-auth" || notes[0].Body != "Rotate tokens early." {
		t.Errorf("note = %+v, want trimmed a-auth body", notes[0])
	}
}

func TestReadLearningsWithIndex(t *testing.T) {
	index, err := learnings.NewIndex()
	if err != nil {
		t.Fatalf("NewIndex: %v", err)
	}
	defer index.Close()

	if err := index.Add("auth", "Rotate OAuth tokens before expiry to avoid login storms."); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := index.Add("caching", "Prefer short TTLs over manual invalidation."); err != nil {
		t.Fatalf("Add: %v", err)
	}

	p := NewProviders(index)
	got, err := p.ReadLearnings(context.Background(), t.TempDir(), "how should I handle oauth tokens")
	if err != nil {
		t.Fatalf("ReadLearnings: %v", err)
	}
	if !strings.Contains(got, "OAuth tokens") {
		t.Errorf("relevant note missing from result: %q", got)
	}
}

func TestReadLearningsWithoutQueryFallsBackToAll(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, ".epicdesk", "learnings", "one.md"), "First note.")
	writeFile(t, filepath.Join(root, ".epicdesk", "learnings", "two.md"), "Second note.")

	index, err := learnings.NewIndex()
	if err != nil {
		t.Fatalf("NewIndex: %v", err)
	}
	defer index.Close()

	p := NewProviders(index)
	got, err := p.ReadLearnings(context.Background(), root, "   ")
	if err != nil {
		t.Fatalf("ReadLearnings: %v", err)
	}
	if !strings.Contains(got, "First note.") || !strings.Contains(got, "Second note.") {
		t.Errorf("blank query should include all notes, got %q", got)
	}
}

func TestReadExtraContext(t *testing.T) {
	dir := t.TempDir()
	other := filepath.Join(dir, "elsewhere.md")
	writeFile(t, other, "Shared convention: errors are wrapped.\n")

	p := NewProviders(nil)
	got, err := p.ReadExtraContext(context.Background(), []chat.ContextFile{
		{Path: other, Name: "conventions"},
		{Path: filepath.Join(dir, "missing.md"), Name: "gone"},
	})
	if err != nil {
		t.Fatalf("ReadExtraContext: %v", err)
	}
	if !strings.Contains(got, "### conventions") {
		t.Errorf("block missing title: %q", got)
	}
	if !strings.Contains(got, "errors are wrapped") {
		t.Errorf("block missing content: %q", got)
	}
	if strings.Contains(got, "gone") {
		t.Errorf("unreadable file should be skipped: %q", got)
	}
}
