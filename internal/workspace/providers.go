// Package workspace implements the file-backed context providers: the
// read-only accessors that supply specification text, task summaries,
// project names, and learnings for a workspace. Every accessor degrades
// to a fallback instead of failing the caller's session.
package workspace

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	gitignore "github.com/sabhiram/go-gitignore"

	"epicdesk/internal/chat"
	"epicdesk/internal/learnings"
)

// Layout under each workspace root:
//
//	.epicdesk/project.json          display name
//	.epicdesk/epics/<id>/spec.md    epic specification
//	.epicdesk/epics/<id>/tasks/     one markdown file per task
//	.epicdesk/learnings/            cross-project learnings notes
//	.epicdesk/.ignore               optional ignore rules (gitignore syntax)
const dataDir = ".epicdesk"

// Providers reads epic context from the workspace filesystem. A zero
// limit disables learnings retrieval trimming.
type Providers struct {
	// LearningsLimit caps how many learnings notes are folded into a
	// prompt when an index is available. Default 3.
	LearningsLimit int

	index *learnings.Index
}

// NewProviders creates a provider set. index may be nil; learnings are
// then concatenated instead of retrieved by relevance.
func NewProviders(index *learnings.Index) *Providers {
	return &Providers{LearningsLimit: 3, index: index}
}

func epicDir(workspaceRoot, epicID string) string {
	return filepath.Join(workspaceRoot, dataDir, "epics", epicID)
}

// ReadSpec returns the epic's specification text, or "" when none has
// been written yet.
func (p *Providers) ReadSpec(_ context.Context, workspaceRoot, epicID string) (string, error) {
	data, err := os.ReadFile(filepath.Join(epicDir(workspaceRoot, epicID), "spec.md"))
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read spec: %w", err)
	}
	return string(data), nil
}

// ReadTaskSummary lists the epic's tasks, one line per task file: the
// file name and its status line (first line of the file). Returns ""
// when the epic has no tasks directory so the caller applies its
// sentinel.
func (p *Providers) ReadTaskSummary(_ context.Context, workspaceRoot, epicID string) (string, error) {
	tasksDir := filepath.Join(epicDir(workspaceRoot, epicID), "tasks")
	entries, err := os.ReadDir(tasksDir)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("list tasks: %w", err)
	}

	matcher := loadIgnoreMatcher(workspaceRoot)

	var lines []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".md") {
			continue
		}
		if matcher != nil && matcher.MatchesPath(filepath.Join("epics", epicID, "tasks", entry.Name())) {
			continue
		}
		data, err := os.ReadFile(filepath.Join(tasksDir, entry.Name()))
		if err != nil {
			continue // unreadable task files don't sink the summary
		}
		name := strings.TrimSuffix(entry.Name(), ".md")
		lines = append(lines, fmt.Sprintf("- %s: %s", name, firstLine(string(data))))
	}
	if len(lines) == 0 {
		return "", nil
	}
	sort.Strings(lines)
	return fmt.Sprintf("%d task(s):\n%s", len(lines), strings.Join(lines, "\n")), nil
}

type projectConfig struct {
	Name string `json:"name"`
}

// ReadProjectName returns the configured display name, falling back to
// the base name of the workspace root.
func (p *Providers) ReadProjectName(_ context.Context, workspaceRoot string) (string, error) {
	fallback := filepath.Base(workspaceRoot)

	data, err := os.ReadFile(filepath.Join(workspaceRoot, dataDir, "project.json"))
	if err != nil {
		return fallback, nil
	}
	var cfg projectConfig
	if err := json.Unmarshal(data, &cfg); err != nil || strings.TrimSpace(cfg.Name) == "" {
		return fallback, nil
	}
	return cfg.Name, nil
}

// ReadLearnings returns learnings text for the workspace, or "" when
// there are none. With an index present the query (the user's message)
// selects the most relevant notes; without one, all notes are joined.
func (p *Providers) ReadLearnings(_ context.Context, workspaceRoot, query string) (string, error) {
	if p.index != nil && strings.TrimSpace(query) != "" {
		limit := p.LearningsLimit
		if limit <= 0 {
			limit = 3
		}
		notes, err := p.index.Search(query, limit)
		if err != nil {
			return "", fmt.Errorf("search learnings: %w", err)
		}
		return strings.Join(notes, "\n\n"), nil
	}

	notes, err := LoadLearnings(workspaceRoot)
	if err != nil {
		return "", err
	}
	bodies := make([]string, 0, len(notes))
	for _, n := range notes {
		bodies = append(bodies, n.Body)
	}
	return strings.Join(bodies, "\n\n"), nil
}

// ReadExtraContext reads the caller-supplied cross-project files into a
// titled extension block. Unreadable files are skipped, not fatal.
func (p *Providers) ReadExtraContext(_ context.Context, sources []chat.ContextFile) (string, error) {
	var b strings.Builder
	for _, src := range sources {
		data, err := os.ReadFile(src.Path)
		if err != nil {
			continue
		}
		name := src.Name
		if name == "" {
			name = filepath.Base(src.Path)
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "### %s\n\n%s", name, strings.TrimSpace(string(data)))
	}
	return b.String(), nil
}

// Note is one learnings file on disk.
type Note struct {
	Name string
	Body string
}

// LoadLearnings reads all learnings notes for a workspace, honoring the
// workspace ignore rules. Missing directory means no learnings.
func LoadLearnings(workspaceRoot string) ([]Note, error) {
	dir := filepath.Join(workspaceRoot, dataDir, "learnings")
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list learnings: %w", err)
	}

	matcher := loadIgnoreMatcher(workspaceRoot)

	var notes []Note
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".md") {
			continue
		}
		if matcher != nil && matcher.MatchesPath(filepath.Join("learnings", entry.Name())) {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			continue
		}
		notes = append(notes, Note{
			Name: strings.TrimSuffix(entry.Name(), ".md"),
			Body: strings.TrimSpace(string(data)),
		})
	}
	sort.Slice(notes, func(i, j int) bool { return notes[i].Name < notes[j].Name })
	return notes, nil
}

// loadIgnoreMatcher compiles the workspace's optional ignore rules.
// Paths are matched relative to the data directory.
func loadIgnoreMatcher(workspaceRoot string) gitignore.IgnoreParser {
	path := filepath.Join(workspaceRoot, dataDir, ".ignore")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	return gitignore.CompileIgnoreLines(strings.Split(string(data), "\n")...)
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		s = s[:idx]
	}
	return strings.TrimSpace(s)
}
