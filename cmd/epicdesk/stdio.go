package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"strings"
	"sync"

	"epicdesk/internal/chat"
	"epicdesk/internal/config"
	"epicdesk/internal/history"
	"epicdesk/internal/learnings"
	"epicdesk/internal/prompts"
	"epicdesk/internal/protocol"
	"epicdesk/internal/providers"
	"epicdesk/internal/workspace"
)

const defaultHistoryLimit = 50

func runStdIOEngine(ctx context.Context, env *runtimeEnv) error {
	log.Println("starting engine stdio bridge (--stdio)")
	runner := newStdIORunner(os.Stdin, os.Stdout, env)
	runner.emitEvent(protocol.NewStatusEvent("", "engine_ready", "stdio protocol ready"))
	defer runner.stopWatchers()
	return runner.Run(ctx)
}

type stdioRunner struct {
	scanner *bufio.Scanner
	writer  *bufio.Writer
	events  chan protocol.Event
	config  *config.Manager
	store   *history.Store
	index   *learnings.Index
	// One session table for the process lifetime. Streamers come and go
	// with configuration changes; the single-flight guarantee must not.
	registry *chat.Registry

	emitMu       sync.RWMutex
	eventsClosed bool

	mu       sync.Mutex
	streamer *chat.Streamer
	watchers map[string]*workspace.Watcher
	// Workspace root -> names of the notes currently indexed from it,
	// so a reindex can drop notes whose files vanished.
	indexedNotes map[string]map[string]bool
}

func newStdIORunner(in io.Reader, out io.Writer, env *runtimeEnv) *stdioRunner {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	return &stdioRunner{
		scanner:      scanner,
		writer:       bufio.NewWriter(out),
		events:       make(chan protocol.Event, 256),
		config:       env.Config,
		store:        env.History,
		index:        env.Learnings,
		registry:     chat.NewRegistry(),
		watchers:     make(map[string]*workspace.Watcher),
		indexedNotes: make(map[string]map[string]bool),
	}
}

func (r *stdioRunner) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 1)
	go r.flushEvents(ctx, errCh)

	for {
		select {
		case <-ctx.Done():
			r.closeEvents()
			return <-errCh
		default:
		}

		if !r.scanner.Scan() {
			break
		}
		line := strings.TrimSpace(r.scanner.Text())
		if line == "" {
			continue
		}
		// Handle asynchronously so abort_chat is never stuck behind a
		// running start_chat.
		go func(l string) {
			if err := r.handleLine(ctx, l); err != nil {
				log.Printf("stdio command error: %v", err)
			}
		}(line)
	}

	if err := r.scanner.Err(); err != nil && !errors.Is(err, io.EOF) {
		r.emitEvent(protocol.NewErrorEvent("", string(chat.ErrNetwork), fmt.Sprintf("stdin error: %v", err)))
		r.closeEvents()
		return <-errCh
	}

	r.closeEvents()
	return <-errCh
}

func (r *stdioRunner) flushEvents(ctx context.Context, errCh chan<- error) {
	for {
		select {
		case <-ctx.Done():
			errCh <- nil
			return
		case ev, ok := <-r.events:
			if !ok {
				if err := r.writer.Flush(); err != nil {
					errCh <- err
					return
				}
				errCh <- nil
				return
			}
			if err := r.writeEvent(ev); err != nil {
				errCh <- err
				return
			}
		}
	}
}

func (r *stdioRunner) writeEvent(ev protocol.Event) error {
	payload, err := protocol.MarshalEvent(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if _, err := r.writer.Write(append(payload, '\n')); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	return r.writer.Flush()
}

// emitEvent is safe to call from session goroutines after the runner
// shut the channel: late events are dropped, not panicked on.
func (r *stdioRunner) emitEvent(ev protocol.Event) {
	r.emitMu.RLock()
	defer r.emitMu.RUnlock()
	if r.eventsClosed {
		log.Printf("stdio: dropping event %s after shutdown", ev.GetType())
		return
	}
	select {
	case r.events <- ev:
	default:
		log.Printf("stdio: dropping event %s due to full buffer", ev.GetType())
	}
}

func (r *stdioRunner) closeEvents() {
	r.emitMu.Lock()
	defer r.emitMu.Unlock()
	if r.eventsClosed {
		return
	}
	r.eventsClosed = true
	close(r.events)
}

// Publish implements chat.EventSink. Translation is best-effort: a full
// buffer drops the event rather than stalling the session.
func (r *stdioRunner) Publish(workspaceRoot, conversationID string, ev chat.Event) {
	switch ev.Kind {
	case chat.EventTextDelta:
		r.emitEvent(protocol.NewTextDeltaEvent(conversationID, ev.Text))
	case chat.EventTextComplete:
		r.emitEvent(protocol.NewTextCompleteEvent(conversationID, ev.Text))
		r.persistAssistantTurn(workspaceRoot, conversationID, ev.Text)
	case chat.EventError:
		r.emitEvent(protocol.NewErrorEvent(conversationID, string(ev.ErrorKind), ev.Message))
	}
}

func (r *stdioRunner) persistAssistantTurn(root, epicID, text string) {
	if text == "" {
		return
	}
	// Off the sink's calling goroutine; persistence must never block
	// event delivery.
	go func() {
		err := r.store.Append(context.Background(), root, epicID,
			chat.Message{Role: chat.RoleAssistant, Content: text})
		if err != nil {
			log.Printf("failed to persist assistant turn: %v", err)
		}
	}()
}

func (r *stdioRunner) handleLine(ctx context.Context, line string) error {
	cmd, err := protocol.DecodeCommand([]byte(line))
	if err != nil {
		r.emitEvent(protocol.NewErrorEvent("", string(chat.ErrInvalidResponse), err.Error()))
		return err
	}

	switch c := cmd.(type) {
	case protocol.StartChatCommand:
		return r.handleStartChat(ctx, c)
	case protocol.AbortChatCommand:
		return r.handleAbortChat(c)
	case protocol.SaveConfigCommand:
		return r.handleSaveConfig(c)
	case protocol.GetConfigCommand:
		return r.handleGetConfig()
	default:
		return fmt.Errorf("unhandled command type: %s", cmd.GetType())
	}
}

func (r *stdioRunner) handleStartChat(ctx context.Context, c protocol.StartChatCommand) error {
	streamer, err := r.ensureStreamer()
	if err != nil {
		r.emitEvent(protocol.NewErrorEvent(c.EpicID, string(chat.ErrAuth), err.Error()))
		return err
	}
	r.ensureWorkspace(c.WorkspaceRoot)

	hist := make([]chat.Message, 0, len(c.History))
	for _, m := range c.History {
		role := chat.RoleUser
		if m.Role == string(chat.RoleAssistant) {
			role = chat.RoleAssistant
		}
		hist = append(hist, chat.Message{Role: role, Content: m.Content})
	}
	if len(hist) == 0 {
		stored, err := r.store.Recent(ctx, c.WorkspaceRoot, c.EpicID, r.historyLimit())
		if err != nil {
			log.Printf("failed to load history for %s: %v", c.EpicID, err)
		} else {
			hist = stored
		}
	}

	extra := make([]chat.ContextFile, 0, len(c.ExtraContext))
	for _, f := range c.ExtraContext {
		extra = append(extra, chat.ContextFile{Path: f.Path, Name: f.Name})
	}

	command := chat.CommandType(c.Command)
	switch command {
	case chat.CommandInterview, chat.CommandReview, chat.CommandChat:
	default:
		command = chat.CommandChat
	}

	// Persist the user turn up front; the assistant turn follows when
	// the stream completes.
	if err := r.store.Append(ctx, c.WorkspaceRoot, c.EpicID, chat.Message{Role: chat.RoleUser, Content: c.Message}); err != nil {
		log.Printf("failed to persist user turn: %v", err)
	}

	streamer.Start(ctx, chat.StartRequest{
		WorkspaceRoot:  c.WorkspaceRoot,
		ConversationID: c.EpicID,
		Command:        command,
		Message:        c.Message,
		History:        hist,
		ExtraContext:   extra,
	})
	r.emitEvent(protocol.NewStatusEvent(c.EpicID, "chat_started", "request="+c.RequestID))
	return nil
}

func (r *stdioRunner) handleAbortChat(c protocol.AbortChatCommand) error {
	// Straight to the registry: the session may have been started by a
	// streamer that a save_config has since replaced.
	wasActive := r.registry.Cancel(chat.SessionKey(c.WorkspaceRoot, c.EpicID))
	r.emitEvent(protocol.NewAbortedEvent(c.EpicID, wasActive))
	return nil
}

func (r *stdioRunner) handleSaveConfig(c protocol.SaveConfigCommand) error {
	historyLimit := 0
	if v := c.Config["history_limit"]; v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			historyLimit = n
		}
	}
	cfg := &config.Config{
		LLMProvider:   c.Config["llm_provider"],
		APIKey:        c.Config["api_key"],
		Model:         c.Config["model"],
		BaseURL:       c.Config["base_url"],
		HistoryLimit:  historyLimit,
		LearningsRoot: c.Config["learnings_root"],
	}
	if err := r.config.Save(cfg); err != nil {
		r.emitEvent(protocol.NewErrorEvent("", string(chat.ErrInvalidResponse), err.Error()))
		return err
	}

	// Drop the current streamer so the next start_chat rebuilds the
	// completion client from the new config. In-flight sessions stay
	// registered in the shared registry, so they remain abortable and
	// a restart under the same key still supersedes them.
	r.mu.Lock()
	r.streamer = nil
	r.mu.Unlock()

	r.emitEvent(protocol.NewStatusEvent("", "setup_complete", "configuration saved"))
	return nil
}

func (r *stdioRunner) handleGetConfig() error {
	cfg, err := r.config.Load()
	if err != nil {
		r.emitEvent(protocol.NewConfigLoadedEvent(map[string]string{}))
		return nil
	}
	cfgMap := map[string]string{
		"llm_provider":   cfg.LLMProvider,
		"api_key":        cfg.APIKey,
		"model":          cfg.Model,
		"base_url":       cfg.BaseURL,
		"learnings_root": cfg.LearningsRoot,
	}
	if cfg.HistoryLimit > 0 {
		cfgMap["history_limit"] = strconv.Itoa(cfg.HistoryLimit)
	}
	r.emitEvent(protocol.NewConfigLoadedEvent(cfgMap))
	return nil
}

func (r *stdioRunner) historyLimit() int {
	cfg, err := r.config.Load()
	if err != nil || cfg.HistoryLimit <= 0 {
		return defaultHistoryLimit
	}
	return cfg.HistoryLimit
}

// ensureStreamer lazily builds the orchestrator the first time a chat
// starts, and again after the configuration changes.
func (r *stdioRunner) ensureStreamer() (*chat.Streamer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.streamer != nil {
		return r.streamer, nil
	}

	cfg, err := r.config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	client, model, err := providers.NewCompletionClient(cfg)
	if err != nil {
		return nil, err
	}
	log.Printf("completion client ready (model: %s)", model)

	sources := workspace.NewProviders(r.index)
	r.streamer = chat.NewStreamer(r.registry, client, sources, prompts.Assemble, r)
	return r.streamer, nil
}

// ensureWorkspace starts the context watcher and seeds the learnings
// index for a workspace the first time it is seen.
func (r *stdioRunner) ensureWorkspace(root string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.indexedNotes[root]; !ok {
		r.indexLearnings(root)
	}

	if _, ok := r.watchers[root]; ok {
		return
	}
	w, err := workspace.NewWatcher(root)
	if err != nil {
		log.Printf("failed to create watcher for %s: %v", root, err)
		return
	}
	w.OnChange(func(paths []string) {
		r.emitEvent(protocol.NewContextChangedEvent(root, paths))
		for _, p := range paths {
			if strings.HasPrefix(p, "learnings") {
				r.mu.Lock()
				r.indexLearnings(root)
				r.mu.Unlock()
				break
			}
		}
	})
	if err := w.Start(); err != nil {
		log.Printf("failed to start watcher for %s: %v", root, err)
		return
	}
	r.watchers[root] = w
}

// indexLearnings is called with r.mu held. It mirrors the on-disk
// notes into the index: new and changed notes are (re)added, and notes
// whose files are gone are removed so stale bodies stop landing in
// prompts.
func (r *stdioRunner) indexLearnings(root string) {
	notes, err := workspace.LoadLearnings(root)
	if err != nil {
		log.Printf("failed to load learnings for %s: %v", root, err)
		return
	}

	current := make(map[string]bool, len(notes))
	for _, note := range notes {
		current[note.Name] = true
		if err := r.index.Add(note.Name, note.Body); err != nil {
			log.Printf("failed to index learning %s: %v", note.Name, err)
		}
	}
	for name := range r.indexedNotes[root] {
		if current[name] {
			continue
		}
		if err := r.index.Delete(name); err != nil {
			log.Printf("failed to drop stale learning %s: %v", name, err)
		}
	}
	r.indexedNotes[root] = current

	if len(notes) > 0 {
		log.Printf("indexed %d learnings notes from %s", len(notes), root)
	}
}

func (r *stdioRunner) stopWatchers() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for root, w := range r.watchers {
		if err := w.Stop(); err != nil {
			log.Printf("failed to stop watcher for %s: %v", root, err)
		}
	}
	r.watchers = make(map[string]*workspace.Watcher)
}
