package chat

import (
	"context"
	"log"
	"path/filepath"
)

// PromptAssembler composes the system prompt for one request. It must
// never fail; missing context is handled with fallbacks, not errors.
type PromptAssembler func(cmd CommandType, bundle ContextBundle, extra string) string

// StartRequest carries everything one session needs. History is the
// prior conversation, oldest first; the orchestrator appends the new
// user turn itself and never mutates the caller's slice.
type StartRequest struct {
	WorkspaceRoot  string
	ConversationID string
	Command        CommandType
	Message        string
	History        []Message
	ExtraContext   []ContextFile
}

// Streamer drives cancellable streaming sessions against the completion
// service, one in flight per conversation key.
type Streamer struct {
	registry *Registry
	client   CompletionClient
	sources  ContextSource
	assemble PromptAssembler
	sink     EventSink
}

// NewStreamer wires the orchestrator to its collaborators. The registry
// is shared state: streamers built over the same registry enforce the
// single-flight invariant together, so a replacement streamer still
// supersedes and aborts sessions its predecessor started. sink may be
// nil while the display surface isn't attached yet; events are then
// dropped.
func NewStreamer(registry *Registry, client CompletionClient, sources ContextSource, assemble PromptAssembler, sink EventSink) *Streamer {
	return &Streamer{
		registry: registry,
		client:   client,
		sources:  sources,
		assemble: assemble,
		sink:     sink,
	}
}

// Start begins a streaming session for the request's conversation key,
// superseding any session already running under that key. The
// supersession (cancel prior, register new) completes synchronously
// before Start returns; the session itself runs in its own goroutine
// and reports through the event sink.
func (s *Streamer) Start(ctx context.Context, req StartRequest) {
	key := SessionKey(req.WorkspaceRoot, req.ConversationID)
	sessCtx, release := s.registry.Begin(ctx, key)
	go s.run(sessCtx, release, req)
}

// Abort cancels the active session for the conversation, if any.
// Returns whether a session was actually running. Safe to call when
// nothing is active.
func (s *Streamer) Abort(workspaceRoot, conversationID string) bool {
	return s.registry.Cancel(SessionKey(workspaceRoot, conversationID))
}

func (s *Streamer) run(ctx context.Context, release func(), req StartRequest) {
	defer release()

	bundle, extra := s.collectContext(ctx, req)
	system := s.assemble(req.Command, bundle, extra)

	messages := make([]Message, 0, len(req.History)+1)
	messages = append(messages, req.History...)
	messages = append(messages, Message{Role: RoleUser, Content: req.Message})

	stream, err := s.client.OpenStream(ctx, system, messages)
	if err != nil {
		s.fail(ctx, req, err)
		return
	}

	for {
		select {
		case <-ctx.Done():
			stream.Abort()
			return
		case frag, ok := <-stream.Fragments():
			if !ok {
				goto settled
			}
			s.emit(ctx, req, Event{Kind: EventTextDelta, Text: frag})
		}
	}

settled:
	final, err := stream.Final(ctx)
	if err != nil {
		s.fail(ctx, req, err)
		return
	}
	// The delivered deltas concatenate to exactly this text; the
	// complete event carries it so surfaces never have to reassemble.
	s.emit(ctx, req, Event{Kind: EventTextComplete, Text: final})
}

// collectContext builds a fresh bundle from the context sources. Every
// read failure degrades to a fallback; nothing here can end a session.
func (s *Streamer) collectContext(ctx context.Context, req StartRequest) (ContextBundle, string) {
	var bundle ContextBundle

	if spec, err := s.sources.ReadSpec(ctx, req.WorkspaceRoot, req.ConversationID); err == nil {
		bundle.Spec = spec
	} else {
		log.Printf("chat: spec read failed for %s: %v", req.ConversationID, err)
	}

	if tasks, err := s.sources.ReadTaskSummary(ctx, req.WorkspaceRoot, req.ConversationID); err == nil && tasks != "" {
		bundle.TaskSummary = tasks
	} else {
		bundle.TaskSummary = NoTaskData
	}

	if name, err := s.sources.ReadProjectName(ctx, req.WorkspaceRoot); err == nil && name != "" {
		bundle.ProjectName = name
	} else {
		bundle.ProjectName = filepath.Base(req.WorkspaceRoot)
	}

	if learnings, err := s.sources.ReadLearnings(ctx, req.WorkspaceRoot, req.Message); err == nil {
		bundle.Learnings = learnings
	} else {
		log.Printf("chat: learnings read failed for %s: %v", req.WorkspaceRoot, err)
	}

	extra := ""
	if len(req.ExtraContext) > 0 {
		if block, err := s.sources.ReadExtraContext(ctx, req.ExtraContext); err == nil {
			extra = block
		} else {
			log.Printf("chat: extra context read failed: %v", err)
		}
	}

	return bundle, extra
}

// NoTaskData is the sentinel task summary used when no task listing
// exists for an epic.
const NoTaskData = "No tasks have been created for this epic yet."

// fail classifies err and emits a single error event, unless the
// session was cancelled, in which case the failure is our own abort and
// the session ends silently.
func (s *Streamer) fail(ctx context.Context, req StartRequest, err error) {
	if ctx.Err() != nil {
		return
	}
	s.emit(ctx, req, Event{
		Kind:      EventError,
		ErrorKind: Classify(err),
		Message:   err.Error(),
	})
}

// emit forwards one event to the display surface. The cancellation
// signal is checked immediately before every emission so a superseded
// or aborted session never delivers late events.
func (s *Streamer) emit(ctx context.Context, req StartRequest, ev Event) {
	if ctx.Err() != nil {
		return
	}
	sink := s.sink
	if sink == nil {
		return
	}
	sink.Publish(req.WorkspaceRoot, req.ConversationID, ev)
}
