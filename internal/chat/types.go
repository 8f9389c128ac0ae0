package chat

import "context"

// MessageRole represents the role of a chat message.
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
)

// Message is the provider-agnostic chat message we pass around.
// Messages are immutable once constructed; an ordered slice of them
// (oldest first) forms the conversation history.
type Message struct {
	Role    MessageRole `json:"role"`
	Content string      `json:"content"`
}

// CommandType selects which persona instruction block is interposed
// in the system prompt.
type CommandType string

const (
	CommandInterview CommandType = "interview"
	CommandReview    CommandType = "review"
	CommandChat      CommandType = "chat"
)

// EventKind enumerates the outcomes a session can deliver to the
// display surface.
type EventKind string

const (
	EventTextDelta    EventKind = "text_delta"
	EventTextComplete EventKind = "text_complete"
	EventError        EventKind = "error"
)

// ErrorKind is the closed, user-facing failure taxonomy. The kind alone
// drives UI treatment (e.g. prompting for credentials on auth).
type ErrorKind string

const (
	ErrRateLimit       ErrorKind = "rate_limit"
	ErrAuth            ErrorKind = "auth"
	ErrNetwork         ErrorKind = "network"
	ErrInvalidResponse ErrorKind = "invalid_response"
)

// Event is one discrete outcome delivered to the display surface.
// Ownership passes to the surface the instant it is emitted; the core
// never persists events.
type Event struct {
	Kind      EventKind
	Text      string    // set for text_delta and text_complete
	ErrorKind ErrorKind // set for error
	Message   string    // set for error
}

// EventSink is whatever renders session events. The workspace root is
// passed alongside the conversation id because ids are only unique
// within a workspace; sinks that persist or route per conversation need
// both. Delivery is best-effort: implementations must never block the
// orchestrator, and a torn-down surface simply drops events.
type EventSink interface {
	Publish(workspaceRoot, conversationID string, ev Event)
}

// ContextFile names an extra file the caller wants folded into the
// prompt's cross-project extension block.
type ContextFile struct {
	Path string `json:"path"`
	Name string `json:"name"`
}

// ContextBundle aggregates the auxiliary text used to build one prompt.
// It is built fresh per request; underlying files may change between
// turns, so bundles are never cached.
type ContextBundle struct {
	Spec        string // "" when no specification exists
	TaskSummary string // never empty; providers fall back to a sentinel
	ProjectName string // never empty; providers derive a default
	Learnings   string // "" when no learnings apply
}

// ContextSource is the read-only accessor contract the orchestrator
// consumes. Implementations may fail; the orchestrator treats every
// failure as absence, never as a session error.
type ContextSource interface {
	ReadSpec(ctx context.Context, workspaceRoot, epicID string) (string, error)
	ReadTaskSummary(ctx context.Context, workspaceRoot, epicID string) (string, error)
	ReadProjectName(ctx context.Context, workspaceRoot string) (string, error)
	// ReadLearnings may use query (the user's message) to select which
	// learnings notes are worth including.
	ReadLearnings(ctx context.Context, workspaceRoot, query string) (string, error)
	ReadExtraContext(ctx context.Context, sources []ContextFile) (string, error)
}

// CompletionStream is one open streaming call to the completion service.
type CompletionStream interface {
	// Fragments yields incremental text in arrival order. The channel is
	// closed when the stream settles (normally or not).
	Fragments() <-chan string
	// Final blocks until the stream settles and returns the aggregated
	// text or the failure that ended it.
	Final(ctx context.Context) (string, error)
	// Abort requests early termination upstream. Safe to call more than
	// once and after the stream has settled.
	Abort()
}

// CompletionClient abstracts the chosen SDK (OpenAI, Anthropic, ...).
type CompletionClient interface {
	OpenStream(ctx context.Context, systemPrompt string, messages []Message) (CompletionStream, error)
}
