// Package protocol defines the NDJSON command/event contract between
// the desktop shell and the chat engine.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// CommandType enumerates all supported shell -> engine commands.
type CommandType string

const (
	CommandStartChat  CommandType = "start_chat"
	CommandAbortChat  CommandType = "abort_chat"
	CommandSaveConfig CommandType = "save_config"
	CommandGetConfig  CommandType = "get_config"
)

// Command is a marker interface implemented by all protocol commands.
type Command interface {
	GetType() CommandType
}

// HistoryMessage is one prior conversation turn supplied by the shell.
type HistoryMessage struct {
	Role    string `json:"role"` // "user" or "assistant"
	Content string `json:"content"`
}

// ContextFileRef names an extra file to fold into the prompt.
type ContextFileRef struct {
	Path string `json:"path"`
	Name string `json:"name"`
}

// StartChatCommand opens (or supersedes) a streaming chat session for
// one epic. If History is omitted the engine loads persisted history.
type StartChatCommand struct {
	Type          CommandType      `json:"type"`
	WorkspaceRoot string           `json:"workspace_root"`
	EpicID        string           `json:"epic_id"`
	Command       string           `json:"command,omitempty"` // interview, review, chat
	Message       string           `json:"message"`
	History       []HistoryMessage `json:"history,omitempty"`
	ExtraContext  []ContextFileRef `json:"extra_context,omitempty"`
	RequestID     string           `json:"request_id,omitempty"` // generated when omitted
}

// GetType implements Command.
func (c StartChatCommand) GetType() CommandType { return CommandStartChat }

// AbortChatCommand requests cancellation of the active session for an epic.
type AbortChatCommand struct {
	Type          CommandType `json:"type"`
	WorkspaceRoot string      `json:"workspace_root"`
	EpicID        string      `json:"epic_id"`
}

// GetType implements Command.
func (c AbortChatCommand) GetType() CommandType { return CommandAbortChat }

// SaveConfigCommand persists user configuration.
type SaveConfigCommand struct {
	Type   CommandType       `json:"type"`
	Config map[string]string `json:"config"`
}

// GetType implements Command.
func (c SaveConfigCommand) GetType() CommandType { return CommandSaveConfig }

// GetConfigCommand requests the current configuration.
type GetConfigCommand struct {
	Type CommandType `json:"type"`
}

// GetType implements Command.
func (c GetConfigCommand) GetType() CommandType { return CommandGetConfig }

type rawCommand struct {
	Type CommandType `json:"type"`
}

// DecodeCommand converts raw JSON into a strongly typed command.
func DecodeCommand(data []byte) (Command, error) {
	var base rawCommand
	if err := json.Unmarshal(data, &base); err != nil {
		return nil, fmt.Errorf("decode command: %w", err)
	}

	switch base.Type {
	case CommandStartChat:
		var cmd StartChatCommand
		if err := json.Unmarshal(data, &cmd); err != nil {
			return nil, fmt.Errorf("decode start_chat: %w", err)
		}
		if cmd.WorkspaceRoot == "" {
			return nil, errors.New("start_chat requires workspace_root")
		}
		if cmd.EpicID == "" {
			return nil, errors.New("start_chat requires epic_id")
		}
		if cmd.Message == "" {
			return nil, errors.New("start_chat requires message")
		}
		if cmd.RequestID == "" {
			cmd.RequestID = NewRequestID()
		}
		return cmd, nil
	case CommandAbortChat:
		var cmd AbortChatCommand
		if err := json.Unmarshal(data, &cmd); err != nil {
			return nil, fmt.Errorf("decode abort_chat: %w", err)
		}
		if cmd.WorkspaceRoot == "" {
			return nil, errors.New("abort_chat requires workspace_root")
		}
		if cmd.EpicID == "" {
			return nil, errors.New("abort_chat requires epic_id")
		}
		return cmd, nil
	case CommandSaveConfig:
		var cmd SaveConfigCommand
		if err := json.Unmarshal(data, &cmd); err != nil {
			return nil, fmt.Errorf("decode save_config: %w", err)
		}
		return cmd, nil
	case CommandGetConfig:
		var cmd GetConfigCommand
		if err := json.Unmarshal(data, &cmd); err != nil {
			return nil, fmt.Errorf("decode get_config: %w", err)
		}
		return cmd, nil
	default:
		return nil, fmt.Errorf("unknown command type: %s", base.Type)
	}
}

// NewRequestID generates an opaque identifier for correlating events.
func NewRequestID() string {
	return uuid.NewString()
}

// EventType enumerates engine -> shell events.
type EventType string

const (
	EventTextDelta      EventType = "text_delta"
	EventTextComplete   EventType = "text_complete"
	EventError          EventType = "error"
	EventAborted        EventType = "aborted"
	EventStatus         EventType = "status"
	EventContextChanged EventType = "context_changed"
	EventConfigLoaded   EventType = "config_loaded"
)

// Event is implemented by every outgoing message.
type Event interface {
	isEvent()
	GetType() EventType
}

// MarshalEvent serializes an event into JSON for NDJSON transport.
func MarshalEvent(e Event) ([]byte, error) {
	return json.Marshal(e)
}

type eventBase struct {
	Type   EventType `json:"type"`
	EpicID string    `json:"epic_id,omitempty"`
}

func (eventBase) isEvent() {}

// TextDeltaEvent streams one incremental assistant fragment.
type TextDeltaEvent struct {
	eventBase
	Text string `json:"text"`
}

// NewTextDeltaEvent constructs a text_delta event.
func NewTextDeltaEvent(epicID, text string) TextDeltaEvent {
	return TextDeltaEvent{
		eventBase: eventBase{Type: EventTextDelta, EpicID: epicID},
		Text:      text,
	}
}

// GetType implements Event.
func (e TextDeltaEvent) GetType() EventType { return e.Type }

// TextCompleteEvent carries the full assistant message once the stream
// settles successfully.
type TextCompleteEvent struct {
	eventBase
	Text string `json:"text"`
}

// NewTextCompleteEvent constructs a text_complete event.
func NewTextCompleteEvent(epicID, text string) TextCompleteEvent {
	return TextCompleteEvent{
		eventBase: eventBase{Type: EventTextComplete, EpicID: epicID},
		Text:      text,
	}
}

// GetType implements Event.
func (e TextCompleteEvent) GetType() EventType { return e.Type }

// ErrorEvent reports a failed session with its classified kind.
type ErrorEvent struct {
	eventBase
	Kind    string `json:"kind"` // rate_limit, auth, network, invalid_response
	Message string `json:"message"`
}

// NewErrorEvent constructs an error event.
func NewErrorEvent(epicID, kind, message string) ErrorEvent {
	return ErrorEvent{
		eventBase: eventBase{Type: EventError, EpicID: epicID},
		Kind:      kind,
		Message:   message,
	}
}

// GetType implements Event.
func (e ErrorEvent) GetType() EventType { return e.Type }

// AbortedEvent acknowledges an abort_chat command.
type AbortedEvent struct {
	eventBase
	WasActive bool `json:"was_active"`
}

// NewAbortedEvent constructs an aborted event.
func NewAbortedEvent(epicID string, wasActive bool) AbortedEvent {
	return AbortedEvent{
		eventBase: eventBase{Type: EventAborted, EpicID: epicID},
		WasActive: wasActive,
	}
}

// GetType implements Event.
func (e AbortedEvent) GetType() EventType { return e.Type }

// StatusEvent communicates coarse engine state (starting, ready).
type StatusEvent struct {
	eventBase
	Status string `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// NewStatusEvent constructs a status event.
func NewStatusEvent(epicID, status, detail string) StatusEvent {
	return StatusEvent{
		eventBase: eventBase{Type: EventStatus, EpicID: epicID},
		Status:    status,
		Detail:    detail,
	}
}

// GetType implements Event.
func (e StatusEvent) GetType() EventType { return e.Type }

// ContextChangedEvent signals that files under the workspace data
// directory changed and prompts built from them may be stale.
type ContextChangedEvent struct {
	eventBase
	WorkspaceRoot string   `json:"workspace_root"`
	Paths         []string `json:"paths,omitempty"`
}

// NewContextChangedEvent constructs a context_changed event.
func NewContextChangedEvent(workspaceRoot string, paths []string) ContextChangedEvent {
	return ContextChangedEvent{
		eventBase:     eventBase{Type: EventContextChanged},
		WorkspaceRoot: workspaceRoot,
		Paths:         paths,
	}
}

// GetType implements Event.
func (e ContextChangedEvent) GetType() EventType { return e.Type }

// ConfigLoadedEvent returns the current configuration.
type ConfigLoadedEvent struct {
	eventBase
	Config map[string]string `json:"config"`
}

// NewConfigLoadedEvent constructs a config_loaded event.
func NewConfigLoadedEvent(config map[string]string) ConfigLoadedEvent {
	return ConfigLoadedEvent{
		eventBase: eventBase{Type: EventConfigLoaded},
		Config:    config,
	}
}

// GetType implements Event.
func (e ConfigLoadedEvent) GetType() EventType { return e.Type }
