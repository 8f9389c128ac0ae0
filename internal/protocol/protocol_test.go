package protocol

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestDecodeCommand(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		wantType CommandType
		wantErr  string
	}{
		{
			name:     "start_chat",
			input:    `{"type":"start_chat","workspace_root":"/w","epic_id":"epic-1","message":"hi"}`,
			wantType: CommandStartChat,
		},
		{
			name:     "start_chat with history and context",
			input:    `{"type":"start_chat","workspace_root":"/w","epic_id":"epic-1","message":"hi","command":"review","history":[{"role":"user","content":"earlier"}],"extra_context":[{"path":"/notes.md","name":"notes"}]}`,
			wantType: CommandStartChat,
		},
		{
			name:    "start_chat missing workspace_root",
			input:   `{"type":"start_chat","epic_id":"epic-1","message":"hi"}`,
			wantErr: "workspace_root",
		},
		{
			name:    "start_chat missing epic_id",
			input:   `{"type":"start_chat","workspace_root":"/w","message":"hi"}`,
			wantErr: "epic_id",
		},
		{
			name:    "start_chat missing message",
			input:   `{"type":"start_chat","workspace_root":"/w","epic_id":"epic-1"}`,
			wantErr: "message",
		},
		{
			name:     "abort_chat",
			input:    `{"type":"abort_chat","workspace_root":"/w","epic_id":"epic-1"}`,
			wantType: CommandAbortChat,
		},
		{
			name:    "abort_chat missing epic_id",
			input:   `{"type":"abort_chat","workspace_root":"/w"}`,
			wantErr: "epic_id",
		},
		{
			name:     "save_config",
			input:    `{"type":"save_config","config":{"llm_provider":"openai"}}`,
			wantType: CommandSaveConfig,
		},
		{
			name:     "get_config",
			input:    `{"type":"get_config"}`,
			wantType: CommandGetConfig,
		},
		{
			name:    "unknown type",
			input:   `{"type":"launch_rocket"}`,
			wantErr: "unknown command type",
		},
		{
			name:    "not json",
			input:   `start please`,
			wantErr: "decode command",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd, err := DecodeCommand([]byte(tt.input))
			if tt.wantErr != "" {
				if err == nil {
					t.Fatalf("expected error containing %q, got command %T", tt.wantErr, cmd)
				}
				if !strings.Contains(err.Error(), tt.wantErr) {
					t.Errorf("error = %v, want it to mention %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("DecodeCommand: %v", err)
			}
			if cmd.GetType() != tt.wantType {
				t.Errorf("type = %v, want %v", cmd.GetType(), tt.wantType)
			}
		})
	}
}

func TestDecodeStartChatFields(t *testing.T) {
	input := `{"type":"start_chat","workspace_root":"/w","epic_id":"epic-1","command":"interview","message":"hello","history":[{"role":"assistant","content":"prev"}]}`
	cmd, err := DecodeCommand([]byte(input))
	if err != nil {
		t.Fatalf("DecodeCommand: %v", err)
	}
	sc, ok := cmd.(StartChatCommand)
	if !ok {
		t.Fatalf("got %T, want StartChatCommand", cmd)
	}
	if sc.Command != "interview" || sc.Message != "hello" {
		t.Errorf("fields = %+v", sc)
	}
	if len(sc.History) != 1 || sc.History[0].Role != "assistant" {
		t.Errorf("history = %+v, want one assistant turn", sc.History)
	}
	if sc.RequestID == "" {
		t.Error("omitted request_id should be generated")
	}
}

func TestDecodeStartChatKeepsCallerRequestID(t *testing.T) {
	input := `{"type":"start_chat","workspace_root":"/w","epic_id":"epic-1","message":"hi","request_id":"req-7"}`
	cmd, err := DecodeCommand([]byte(input))
	if err != nil {
		t.Fatalf("DecodeCommand: %v", err)
	}
	if sc := cmd.(StartChatCommand); sc.RequestID != "req-7" {
		t.Errorf("RequestID = %q, want caller's req-7", sc.RequestID)
	}
}

func TestMarshalEvents(t *testing.T) {
	tests := []struct {
		name  string
		event Event
		want  map[string]any
	}{
		{
			name:  "text_delta",
			event: NewTextDeltaEvent("epic-1", "Hel"),
			want:  map[string]any{"type": "text_delta", "epic_id": "epic-1", "text": "Hel"},
		},
		{
			name:  "text_complete",
			event: NewTextCompleteEvent("epic-1", "Hello"),
			want:  map[string]any{"type": "text_complete", "text": "Hello"},
		},
		{
			name:  "error",
			event: NewErrorEvent("epic-1", "rate_limit", "slow down"),
			want:  map[string]any{"type": "error", "kind": "rate_limit", "message": "slow down"},
		},
		{
			name:  "aborted active",
			event: NewAbortedEvent("epic-1", true),
			want:  map[string]any{"type": "aborted", "was_active": true},
		},
		{
			name:  "aborted idle",
			event: NewAbortedEvent("epic-1", false),
			want:  map[string]any{"type": "aborted", "was_active": false},
		},
		{
			name:  "context_changed",
			event: NewContextChangedEvent("/w", []string{"epics/epic-1/spec.md"}),
			want:  map[string]any{"type": "context_changed", "workspace_root": "/w"},
		},
		{
			name:  "config_loaded",
			event: NewConfigLoadedEvent(map[string]string{"llm_provider": "openai"}),
			want:  map[string]any{"type": "config_loaded"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload, err := MarshalEvent(tt.event)
			if err != nil {
				t.Fatalf("MarshalEvent: %v", err)
			}
			var got map[string]any
			if err := json.Unmarshal(payload, &got); err != nil {
				t.Fatalf("round trip: %v", err)
			}
			for k, want := range tt.want {
				if got[k] != want {
					t.Errorf("field %q = %v, want %v", k, got[k], want)
				}
			}
		})
	}
}

func TestNewRequestIDUnique(t *testing.T) {
	a := NewRequestID()
	b := NewRequestID()
	if a == "" || a == b {
		t.Errorf("request ids should be non-empty and unique, got %q and %q", a, b)
	}
}
