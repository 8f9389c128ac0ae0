package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"

	"epicdesk/internal/chat"
	"epicdesk/internal/prompts"
	"epicdesk/internal/providers"
	"epicdesk/internal/workspace"
)

func main() {
	// Load .env file if it exists.
	_ = godotenv.Load()

	ctx := context.Background()

	fs := flag.NewFlagSet("epicdesk", flag.ExitOnError)
	stdioMode := fs.Bool("stdio", false, "Serve the engine over the NDJSON stdio protocol")
	workspaceFlag := fs.String("workspace", "", "Path to workspace root (default: current directory)")
	epicFlag := fs.String("epic", "", "Epic id to chat about (interactive mode)")
	commandFlag := fs.String("command", "chat", "Chat persona: interview, review, or chat")

	if err := fs.Parse(os.Args[1:]); err != nil {
		log.Fatalf("failed to parse flags: %v", err)
	}

	// Logs go to stderr in stdio mode so they never corrupt the protocol.
	if *stdioMode {
		log.SetOutput(os.Stderr)
	}

	env, err := prepareRuntimeEnv(ctx)
	if err != nil {
		if *stdioMode {
			fmt.Fprintf(os.Stderr, "FATAL: failed to prepare runtime environment: %v\n", err)
			os.Exit(1)
		}
		log.Fatalf("failed to prepare runtime environment: %v", err)
	}
	defer env.Close()

	if *stdioMode {
		if err := runStdIOEngine(ctx, env); err != nil {
			fmt.Fprintf(os.Stderr, "FATAL: stdio engine failed: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := runInteractive(ctx, env, *workspaceFlag, *epicFlag, *commandFlag); err != nil {
		log.Fatalf("command failed: %v", err)
	}
}

// consoleSink renders session events directly to the terminal and
// signals the prompt loop when the session settles.
type consoleSink struct {
	done chan string // final assistant text, "" on error
}

func (s *consoleSink) Publish(_, _ string, ev chat.Event) {
	switch ev.Kind {
	case chat.EventTextDelta:
		fmt.Print(ev.Text)
	case chat.EventTextComplete:
		fmt.Println()
		s.done <- ev.Text
	case chat.EventError:
		fmt.Printf("\n[%s] %s\n", ev.ErrorKind, ev.Message)
		s.done <- ""
	}
}

func runInteractive(ctx context.Context, env *runtimeEnv, workspaceRoot, epicID, command string) error {
	if workspaceRoot == "" {
		wd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("failed to resolve working directory: %w", err)
		}
		workspaceRoot = wd
	}
	absRoot, err := filepath.Abs(workspaceRoot)
	if err != nil {
		return fmt.Errorf("failed to resolve workspace root: %w", err)
	}
	if epicID == "" {
		return fmt.Errorf("interactive mode requires -epic")
	}

	cmdType := chat.CommandType(command)
	switch cmdType {
	case chat.CommandInterview, chat.CommandReview, chat.CommandChat:
	default:
		return fmt.Errorf("unknown command %q (supported: interview, review, chat)", command)
	}

	cfg, err := env.Config.Load()
	if err != nil {
		return err
	}
	client, model, err := providers.NewCompletionClient(cfg)
	if err != nil {
		return err
	}
	log.Printf("chat ready (model: %s, epic: %s, workspace: %s)", model, epicID, absRoot)

	if notes, err := workspace.LoadLearnings(absRoot); err == nil {
		for _, note := range notes {
			if err := env.Learnings.Add(note.Name, note.Body); err != nil {
				log.Printf("failed to index learning %s: %v", note.Name, err)
			}
		}
	}

	sink := &consoleSink{done: make(chan string, 1)}
	streamer := chat.NewStreamer(chat.NewRegistry(), client, workspace.NewProviders(env.Learnings), prompts.Assemble, sink)

	var hist []chat.Message
	if stored, err := env.History.Recent(ctx, absRoot, epicID, defaultHistoryLimit); err == nil {
		hist = stored
	}

	s := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("you> ")
		if !s.Scan() {
			break
		}
		line := s.Text()
		if line == "" {
			continue
		}

		streamer.Start(ctx, chat.StartRequest{
			WorkspaceRoot:  absRoot,
			ConversationID: epicID,
			Command:        cmdType,
			Message:        line,
			History:        hist,
		})
		reply := <-sink.done

		hist = append(hist, chat.Message{Role: chat.RoleUser, Content: line})
		if err := env.History.Append(ctx, absRoot, epicID, chat.Message{Role: chat.RoleUser, Content: line}); err != nil {
			log.Printf("failed to persist user turn: %v", err)
		}
		if reply != "" {
			hist = append(hist, chat.Message{Role: chat.RoleAssistant, Content: reply})
			if err := env.History.Append(ctx, absRoot, epicID, chat.Message{Role: chat.RoleAssistant, Content: reply}); err != nil {
				log.Printf("failed to persist assistant turn: %v", err)
			}
		}
	}
	return s.Err()
}
