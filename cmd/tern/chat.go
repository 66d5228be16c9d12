package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ternlabs/tern/internal/agent/ai"
	"github.com/ternlabs/tern/internal/agent/config"
	"github.com/ternlabs/tern/internal/agent/runner"
	"github.com/ternlabs/tern/internal/agent/session"
	"github.com/ternlabs/tern/internal/agent/tools"
)

const systemPrompt = `You are a capable terminal assistant working inside the user's workspace. Use the available tools to read, write, and run things; answer directly when no tool is needed. Be concise.`

var sessionID string

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive chat session",
	RunE:  runChat,
}

func init() {
	chatCmd.Flags().StringVar(&sessionID, "session", "", "resume an existing session by id")
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := cfg.EnsureDataDir(); err != nil {
		return fmt.Errorf("failed to create data dir: %w", err)
	}

	store, err := session.Open(filepath.Join(cfg.DataDir, "sessions.db"), sessionID)
	if err != nil {
		return err
	}
	defer store.Close()

	provider := ai.NewOpenAIProvider(cfg.APIBase, cfg.APIKey, cfg.Model)

	registry := tools.NewRegistry()
	registry.Register(&tools.ReadFileTool{Workspace: cfg.Workspace})
	registry.Register(&tools.WriteFileTool{Workspace: cfg.Workspace})
	registry.Register(&tools.EditFileTool{Workspace: cfg.Workspace})
	registry.Register(&tools.ListDirTool{Workspace: cfg.Workspace})
	registry.Register(&tools.ExecTool{Workspace: cfg.Workspace})
	registry.Register(tools.NewWebFetchTool())

	progress := func(status string) {
		fmt.Fprintf(os.Stderr, "\r\033[K%s", status)
	}

	retry := ai.NewRetryController(ai.RetryConfig{
		MaxRateLimitAttempts: cfg.MaxRateLimitAttempts,
		MaxEmptyAttempts:     cfg.MaxEmptyAttempts,
	}, progress)

	r := runner.New(provider, registry, retry, runner.Config{
		SystemPrompt:  systemPrompt,
		Model:         cfg.Model,
		MaxTokens:     cfg.MaxOutputTokens,
		MaxIterations: cfg.MaxIterations,
		Budget: runner.BudgetConfig{
			MaxTokens: cfg.ContextTokens,
			KeepLastN: cfg.KeepLastN,
		},
	}, store, progress)

	if sessionID != "" {
		history, err := store.Load()
		if err != nil {
			return fmt.Errorf("failed to resume session: %w", err)
		}
		r.Restore(history)
		fmt.Fprintf(os.Stderr, "Resumed session %s (%d messages)\n", store.SessionID(), len(history))
	} else {
		fmt.Fprintf(os.Stderr, "Session %s\n", store.SessionID())
	}
	fmt.Fprintln(os.Stderr, "Type a message, or \"exit\" to quit.")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		if input == "exit" || input == "quit" {
			break
		}

		_, err := r.RunTurn(ctx, input, func(delta string) {
			fmt.Fprint(os.Stderr, "\r\033[K")
			fmt.Print(delta)
		})
		fmt.Fprint(os.Stderr, "\r\033[K")
		if err != nil {
			if ctx.Err() != nil {
				fmt.Fprintln(os.Stderr, "\nInterrupted.")
				return nil
			}
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			continue
		}
		fmt.Println()
	}
	return scanner.Err()
}
