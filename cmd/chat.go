package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/plotchat/plotchat/internal/config"
	"github.com/plotchat/plotchat/internal/credentials"
	"github.com/plotchat/plotchat/internal/llm"
	"github.com/plotchat/plotchat/internal/mcp"
	"github.com/plotchat/plotchat/internal/prompt"
	"github.com/plotchat/plotchat/internal/session"
)

var flagNoTools bool

func init() {
	chatCmd.Flags().BoolVar(&flagNoTools, "no-tools", false, "Chat without connecting to the tool server")
	rootCmd.AddCommand(chatCmd)
}

var chatCmd = &cobra.Command{
	Use:   "chat [prompt]",
	Short: "Send a prompt and stream the assistant's reply",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runChat(strings.Join(args, " "))
	},
}

// toolServerConfig builds the subprocess config, injecting the stored token
// into the configured environment variable when one is available.
func toolServerConfig(cfg *config.Config) mcp.ServerConfig {
	env := make(map[string]string, len(cfg.ToolServer.Env)+1)
	for k, v := range cfg.ToolServer.Env {
		env[k] = v
	}
	if cfg.ToolServer.TokenEnv != "" {
		if token := credentials.GetToolServerToken(); token != "" {
			env[cfg.ToolServer.TokenEnv] = token
		}
	}
	return mcp.ServerConfig{
		Command: cfg.ToolServer.Command,
		Args:    cfg.ToolServer.Args,
		Env:     env,
	}
}

func openSessionStore(logger *zap.Logger) *session.Store {
	dataDir, err := config.GetDataDir()
	if err != nil {
		logger.Warn("session store unavailable", zap.Error(err))
		return nil
	}
	store, err := session.Open(filepath.Join(dataDir, "sessions.db"))
	if err != nil {
		logger.Warn("session store unavailable", zap.Error(err))
		return nil
	}
	return store
}

func runChat(question string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	provider, err := llm.NewProvider(cfg.DefaultProvider, cfg, logger)
	if err != nil {
		return err
	}

	var runner llm.ToolRunner
	var tools []llm.ToolSpec
	if !flagNoTools {
		client := mcp.NewClient(toolServerConfig(cfg), logger)
		defer client.Disconnect()
		bridge := mcp.NewToolBridge(client)
		tools, err = bridge.Specs(ctx)
		if err != nil {
			// Chat still works without charts; say so and move on.
			fmt.Fprintf(os.Stderr, "warning: tool server unavailable: %v\n", err)
			tools = nil
		} else {
			runner = bridge
		}
	}
	if runner == nil {
		runner = noTools{}
		tools = nil
	}

	store := openSessionStore(logger)
	if store != nil {
		defer store.Close()
	}

	messages := []llm.Message{
		llm.SystemText(prompt.System(cfg.Chat.Instructions)),
		llm.UserText(question),
	}

	engine := llm.NewEngine(provider, runner, logger)
	stream, err := engine.Send(ctx, llm.Request{
		Messages:        messages,
		Tools:           tools,
		ToolChoiceAuto:  len(tools) > 0,
		Temperature:     cfg.Chat.Temperature,
		MaxOutputTokens: cfg.Chat.MaxTokens,
	})
	if err != nil {
		return err
	}
	defer stream.Close()

	return consumeChat(stream, store, cfg, question)
}

// consumeChat drains the event stream to the terminal and records the
// conversation once it completes.
func consumeChat(stream llm.Stream, store *session.Store, cfg *config.Config, question string) error {
	sessionID := ""
	toolCalls := 0
	inputTokens, outputTokens := 0, 0

	for {
		event, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			fmt.Fprintln(os.Stderr)
			return err
		}

		switch event.Type {
		case llm.EventSessionStarted:
			sessionID = event.SessionID
		case llm.EventTextDelta:
			fmt.Print(event.Text)
		case llm.EventToolStart:
			fmt.Fprintf(os.Stderr, "\n⚙ %s%s\n", event.ToolName, event.ToolInfo)
		case llm.EventToolResult:
			if event.ToolIsError {
				fmt.Fprintf(os.Stderr, "  ✗ %s\n", event.ToolOutput)
			} else {
				fmt.Fprintf(os.Stderr, "  ✓ %s\n", firstLineOf(event.ToolOutput))
			}
			toolCalls++
		case llm.EventUsage:
			if event.Use != nil {
				inputTokens += event.Use.InputTokens
				outputTokens += event.Use.OutputTokens
			}
		case llm.EventComplete:
			fmt.Println()
			if store != nil && sessionID != "" {
				recordSession(store, cfg, sessionID, question, event.Text, toolCalls, inputTokens, outputTokens)
			}
		}
	}
	return nil
}

func recordSession(store *session.Store, cfg *config.Config, id, question, reply string, toolCalls, inputTokens, outputTokens int) {
	model := ""
	if p, ok := cfg.Provider(cfg.DefaultProvider); ok {
		model = p.Model
	}
	if err := store.CreateSession(id, cfg.DefaultProvider, model, question); err != nil {
		return
	}
	_ = store.AppendMessage(id, "user", question)
	if reply != "" {
		_ = store.AppendMessage(id, "assistant", reply)
	}
	_ = store.RecordUsage(id, toolCalls, inputTokens, outputTokens)
}

func firstLineOf(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > 120 {
		s = s[:117] + "..."
	}
	return s
}

// noTools satisfies the engine when the tool server is disabled.
type noTools struct{}

func (noTools) Execute(ctx context.Context, name string, args json.RawMessage) (string, error) {
	return "", fmt.Errorf("no tool server connected")
}
