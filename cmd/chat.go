package cmd

import (
	"fmt"
	"strings"

	"github.com/chatstack/chatstack/internal/action"
	"github.com/chatstack/chatstack/internal/chat"
	"github.com/chatstack/chatstack/internal/provider"
	"github.com/chatstack/chatstack/internal/retrieval"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var (
	chatAgent  string
	chatModel  string
	chatSystem string
)

var chatCmd = &cobra.Command{
	Use:   "chat [message]",
	Short: "Run one grounded chat turn against an agent's corpus",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runChat,
}

func init() {
	chatCmd.Flags().StringVar(&chatAgent, "agent", "", "agent id to ground against (required)")
	chatCmd.Flags().StringVar(&chatModel, "model", "", "model name (defaults to chat.model from config)")
	chatCmd.Flags().StringVar(&chatSystem, "system", "", "system prompt")
	_ = chatCmd.MarkFlagRequired("agent")
	rootCmd.AddCommand(chatCmd)
}

func runChat(cmd *cobra.Command, args []string) error {
	agentID, err := uuid.Parse(chatAgent)
	if err != nil {
		return fmt.Errorf("invalid agent id: %w", err)
	}

	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	model := chatModel
	if model == "" {
		model = a.cfg.Chat.Model
	}

	registry := provider.NewRegistry(provider.Credentials{
		OpenAIKey:    a.cfg.Providers.OpenAIKey,
		AnthropicKey: a.cfg.Providers.AnthropicKey,
		GoogleKey:    a.cfg.Providers.GoogleKey,
	}, a.logger)
	embedder := provider.NewEmbedder(a.cfg.Providers.OpenAIKey, a.logger)
	retriever := retrieval.New(a.store, embedder, a.logger)
	executor := action.NewExecutor(a.store, a.logger)

	engine := chat.New(registry, retriever, executor, a.logger,
		chat.WithRetrievalOptions(
			retrieval.WithTopK(a.cfg.Retrieval.TopK),
			retrieval.WithMinSimilarity(a.cfg.Retrieval.MinSimilarity),
		))

	events := engine.Run(cmd.Context(), chat.TurnRequest{
		AgentID:      agentID,
		Model:        model,
		SystemPrompt: chatSystem,
		UserMessage:  strings.Join(args, " "),
		Temperature:  a.cfg.Chat.Temperature,
		MaxTokens:    a.cfg.Chat.MaxTokens,
	})

	out := cmd.OutOrStdout()
	for ev := range events {
		switch ev.Kind {
		case chat.EventText:
			fmt.Fprint(out, ev.Text)
		case chat.EventToolCall:
			fmt.Fprintf(out, "\n[running %s]\n", ev.ToolCall.Name)
		case chat.EventToolResult:
			if !ev.ToolResult.Success {
				fmt.Fprintf(out, "[%s failed]\n", ev.ToolResult.Name)
			}
		case chat.EventSources:
			fmt.Fprintln(out)
			for _, src := range ev.Sources {
				fmt.Fprintf(out, "source: %s (%.2f)\n", src.Name, src.Similarity)
			}
		case chat.EventUsage:
			a.logger.Debug("turn usage",
				"input_tokens", ev.Usage.InputTokens,
				"output_tokens", ev.Usage.OutputTokens)
		case chat.EventError:
			return fmt.Errorf("chat turn: %w", ev.Err)
		case chat.EventDone:
			fmt.Fprintln(out)
		}
	}
	return nil
}
