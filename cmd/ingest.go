package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/chatstack/chatstack/internal/corpus"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var (
	ingestAgent string
	ingestFile  string
	ingestText  string
	ingestName  string
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Submit a document for ingestion",
	Long: `Creates a document in pending status. A running serve worker picks
it up, chunks it, embeds it and marks it completed.`,
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().StringVar(&ingestAgent, "agent", "", "agent id owning the document (required)")
	ingestCmd.Flags().StringVar(&ingestFile, "file", "", "path to a text file to ingest")
	ingestCmd.Flags().StringVar(&ingestText, "text", "", "literal text to ingest")
	ingestCmd.Flags().StringVar(&ingestName, "name", "", "document name (defaults to the file name)")
	_ = ingestCmd.MarkFlagRequired("agent")
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, _ []string) error {
	agentID, err := uuid.Parse(ingestAgent)
	if err != nil {
		return fmt.Errorf("invalid agent id: %w", err)
	}

	var content string
	var kind corpus.SourceKind
	name := ingestName
	switch {
	case ingestFile != "" && ingestText != "":
		return fmt.Errorf("use either --file or --text, not both")
	case ingestFile != "":
		data, err := os.ReadFile(ingestFile)
		if err != nil {
			return fmt.Errorf("read file: %w", err)
		}
		content = string(data)
		kind = corpus.SourceFile
		if name == "" {
			name = filepath.Base(ingestFile)
		}
	case ingestText != "":
		content = ingestText
		kind = corpus.SourceText
		if name == "" {
			name = "pasted text"
		}
	default:
		return fmt.Errorf("one of --file or --text is required")
	}

	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	doc := &corpus.Document{
		ID:         uuid.New(),
		AgentID:    agentID,
		Name:       name,
		SourceKind: kind,
		Content:    content,
		CharCount:  len(content),
		Status:     corpus.StatusPending,
	}
	if err := a.store.CreateDocument(cmd.Context(), doc); err != nil {
		return fmt.Errorf("create document: %w", err)
	}

	fmt.Printf("document %s queued (%d chars)\n", doc.ID, doc.CharCount)
	return nil
}
