// Command agent is the command-line surface: ingest files and run a
// single query without standing up the HTTP server. Output is always a
// JSON payload, success or error.
package main

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/analytical-agent/backend/internal/agent"
	"github.com/analytical-agent/backend/internal/document"
	"github.com/analytical-agent/backend/internal/ingestion"
	"github.com/analytical-agent/backend/internal/llm"
	"github.com/analytical-agent/backend/internal/query"
	"github.com/analytical-agent/backend/internal/retrieval"
	"github.com/analytical-agent/backend/internal/tabular"
	"github.com/analytical-agent/backend/internal/vector"
	"github.com/analytical-agent/backend/pkg/apperr"
	"github.com/analytical-agent/backend/pkg/config"
	appLogger "github.com/analytical-agent/backend/pkg/logger"
	"github.com/analytical-agent/backend/pkg/utils"
)

type session struct {
	processor *ingestion.Processor
	agent     *agent.Agent
}

func newSession() (*session, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	if err := appLogger.Init("error", "console", "stderr"); err != nil {
		return nil, err
	}

	indexManager, err := vector.NewManager(cfg.Vector.DataDir)
	if err != nil {
		return nil, err
	}

	llmClient := llm.NewClient(
		cfg.LLM.APIKey,
		cfg.LLM.Model,
		cfg.LLM.EmbeddingModel,
		cfg.LLM.Temperature,
		cfg.LLM.MaxTokens,
	)

	tableStore := tabular.NewStore()
	docStore := document.NewStore()
	engine := query.NewEngine(tableStore)
	orchestrator := retrieval.NewOrchestrator(llmClient, indexManager)

	return &session{
		processor: ingestion.NewProcessor(tableStore, docStore, indexManager, llmClient, nil, cfg.Vector.Dimension),
		agent:     agent.New(llmClient, engine, tableStore, docStore, orchestrator, indexManager, nil, nil),
	}, nil
}

// ingestFile loads one file from disk into the session.
func (s *session) ingestFile(ctx context.Context, path string) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", apperr.Wrap(err, apperr.KindMalformedInput, "failed to read %s", path)
	}

	name := filepath.Base(path)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		reader := csv.NewReader(strings.NewReader(string(raw)))
		reader.FieldsPerRecord = -1
		records, err := reader.ReadAll()
		if err != nil {
			return "", apperr.Wrap(err, apperr.KindMalformedInput, "%s is not parseable CSV", name)
		}
		records = utils.NormalizeRecords(records)
		id, _, err := s.processor.IngestTable(ctx, name, records)
		return id, err
	case ".txt", ".md":
		id, _, err := s.processor.IngestDocument(ctx, name, string(raw), document.KindPlain)
		return id, err
	case ".html", ".htm":
		id, _, err := s.processor.IngestDocument(ctx, name, string(raw), document.KindRichText)
		return id, err
	default:
		return "", apperr.New(apperr.KindUnsupportedFormat, "unsupported file extension %q", filepath.Ext(path))
	}
}

func printJSON(v any) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to encode output: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(string(out))
}

func printError(err error) {
	printJSON(map[string]any{
		"errorKind": string(apperr.KindOf(err)),
		"details":   apperr.Detail(err),
	})
	os.Exit(1)
}

func main() {
	root := &cobra.Command{
		Use:   "agent",
		Short: "Analytical agent over tabular and document sources",
	}

	ingestCmd := &cobra.Command{
		Use:   "ingest <file>...",
		Short: "Ingest CSV, text or HTML files and build their indexes",
		Args:  cobra.MinimumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			s, err := newSession()
			if err != nil {
				printError(err)
			}

			results := make([]map[string]any, 0, len(args))
			for _, path := range args {
				id, err := s.ingestFile(cmd.Context(), path)
				if err != nil {
					results = append(results, map[string]any{
						"file":      path,
						"errorKind": string(apperr.KindOf(err)),
						"details":   apperr.Detail(err),
					})
					continue
				}
				results = append(results, map[string]any{
					"file":      path,
					"source_id": id,
				})
			}
			printJSON(map[string]any{"results": results})
		},
	}

	var queryFiles []string
	queryCmd := &cobra.Command{
		Use:   "query <text>",
		Short: "Run a single natural-language query against ingested files",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			s, err := newSession()
			if err != nil {
				printError(err)
			}

			for _, path := range queryFiles {
				if _, err := s.ingestFile(cmd.Context(), path); err != nil {
					printError(err)
				}
			}

			result, err := s.agent.ProcessQuery(cmd.Context(), args[0])
			if err != nil {
				printError(err)
			}
			printJSON(result)
		},
	}
	queryCmd.Flags().StringSliceVarP(&queryFiles, "file", "f", nil, "file to ingest before querying (repeatable)")

	root.AddCommand(ingestCmd, queryCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
