package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/statquery/statquery/internal/config"
	"github.com/statquery/statquery/internal/embedding"
	"github.com/statquery/statquery/internal/errors"
	"github.com/statquery/statquery/internal/examples"
	"github.com/statquery/statquery/internal/llm"
	"github.com/statquery/statquery/internal/logging"
	"github.com/statquery/statquery/internal/query"
	"github.com/statquery/statquery/internal/storage"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "statquery",
	Short: "Ask natural language questions about a football statistics database",
	Long: `statquery turns natural language questions into SQL against a local football
statistics database. It builds a prompt from the database schema and a set of
example question/query pairs, asks a language model for a SELECT statement,
validates the statement before running it, and repairs invalid statements
within a configurable attempt budget.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		loaded, err := config.LoadConfig()
		if err != nil {
			return err
		}

		cfg = loaded

		return logging.InitializeLogger(cfg.Logging)
	},
}

func Execute() error {
	ctx := context.Background()
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(schemaCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(serveCmd)
}

// buildEngine is swapped in command tests.
var buildEngine = newEngine

// newEngine wires the workflow from the loaded configuration. The returned
// store must be closed by the caller.
func newEngine() (*query.Engine, storage.Store, error) {
	store, err := storage.Open(cfg.Database)
	if err != nil {
		return nil, nil, errors.Wrap(err, errors.ErrTypeDatabase, "failed to open database")
	}

	generator, err := llm.NewService(cfg.LLM)
	if err != nil {
		store.Close()
		return nil, nil, err
	}

	embedder, err := embedding.NewProvider(cfg.Embedding)
	if err != nil {
		store.Close()
		return nil, nil, err
	}

	shots, err := examples.NewStore(cfg.Examples, embedder)
	if err != nil {
		store.Close()
		return nil, nil, err
	}

	engine := query.NewEngine(cfg, store, generator, shots, logging.GetLogger())

	return engine, store, nil
}
