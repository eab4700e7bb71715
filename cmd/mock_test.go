package cmd

import (
	"context"
	"io"
	"os"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"

	"github.com/statquery/statquery/internal/config"
	"github.com/statquery/statquery/internal/llm"
	"github.com/statquery/statquery/internal/logging"
	"github.com/statquery/statquery/internal/query"
	"github.com/statquery/statquery/internal/storage"
	"github.com/statquery/statquery/internal/testutil"
)

// setupCommandTest puts the package globals into a known state: a default
// config, a quiet logger, and an engine built from the given mocks instead of
// real collaborators. Overrides are undone on cleanup.
func setupCommandTest(t *testing.T, store storage.Store, generator llm.Service) {
	t.Helper()

	previousCfg := cfg
	cfg = &config.Config{
		Workflow: config.WorkflowConfig{MaxRepairAttempts: 1, RowLimit: 5, AttemptTimeout: "30s"},
		Examples: config.ExamplesConfig{Count: 2},
		Logging:  config.LoggingConfig{Level: "error", Format: "text", Output: "stderr"},
	}

	require.NoError(t, logging.InitializeLogger(cfg.Logging))

	shots := testutil.NewMockExampleStore()

	previousBuild := buildEngine
	buildEngine = func() (*query.Engine, storage.Store, error) {
		return query.NewEngine(cfg, store, generator, shots, logging.GetLogger()), store, nil
	}

	t.Cleanup(func() {
		cfg = previousCfg
		buildEngine = previousBuild
	})
}

// newTestCommand returns a command carrying a context, as Execute would.
func newTestCommand(t *testing.T) *cobra.Command {
	t.Helper()

	command := &cobra.Command{}
	command.SetContext(context.Background())

	return command
}

// captureStdout runs fn and returns what it wrote to stdout.
func captureStdout(t *testing.T, fn func() error) (string, error) {
	t.Helper()

	reader, writer, err := os.Pipe()
	require.NoError(t, err)

	previous := os.Stdout
	os.Stdout = writer

	runErr := fn()

	os.Stdout = previous
	require.NoError(t, writer.Close())

	out, err := io.ReadAll(reader)
	require.NoError(t, err)
	require.NoError(t, reader.Close())

	return string(out), runErr
}
