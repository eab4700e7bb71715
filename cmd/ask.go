package cmd

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/spf13/cobra"

	"github.com/statquery/statquery/internal/formatter"
	"github.com/statquery/statquery/internal/logging"
	"github.com/statquery/statquery/internal/prompt"
)

var (
	askJSON    bool
	askShowSQL bool
)

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Answer a natural language question with data from the database",
	Long: `Ask a question in natural language. The question is answered by generating a
SELECT statement, validating it, and executing it against the configured
database.

Examples:
  statquery ask "How many times did Feyenoord win against Ajax?"
  statquery ask --sql "What is the biggest win against PSV?"
  statquery ask --json "Who scored the most goals in 1970?"`,
	Args: cobra.ExactArgs(1),
	RunE: runAsk,
}

func init() {
	askCmd.Flags().BoolVar(&askJSON, "json", false, "Output the result as JSON")
	askCmd.Flags().BoolVar(&askShowSQL, "sql", false, "Print the executed SQL before the result")
}

func runAsk(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	logger := logging.GetLogger()

	question := strings.TrimSpace(args[0])

	engine, store, err := buildEngine()
	if err != nil {
		return err
	}
	defer store.Close()

	logger.Debugf("Answering question: %s", question)

	sp := spinner.New(spinner.CharSets[14], 100*time.Millisecond,
		spinner.WithWriter(os.Stderr))
	sp.Suffix = " thinking..."

	if !askJSON {
		sp.Start()
	}

	resp, err := engine.Answer(ctx, prompt.History{
		{Role: prompt.RoleUser, Content: question},
	})

	sp.Stop()

	if err != nil {
		return err
	}

	if askShowSQL && !askJSON {
		fmt.Printf("SQL: %s\n\n", resp.SQL)
	}

	if askJSON {
		out, err := formatter.JSON(resp.Result)
		if err != nil {
			return err
		}

		fmt.Print(out)

		return nil
	}

	fmt.Print(formatter.Table(resp.Result))

	return nil
}
