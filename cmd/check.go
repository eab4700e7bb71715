package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var checkCmd = &cobra.Command{
	Use:   "check <sql>",
	Short: "Validate a SQL statement without executing it",
	Long: `Check whether a SQL statement would be accepted: it must be a SELECT
statement and it must pass the database's own validation.

Example:
  statquery check "SELECT COUNT(*) FROM matches"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, store, err := buildEngine()
		if err != nil {
			return err
		}
		defer store.Close()

		if err := engine.CheckQuery(cmd.Context(), args[0]); err != nil {
			return err
		}

		fmt.Println("Query is valid.")

		return nil
	},
}
