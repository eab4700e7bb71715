package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Print the database schema as a human-readable description",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		engine, store, err := buildEngine()
		if err != nil {
			return err
		}
		defer store.Close()

		schema, err := engine.Schema(cmd.Context())
		if err != nil {
			return err
		}

		fmt.Print(schema)

		return nil
	},
}
