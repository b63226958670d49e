package main

import (
	"fmt"

	querystate "github.com/goliatone/go-query-state"
	"github.com/goliatone/go-query-state/pkg/querylang"
	"github.com/spf13/cobra"
)

func newQueryCmd(rt *runtime) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "query",
		Short: "Inspect query languages",
	}

	languages := &cobra.Command{
		Use:   "languages",
		Short: "List the supported query languages",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			for _, name := range querylang.DefaultRegistry().Languages() {
				if _, err := fmt.Fprintln(cmd.OutOrStdout(), name); err != nil {
					return err
				}
			}
			return nil
		},
	}

	var language string
	validate := &cobra.Command{
		Use:   "validate QUERY",
		Short: "Check that a query compiles",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if language == "" {
				language = rt.cfg.Query.Language
			}
			registry := querylang.DefaultRegistry()
			if err := registry.Validate(querystate.Query{Query: args[0], Language: language}); err != nil {
				return usageError{err}
			}
			_, err := fmt.Fprintln(cmd.OutOrStdout(), "ok")
			return err
		},
	}
	validate.Flags().StringVarP(&language, "language", "l", "", "query language (defaults to query.language)")

	cmd.AddCommand(languages, validate)
	return cmd
}
