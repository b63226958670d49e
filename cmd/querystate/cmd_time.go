package main

import (
	"fmt"
	"time"

	querystate "github.com/goliatone/go-query-state"
	"github.com/goliatone/go-query-state/pkg/timefilter"
	"github.com/spf13/cobra"
)

type boundsOutput struct {
	From string    `json:"from"`
	To   string    `json:"to"`
	Min  time.Time `json:"min"`
	Max  time.Time `json:"max"`
}

func newTimeCmd(rt *runtime) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "time",
		Short: "Work with date-math time ranges",
	}

	var from, to, now string
	bounds := &cobra.Command{
		Use:   "bounds",
		Short: "Validate a time range and print its absolute bounds",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			tr := rt.cfg.TimeDefaults()
			if from != "" {
				tr.From = from
			}
			if to != "" {
				tr.To = to
			}
			if !querystate.ValidateTimeRange(&tr) {
				return usageError{fmt.Errorf("invalid time range %q..%q", tr.From, tr.To)}
			}

			instant := time.Now()
			if now != "" {
				parsed, err := time.Parse(time.RFC3339, now)
				if err != nil {
					return usageError{fmt.Errorf("--now: %w", err)}
				}
				instant = parsed
			}
			b, err := timefilter.CalculateBounds(tr, instant)
			if err != nil {
				return usageError{err}
			}
			return writeJSON(cmd.OutOrStdout(), boundsOutput{From: tr.From, To: tr.To, Min: b.Min, Max: b.Max})
		},
	}
	bounds.Flags().StringVar(&from, "from", "", "range start (defaults to time.from)")
	bounds.Flags().StringVar(&to, "to", "", "range end (defaults to time.to)")
	bounds.Flags().StringVar(&now, "now", "", "RFC3339 instant used as now")

	cmd.AddCommand(bounds)
	return cmd
}
