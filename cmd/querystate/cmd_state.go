package main

import (
	"encoding/json"
	"errors"
	"fmt"

	querystate "github.com/goliatone/go-query-state"
	"github.com/goliatone/go-query-state/pkg/state"
	"github.com/spf13/cobra"
)

func newStateCmd(rt *runtime) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "state",
		Short: "Read and write persisted state partitions",
	}
	cmd.AddCommand(
		newStateGetCmd(rt),
		newStatePutCmd(rt),
		newStateTraceCmd(rt),
		newStateDeleteCmd(rt),
	)
	return cmd
}

func newStateGetCmd(rt *runtime) *cobra.Command {
	var app string
	var withLayers bool
	cmd := &cobra.Command{
		Use:   "get",
		Short: "Print the layered state of an app",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, closer, err := rt.openStore()
			if err != nil {
				return err
			}
			defer closer.Close()

			resolved, err := rt.resolver(store).Resolve(cmd.Context(), rt.appName(app))
			if err != nil {
				return err
			}
			if withLayers {
				return writeJSON(cmd.OutOrStdout(), resolved)
			}
			return writeJSON(cmd.OutOrStdout(), resolved.State)
		},
	}
	cmd.Flags().StringVarP(&app, "app", "a", "", "app name (defaults to the configured app)")
	cmd.Flags().BoolVar(&withLayers, "layers", false, "include the partitions the state was layered from")
	return cmd
}

func newStatePutCmd(rt *runtime) *cobra.Command {
	var app, file string
	cmd := &cobra.Command{
		Use:   "put",
		Short: "Split a state document and save both partitions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			data, err := readInput(cmd.InOrStdin(), file)
			if err != nil {
				return usageError{err}
			}
			var snapshot querystate.SharedState
			if err := json.Unmarshal(data, &snapshot); err != nil {
				return usageError{fmt.Errorf("decode state: %w", err)}
			}
			if snapshot.Time != nil && !querystate.ValidateTimeRange(snapshot.Time) {
				return usageError{fmt.Errorf("%w: time range %q..%q", state.ErrInvalidSnapshot, snapshot.Time.From, snapshot.Time.To)}
			}

			store, closer, err := rt.openStore()
			if err != nil {
				return err
			}
			defer closer.Close()

			name := rt.appName(app)
			global, appMeta, err := rt.resolver(store).Save(cmd.Context(), name, snapshot)
			if err != nil {
				return err
			}
			rt.logger.Info("state saved", "app", name, "global_etag", global.ETag, "app_etag", appMeta.ETag)
			return writeJSON(cmd.OutOrStdout(), map[string]state.Meta{
				state.GlobalRef().String():  global,
				state.AppRef(name).String(): appMeta,
			})
		},
	}
	cmd.Flags().StringVarP(&app, "app", "a", "", "app name (defaults to the configured app)")
	cmd.Flags().StringVarP(&file, "file", "f", "-", "state JSON file, - for stdin")
	return cmd
}

func newStateTraceCmd(rt *runtime) *cobra.Command {
	var app string
	cmd := &cobra.Command{
		Use:   "trace KEY",
		Short: "Show which partition provides a state key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			switch args[0] {
			case querystate.KeyTime, querystate.KeyRefreshInterval, querystate.KeyQuery, querystate.KeyFilters:
			default:
				return usageError{fmt.Errorf("unknown key %q", args[0])}
			}

			store, closer, err := rt.openStore()
			if err != nil {
				return err
			}
			defer closer.Close()

			resolved, err := rt.resolver(store).Resolve(cmd.Context(), rt.appName(app))
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), resolved.Trace(args[0]))
		},
	}
	cmd.Flags().StringVarP(&app, "app", "a", "", "app name (defaults to the configured app)")
	return cmd
}

func newStateDeleteCmd(rt *runtime) *cobra.Command {
	var app, partition string
	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete one partition",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := state.ParsePartition(partition)
			if err != nil {
				return usageError{err}
			}
			ref := state.Ref{App: rt.appName(app), Store: store}
			if _, err := ref.Identifier(); err != nil {
				return usageError{err}
			}

			backend, closer, err := rt.openStore()
			if err != nil {
				return err
			}
			defer closer.Close()

			if err := backend.Delete(cmd.Context(), ref); err != nil {
				return err
			}
			rt.logger.Info("partition deleted", "ref", ref.String())
			return nil
		},
	}
	cmd.Flags().StringVarP(&app, "app", "a", "", "app name (defaults to the configured app)")
	cmd.Flags().StringVarP(&partition, "partition", "p", "app", "partition to delete (app or global)")
	return cmd
}

// loadOrEmpty resolves the stored state of app, treating a missing app as
// empty state.
func loadOrEmpty(cmd *cobra.Command, resolver state.Resolver, app string) (querystate.SharedState, error) {
	resolved, err := resolver.Resolve(cmd.Context(), app)
	if errors.Is(err, state.ErrNotFound) {
		return querystate.SharedState{}, nil
	}
	if err != nil {
		return querystate.SharedState{}, err
	}
	return resolved.State, nil
}
