package main

import (
	"encoding/json"
	"fmt"
	"time"

	querystate "github.com/goliatone/go-query-state"
	"github.com/goliatone/go-query-state/pkg/querylang"
	"github.com/spf13/cobra"
)

type matchFlags struct {
	app       string
	stateFile string
	docs      string
	timeField string
	query     string
	language  string
	now       string
	count     bool
}

func newMatchCmd(rt *runtime) *cobra.Command {
	flags := &matchFlags{}
	cmd := &cobra.Command{
		Use:   "match",
		Short: "Print the documents selected by an app's query, filters and time range",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return rt.runMatch(cmd, flags)
		},
	}
	f := cmd.Flags()
	f.StringVarP(&flags.app, "app", "a", "", "app whose stored state is used (defaults to the configured app)")
	f.StringVarP(&flags.stateFile, "state", "s", "", "state JSON file used instead of the store")
	f.StringVarP(&flags.docs, "docs", "d", "-", "documents as a JSON array or NDJSON, - for stdin")
	f.StringVar(&flags.timeField, "time-field", "", "document field the time range applies to (defaults to matcher.time_field)")
	f.StringVarP(&flags.query, "query", "q", "", "override the query text")
	f.StringVarP(&flags.language, "language", "l", "", "language of --query (defaults to query.language)")
	f.StringVar(&flags.now, "now", "", "RFC3339 instant used as now")
	f.BoolVar(&flags.count, "count", false, "print only the number of matches")
	return cmd
}

func (rt *runtime) runMatch(cmd *cobra.Command, flags *matchFlags) error {
	cfg := rt.cfg
	if flags.docs == "-" && flags.stateFile == "-" {
		return usageError{fmt.Errorf("--state and --docs cannot both read stdin")}
	}

	var snapshot querystate.SharedState
	if flags.stateFile != "" {
		data, err := readInput(cmd.InOrStdin(), flags.stateFile)
		if err != nil {
			return usageError{err}
		}
		if err := json.Unmarshal(data, &snapshot); err != nil {
			return usageError{fmt.Errorf("decode state: %w", err)}
		}
	} else {
		store, closer, err := rt.openStore()
		if err != nil {
			return err
		}
		defer closer.Close()
		snapshot, err = loadOrEmpty(cmd, rt.resolver(store), rt.appName(flags.app))
		if err != nil {
			return err
		}
	}
	if flags.query != "" {
		language := flags.language
		if language == "" {
			language = cfg.Query.Language
		}
		snapshot.Query = &querystate.Query{Query: flags.query, Language: language}
	}

	data, err := readInput(cmd.InOrStdin(), flags.docs)
	if err != nil {
		return usageError{err}
	}
	docs, err := decodeDocuments(data)
	if err != nil {
		return usageError{err}
	}

	opts := []querylang.MatcherOption{querylang.WithScriptLanguage(cfg.Matcher.ScriptLanguage)}
	if flags.now != "" {
		now, err := time.Parse(time.RFC3339, flags.now)
		if err != nil {
			return usageError{fmt.Errorf("--now: %w", err)}
		}
		opts = append(opts, querylang.WithClock(func() time.Time { return now }))
	}

	registryOpts := []querylang.RegistryOption{
		querylang.WithEvaluatorLogger(querylang.NewSlogEvaluatorLogger(rt.logger)),
		querylang.WithScriptTimeout(cfg.Matcher.ScriptTimeout),
	}
	if cfg.Matcher.CacheSize > 0 {
		cache, err := querylang.NewRistrettoCache(cfg.Matcher.CacheSize)
		if err != nil {
			return err
		}
		defer cache.Close()
		registryOpts = append(registryOpts, querylang.WithProgramCache(cache))
	}
	matcher := querylang.NewMatcher(querylang.DefaultRegistry(registryOpts...), opts...)

	timeField := flags.timeField
	if timeField == "" {
		timeField = cfg.Matcher.TimeField
	}
	matched, err := matcher.Filter(querylang.RequestFromState(snapshot, timeField), docs)
	if err != nil {
		return usageError{err}
	}
	rt.logger.Debug("documents matched", "total", len(docs), "matched", len(matched))

	if flags.count {
		_, err := fmt.Fprintln(cmd.OutOrStdout(), len(matched))
		return err
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	for _, doc := range matched {
		if err := enc.Encode(doc); err != nil {
			return err
		}
	}
	return nil
}
