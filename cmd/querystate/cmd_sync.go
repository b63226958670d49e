package main

import (
	"context"
	"fmt"
	"time"

	querystate "github.com/goliatone/go-query-state"
	"github.com/goliatone/go-query-state/layering"
	"github.com/goliatone/go-query-state/pkg/activity"
	"github.com/goliatone/go-query-state/pkg/activity/otelsink"
	"github.com/goliatone/go-query-state/pkg/activity/promsink"
	"github.com/goliatone/go-query-state/pkg/container"
	"github.com/goliatone/go-query-state/pkg/filters"
	"github.com/goliatone/go-query-state/pkg/query"
	"github.com/goliatone/go-query-state/pkg/querylang"
	"github.com/goliatone/go-query-state/pkg/querystring"
	"github.com/goliatone/go-query-state/pkg/timefilter"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

type syncFlags struct {
	app      string
	from, to string
	refresh  time.Duration
	pause    string
	query    string
	language string
	clear    bool
	dryRun   bool
}

func newSyncCmd(rt *runtime) *cobra.Command {
	flags := &syncFlags{}
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Restore an app's state through a bridge, apply service changes and save it back",
		Long: `sync connects a bridge between in-process query services and a state
container, restores the stored state of the app into the container, applies
the service changes given as flags and saves the synced container state.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return rt.runSync(cmd, flags)
		},
	}
	f := cmd.Flags()
	f.StringVarP(&flags.app, "app", "a", "", "app name (defaults to the configured app)")
	f.StringVar(&flags.from, "from", "", "set the time range start")
	f.StringVar(&flags.to, "to", "", "set the time range end")
	f.DurationVar(&flags.refresh, "refresh", -1, "set the refresh interval")
	f.StringVar(&flags.pause, "pause", "", "pause (true) or resume (false) auto refresh")
	f.StringVarP(&flags.query, "query", "q", "", "set the query text")
	f.StringVarP(&flags.language, "language", "l", "", "query language (defaults to query.language)")
	f.BoolVar(&flags.clear, "clear-filters", false, "remove every filter")
	f.BoolVar(&flags.dryRun, "dry-run", false, "print the synced state without saving it")
	return cmd
}

func (rt *runtime) runSync(cmd *cobra.Command, flags *syncFlags) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	cfg := rt.cfg
	app := rt.appName(flags.app)

	store, closer, err := rt.openStore()
	if err != nil {
		return err
	}
	defer closer.Close()
	resolver := rt.resolver(store)

	stored, err := loadOrEmpty(cmd, resolver, app)
	if err != nil {
		return err
	}

	registry := querylang.DefaultRegistry(
		querylang.WithEvaluatorLogger(querylang.NewSlogEvaluatorLogger(rt.logger)),
	)
	services := query.New(
		timefilter.New(timefilter.Config{
			TimeDefaults:            cfg.TimeDefaults(),
			RefreshIntervalDefaults: cfg.RefreshIntervalDefaults(),
		}),
		filters.NewManager(),
		querystring.NewManager(
			querystring.WithDefaultLanguage(cfg.Query.Language),
			querystring.WithValidator(registry),
		),
	)
	defer services.Close()

	metrics := prometheus.NewRegistry()
	opts := []querystate.Option{
		querystate.WithApp(app),
		querystate.WithLogger(querystate.NewSlogLogger(rt.logger)),
	}
	if cfg.Activity.Enabled {
		hooks := activity.Hooks{}
		if cfg.Activity.Metrics {
			hooks = append(hooks, promsink.New(metrics))
		}
		if cfg.Activity.Tracing {
			hooks = append(hooks, otelsink.New(nil))
		}
		emitter := activity.NewEmitter(hooks, activity.Config{
			Enabled: true,
			Channel: cfg.Activity.Channel,
			Verbs:   cfg.Activity.Verbs,
			OnError: func(event activity.Event, err error) {
				rt.logger.Warn("activity hook failed", "verb", event.Verb, "error", err)
			},
		})
		opts = append(opts, querystate.WithActivityEmitter(emitter))
	}

	box := container.New(querystate.SharedState{})
	bridge, err := services.Connect(box, cfg.SyncConfig(), opts...)
	if err != nil {
		return err
	}
	defer bridge.Disconnect()

	// Stored values win over service defaults.
	if err := box.Set(layering.MergeLayers(stored, box.Get())); err != nil {
		return fmt.Errorf("restore state: %w", err)
	}
	if err := applyServiceChanges(services, flags); err != nil {
		return usageError{err}
	}

	synced := box.Get()
	if !flags.dryRun {
		global, appMeta, err := resolver.Save(ctx, app, synced)
		if err != nil {
			return err
		}
		rt.logger.Info("state synced", "app", app, "bridge", bridge.ID(), "global_etag", global.ETag, "app_etag", appMeta.ETag)
	}
	if cfg.Activity.Metrics {
		logMetrics(rt, metrics)
	}
	return writeJSON(cmd.OutOrStdout(), synced)
}

func applyServiceChanges(services *query.Service, flags *syncFlags) error {
	if flags.from != "" || flags.to != "" {
		tr := services.Timefilter.GetTime()
		if flags.from != "" {
			tr.From = flags.from
		}
		if flags.to != "" {
			tr.To = flags.to
		}
		if !querystate.ValidateTimeRange(&tr) {
			return fmt.Errorf("invalid time range %q..%q", tr.From, tr.To)
		}
		if err := services.Timefilter.SetTime(tr); err != nil {
			return err
		}
	}
	if flags.refresh >= 0 || flags.pause != "" {
		interval := services.Timefilter.GetRefreshInterval()
		if flags.refresh >= 0 {
			interval.Value = flags.refresh.Milliseconds()
		}
		switch flags.pause {
		case "":
		case "true":
			interval.Pause = true
		case "false":
			interval.Pause = false
		default:
			return fmt.Errorf("--pause must be true or false, got %q", flags.pause)
		}
		if err := services.Timefilter.SetRefreshInterval(interval); err != nil {
			return err
		}
	}
	if flags.query != "" || flags.language != "" {
		q := services.QueryString.GetQuery()
		if flags.query != "" {
			q.Query = flags.query
		}
		if flags.language != "" {
			q.Language = flags.language
		}
		if err := services.QueryString.SetQuery(q); err != nil {
			return err
		}
	}
	if flags.clear {
		if err := services.Filters.RemoveAll(); err != nil {
			return err
		}
	}
	return nil
}

func logMetrics(rt *runtime, reg *prometheus.Registry) {
	families, err := reg.Gather()
	if err != nil {
		rt.logger.Warn("gather metrics", "error", err)
		return
	}
	for _, family := range families {
		for _, metric := range family.GetMetric() {
			labels := make([]any, 0, len(metric.GetLabel())*2+4)
			labels = append(labels, "metric", family.GetName(), "value", metric.GetCounter().GetValue())
			for _, label := range metric.GetLabel() {
				labels = append(labels, label.GetName(), label.GetValue())
			}
			rt.logger.Info("sync metric", labels...)
		}
	}
}
