package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/ticket-geocoder/internal/cache"
	"github.com/sells-group/ticket-geocoder/internal/model"
	"github.com/sells-group/ticket-geocoder/internal/pipeline"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and administer the geocode cache",
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print cache statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer func() { _ = st.Close() }()
		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate cache store")
		}

		stats, err := st.Statistics(ctx)
		if err != nil {
			return err
		}
		return printJSON(stats)
	},
}

var (
	queryTier       string
	queryPriority   string
	queryMethod     string
	queryLocked     bool
	queryLimit      int
	queryOffset     int
	queryAllVersion bool
)

var cacheQueryCmd = &cobra.Command{
	Use:   "query",
	Short: "Query geocode records by tier, priority, method, or lock state",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer func() { _ = st.Close() }()
		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate cache store")
		}

		filter := cache.Filter{
			CurrentOnly: !queryAllVersion,
			Limit:       queryLimit,
			Offset:      queryOffset,
		}
		if queryTier != "" {
			filter.Tiers = []model.QualityTier{model.QualityTier(queryTier)}
		}
		if queryPriority != "" {
			filter.Priorities = []model.ReviewPriority{model.ReviewPriority(queryPriority)}
		}
		if queryMethod != "" {
			filter.Methods = []string{queryMethod}
		}
		if cmd.Flags().Changed("locked") {
			filter.Locked = &queryLocked
		}

		records, err := st.Query(ctx, filter)
		if err != nil {
			return err
		}
		return printJSON(records)
	},
}

var cacheHistoryCmd = &cobra.Command{
	Use:   "history <ticket-number>",
	Short: "Print the full version history of a ticket",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer func() { _ = st.Close() }()
		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate cache store")
		}

		history, err := st.History(ctx, args[0])
		if err != nil {
			return err
		}
		return printJSON(history)
	},
}

var (
	lockReason string
	lockActor  string
)

var cacheLockCmd = &cobra.Command{
	Use:   "lock <ticket-number>",
	Short: "Lock a ticket's current geocode against reprocessing",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer func() { _ = st.Close() }()
		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate cache store")
		}
		return st.Lock(ctx, args[0], lockReason, lockActor)
	},
}

var cacheUnlockCmd = &cobra.Command{
	Use:   "unlock <ticket-number>",
	Short: "Remove a ticket's reprocessing lock",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer func() { _ = st.Close() }()
		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate cache store")
		}
		return st.Unlock(ctx, args[0])
	},
}

var exportOut string

var cacheExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export current records to a spreadsheet",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer func() { _ = st.Close() }()
		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate cache store")
		}

		records, err := st.Query(ctx, cache.Filter{CurrentOnly: true})
		if err != nil {
			return err
		}
		if err := pipeline.WriteResultsXLSX(exportOut, "records", records); err != nil {
			return err
		}
		zap.L().Info("cache exported", zap.String("path", exportOut), zap.Int("records", len(records)))
		return nil
	},
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return eris.Wrap(err, "encode output")
	}
	return nil
}

func init() {
	cacheQueryCmd.Flags().StringVar(&queryTier, "tier", "", "filter by quality tier")
	cacheQueryCmd.Flags().StringVar(&queryPriority, "priority", "", "filter by review priority")
	cacheQueryCmd.Flags().StringVar(&queryMethod, "method", "", "filter by geocode method")
	cacheQueryCmd.Flags().BoolVar(&queryLocked, "locked", false, "filter by lock state")
	cacheQueryCmd.Flags().IntVar(&queryLimit, "limit", 100, "maximum records to return")
	cacheQueryCmd.Flags().IntVar(&queryOffset, "offset", 0, "records to skip")
	cacheQueryCmd.Flags().BoolVar(&queryAllVersion, "all-versions", false, "include superseded versions")

	cacheLockCmd.Flags().StringVar(&lockReason, "reason", "", "why the geocode is being locked")
	cacheLockCmd.Flags().StringVar(&lockActor, "actor", "", "who is locking the geocode")

	cacheExportCmd.Flags().StringVar(&exportOut, "out", "cache_export.xlsx", "destination workbook path")

	cacheCmd.AddCommand(cacheStatsCmd, cacheQueryCmd, cacheHistoryCmd, cacheLockCmd, cacheUnlockCmd, cacheExportCmd)
	rootCmd.AddCommand(cacheCmd)
}
