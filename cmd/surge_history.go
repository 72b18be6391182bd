package cmd

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/kilianp07/smartzone/app"
	"github.com/kilianp07/smartzone/config"
	"github.com/kilianp07/smartzone/core/store"
	"github.com/kilianp07/smartzone/pkg/export"
)

var (
	historyZone  string
	historyLimit int
	historySince time.Duration
	historyFmt   string
)

var surgeHistoryCmd = &cobra.Command{
	Use:   "surge-history",
	Short: "Print recorded surge events, newest first",
	RunE:  runSurgeHistory,
}

func init() {
	surgeHistoryCmd.Flags().StringVar(&historyZone, "zone", "", "only events of this zone")
	surgeHistoryCmd.Flags().IntVar(&historyLimit, "limit", 20, "maximum number of events")
	surgeHistoryCmd.Flags().DurationVar(&historySince, "since", 0, "only events newer than this duration")
	surgeHistoryCmd.Flags().StringVar(&historyFmt, "format", "table", "output format: table, json or csv")
	rootCmd.AddCommand(surgeHistoryCmd)
}

func runSurgeHistory(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	st, err := app.OpenStore(cfg)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
	defer cancel()
	defer func() {
		if err := st.Close(context.Background()); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "error while closing store: %v\n", err)
		}
	}()

	f := store.SurgeFilter{ZoneID: historyZone, Limit: historyLimit}
	if historySince > 0 {
		f.Since = time.Now().Add(-historySince)
	}
	events, err := st.ListSurgeEvents(ctx, f)
	if err != nil {
		return err
	}
	if historyFmt != "table" {
		return export.Write(cmd.OutOrStdout(), historyFmt, events)
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tZONE\tACTIVE\tDEMAND\tRATIO\tMULTIPLIER")
	for _, ev := range events {
		fmt.Fprintf(w, "%s\t%s\t%t\t%d\t%.2f\t%.2f\n",
			ev.Timestamp.Format(time.RFC3339), ev.ZoneID, ev.Active, ev.DemandLevel, ev.Ratio, ev.Multiplier)
	}
	return w.Flush()
}
