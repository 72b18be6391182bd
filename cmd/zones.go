package cmd

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/kilianp07/smartzone/config"
	"github.com/kilianp07/smartzone/core/zone"
)

var zonesJSON bool

var zonesCmd = &cobra.Command{
	Use:   "zones",
	Short: "Print the zone grid built from the configuration",
	RunE:  runZones,
}

func init() {
	zonesCmd.Flags().BoolVar(&zonesJSON, "json", false, "print zones with their boundaries as JSON")
	rootCmd.AddCommand(zonesCmd)
}

func runZones(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	grid, err := zone.NewGrid(cfg.Grid)
	if err != nil {
		return err
	}
	zones := zone.NewRegistry(grid).Snapshot()
	if zonesJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(zones)
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ZONE\tLAT\tLON")
	for _, z := range zones {
		fmt.Fprintf(w, "%s\t%.6f\t%.6f\n", z.ID, z.Center.Lat, z.Center.Lon)
	}
	fmt.Fprintf(w, "%d zones at resolution %d\n", grid.Len(), grid.Resolution())
	return w.Flush()
}
