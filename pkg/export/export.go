// Package export writes surge history in machine-readable formats.
package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/kilianp07/smartzone/core/model"
)

// Formats lists the supported output formats.
var Formats = []string{"json", "csv"}

// WriteJSON writes the events to w as a JSON array.
func WriteJSON(w io.Writer, events []model.SurgeEvent) error {
	if events == nil {
		events = []model.SurgeEvent{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(events)
}

// WriteCSV writes one row per event with a header line.
func WriteCSV(w io.Writer, events []model.SurgeEvent) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"timestamp", "zone_id", "active", "demand_level", "demand_supply_ratio", "multiplier"}); err != nil {
		return err
	}
	for _, e := range events {
		rec := []string{
			e.Timestamp.Format(time.RFC3339),
			e.ZoneID,
			strconv.FormatBool(e.Active),
			strconv.Itoa(e.DemandLevel),
			strconv.FormatFloat(e.Ratio, 'f', -1, 64),
			strconv.FormatFloat(e.Multiplier, 'f', -1, 64),
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// Write dispatches on format.
func Write(w io.Writer, format string, events []model.SurgeEvent) error {
	switch format {
	case "json":
		return WriteJSON(w, events)
	case "csv":
		return WriteCSV(w, events)
	}
	return fmt.Errorf("unknown export format %q", format)
}
