package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/smartzone/core/model"
	"github.com/kilianp07/smartzone/infra/sqlite"
)

func execute(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	require.NoError(t, rootCmd.Execute())
	return out.String()
}

func writeConfig(t *testing.T, data string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))
	return path
}

func TestZonesCommand(t *testing.T) {
	path := writeConfig(t, "grid:\n  radius_km: 1\n")
	out := execute(t, "zones", "--config", path)
	assert.True(t, strings.HasPrefix(out, "ZONE"))
	assert.Contains(t, out, "zones at resolution 8")

	out = execute(t, "zones", "--config", path, "--json")
	var zones []model.Zone
	require.NoError(t, json.Unmarshal([]byte(out), &zones))
	assert.NotEmpty(t, zones)
	assert.Len(t, zones[0].Boundary, 6)
	zonesJSON = false
}

func TestSurgeHistoryCommand(t *testing.T) {
	db := filepath.Join(t.TempDir(), "sz.db")
	st, err := sqlite.Open(sqlite.Config{Path: db})
	require.NoError(t, err)
	at := time.Date(2025, 3, 3, 8, 0, 0, 0, time.UTC)
	require.NoError(t, st.AppendSurgeEvent(context.Background(), model.SurgeEvent{
		ZoneID: "z1", Timestamp: at, Active: true, DemandLevel: 6, Ratio: 3, Multiplier: 2.2,
	}))
	require.NoError(t, st.AppendSurgeEvent(context.Background(), model.SurgeEvent{ZoneID: "z2", Timestamp: at}))
	require.NoError(t, st.Close(context.Background()))

	path := writeConfig(t, "store:\n  type: sqlite\n  conf:\n    path: "+db+"\n")
	out := execute(t, "surge-history", "--config", path, "--zone", "z1")
	assert.Contains(t, out, "z1")
	assert.Contains(t, out, "2.20")
	assert.NotContains(t, out, "z2")

	historyZone = ""
	out = execute(t, "surge-history", "--config", path, "--format", "csv")
	assert.Contains(t, out, "z2,false")
	historyFmt = "table"
}
