package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseYAMLAppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
log_level: debug
feeds:
  - id: 0
    name: lobby
    enabled: true
  - id: 2
    name: office door
    enabled: true
sampling:
  interval: 250ms
alerts:
  cooldown: 15s
`))
	require.NoError(t, err)
	require.Equal(t, "debug", cfg.LogLevel)
	require.Len(t, cfg.Feeds, 2)
	require.Equal(t, 250*time.Millisecond, cfg.Sampling.Interval)
	require.Equal(t, 2*time.Second, cfg.Sampling.DetectorTimeout)
	require.Equal(t, 15*time.Second, cfg.Alerts.Cooldown)
	require.Equal(t, 1000, cfg.Alerts.StoreLimit)
	require.InDelta(t, 0.42, cfg.Stabilizer.ConfidenceThreshold, 1e-9)
	require.InDelta(t, 0.25, cfg.Stabilizer.OverlapThreshold, 1e-9)
	require.Equal(t, "anchor", cfg.Zones.Containment)

	feed, ok := cfg.Feed(2)
	require.True(t, ok)
	require.Equal(t, "office door", feed.Name)
	_, ok = cfg.Feed(7)
	require.False(t, ok)
}

func TestParseJSON(t *testing.T) {
	cfg, err := Parse([]byte(`{"log_level":"warn","zones":{"containment":"full_box"}}`))
	require.NoError(t, err)
	require.Equal(t, "warn", cfg.LogLevel)
	require.Equal(t, "full_box", cfg.Zones.Containment)
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]string{
		"duplicate feed":    "feeds:\n  - id: 1\n  - id: 1\n",
		"bad containment":   "zones:\n  containment: centroid\n",
		"kafka incomplete":  "ingest:\n  kafka:\n    enabled: true\n",
		"notify incomplete": "notify:\n  kafka:\n    enabled: true\n",
		"bad threshold":     "stabilizer:\n  confidence_threshold: 1.5\n",
		"bad timezone":      "policy:\n  timezone: Mars/Olympus\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			require.Error(t, err)
		})
	}
}

func TestManagerReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "zoneguard.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log_level: info\n"), 0o644))
	m, err := NewManager(path)
	require.NoError(t, err)
	require.Equal(t, "info", m.Get().LogLevel)

	require.NoError(t, os.WriteFile(path, []byte("log_level: error\n"), 0o644))
	future := time.Now().Add(time.Minute)
	require.NoError(t, os.Chtimes(path, future, future))
	needs, err := m.NeedsReload()
	require.NoError(t, err)
	require.True(t, needs)
	cfg, err := m.Reload()
	require.NoError(t, err)
	require.Equal(t, "error", cfg.LogLevel)
}

func TestCalibrationPoints(t *testing.T) {
	c := CalibrationConfig{
		Kind:  "homography",
		Image: [][2]float64{{0, 0}, {640, 0}, {640, 480}, {0, 480}},
		Plan:  [][2]float64{{0, 0}, {1, 0}, {1, 1}, {0, 1}},
	}
	img, plan := c.Points()
	require.Len(t, img, 4)
	require.Len(t, plan, 4)
	require.Equal(t, 640.0, img[2].X)
	require.Equal(t, 1.0, plan[2].Y)
}
