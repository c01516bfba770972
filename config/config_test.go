package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"enhanceswarm/log"
)

// TestMain runs before all tests to set up the test environment
func TestMain(m *testing.M) {
	log.Initialize()
	defer log.Close()

	exitCode := m.Run()
	os.Exit(exitCode)
}

func setTempHome(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	return home
}

func TestGetConfigDir(t *testing.T) {
	home := setTempHome(t)
	dir, err := GetConfigDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".enhance-swarm"), dir)
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "claude", cfg.AgentProgram)
	assert.Equal(t, "enhance-swarm/", cfg.BranchPrefix)
	assert.Equal(t, 4, cfg.Concurrency)
	assert.Equal(t, time.Second, cfg.PollInterval())
	assert.Equal(t, 20*time.Minute, cfg.AgentTimeout())
	assert.Equal(t, time.Duration(0), cfg.RunTimeout())
	assert.Equal(t, 10*time.Second, cfg.GracePeriod())
	assert.Equal(t, 3, cfg.RetryAttempts)
	assert.Equal(t, time.Second, cfg.RetryBaseDelay())
	assert.Equal(t, 2.0, cfg.RetryBackoffMultiplier)
	assert.Equal(t, 500, cfg.OutputRingLines)
}

func TestLoadConfigCreatesDefault(t *testing.T) {
	home := setTempHome(t)

	cfg := LoadConfig()
	assert.Equal(t, DefaultConfig(), cfg)

	// The default file is written for the next load.
	assert.FileExists(t, filepath.Join(home, ".enhance-swarm", ConfigFileName))
}

func TestLoadConfigRoundTrip(t *testing.T) {
	setTempHome(t)

	cfg := DefaultConfig()
	cfg.Concurrency = 8
	cfg.AgentProgram = "aider"
	cfg.WebhookURL = "https://hooks.example.com/swarm"
	cfg.WorktreeSetup = &WorktreeSetup{
		CopyIgnored: []string{".env"},
		Run:         []string{"npm install"},
	}
	require.NoError(t, SaveConfig(cfg))

	loaded := LoadConfig()
	assert.Equal(t, cfg, loaded)
}

func TestLoadConfigFallsBackOnCorruptFile(t *testing.T) {
	home := setTempHome(t)
	configDir := filepath.Join(home, ".enhance-swarm")
	require.NoError(t, os.MkdirAll(configDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(configDir, ConfigFileName), []byte("{not json"), 0644))

	cfg := LoadConfig()
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestDurationAccessorsClampZeroValues(t *testing.T) {
	cfg := &Config{}
	assert.Equal(t, time.Second, cfg.PollInterval())
	assert.Equal(t, 10*time.Second, cfg.GracePeriod())
	assert.Equal(t, time.Duration(0), cfg.AgentTimeout())
}

func TestLastRunRoundTrip(t *testing.T) {
	dir := t.TempDir()

	type record struct {
		Success bool `json:"success"`
		Agents  int  `json:"agents"`
	}
	require.NoError(t, SaveLastRun(dir, record{Success: true, Agents: 4}))

	var loaded record
	require.NoError(t, LoadLastRun(dir, &loaded))
	assert.Equal(t, record{Success: true, Agents: 4}, loaded)
}

func TestLoadLastRunMissing(t *testing.T) {
	var v struct{}
	err := LoadLastRun(t.TempDir(), &v)
	assert.True(t, os.IsNotExist(err))
}
