package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

const LastRunFileName = "last_run.json"

// SaveLastRun persists the summary of the most recent run into dir so the
// status command can report on it after the run has finished.
func SaveLastRun(dir string, v any) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create run directory: %w", err)
	}

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal run summary: %w", err)
	}

	return os.WriteFile(filepath.Join(dir, LastRunFileName), data, 0644)
}

// LoadLastRun reads the persisted summary of the most recent run from dir.
func LoadLastRun(dir string, v any) error {
	data, err := os.ReadFile(filepath.Join(dir, LastRunFileName))
	if err != nil {
		return err
	}

	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to parse run summary: %w", err)
	}
	return nil
}
