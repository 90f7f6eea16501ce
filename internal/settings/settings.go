// Package settings loads the optional on-disk configuration. Every
// field has a sensible zero default, so a missing file is not an error.
package settings

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

type Settings struct {
	// StorePath overrides state DB auto-detection.
	StorePath string `json:"store_path"`
	// CacheDBPath overrides the enrichment cache location.
	CacheDBPath string `json:"cache_db_path"`

	DisableEnrichment bool `json:"disable_enrichment"`
	DisableEstimation bool `json:"disable_estimation"`
}

func DefaultSettings() Settings {
	return Settings{}
}

func ConfigDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "cursorusage")
}

func Path() string {
	return filepath.Join(ConfigDir(), "settings.json")
}

func Load() (Settings, error) {
	return LoadFrom(Path())
}

func LoadFrom(path string) (Settings, error) {
	s := DefaultSettings()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return s, fmt.Errorf("reading settings: %w", err)
	}

	if err := json.Unmarshal(data, &s); err != nil {
		return DefaultSettings(), fmt.Errorf("parsing settings %s: %w", path, err)
	}

	return s, nil
}

func Save(s Settings) error {
	return SaveTo(Path(), s)
}

func SaveTo(path string, s Settings) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating settings dir: %w", err)
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling settings: %w", err)
	}
	data = append(data, '\n')

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing settings: %w", err)
	}

	return nil
}
