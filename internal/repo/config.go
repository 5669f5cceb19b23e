package repo

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"

	"github.com/WildMix/Scribe/internal/scriberr"
)

// Config is the repository configuration persisted as config.json.
// Unknown keys in the file are ignored on load.
type Config struct {
	AuthorID           string   `json:"author_id,omitempty"`
	AuthorRole         string   `json:"author_role,omitempty"`
	PGConnectionString string   `json:"pg_connection_string,omitempty"`
	WatchedTables      []string `json:"watched_tables,omitempty"`
}

// DefaultConfig is written by Init.
func DefaultConfig() *Config {
	return &Config{
		AuthorID:   "user:anonymous",
		AuthorRole: "developer",
	}
}

// LoadConfig reads config.json. A missing file is NOT_FOUND.
func (r *Repository) LoadConfig() (*Config, error) {
	data, err := os.ReadFile(r.ConfigPath())
	if errors.Is(err, fs.ErrNotExist) {
		return nil, scriberr.New(scriberr.KindNotFound, "no config at %s", r.ConfigPath())
	}
	if err != nil {
		return nil, scriberr.Wrap(scriberr.KindIO, err, "read config")
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, scriberr.Wrap(scriberr.KindJSONParse, err, "parse %s", r.ConfigPath())
	}
	return &cfg, nil
}

// SaveConfig writes config.json, pretty-printed.
func (r *Repository) SaveConfig(cfg *Config) error {
	if cfg == nil {
		return scriberr.New(scriberr.KindInvalidArg, "nil config")
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return scriberr.Wrap(scriberr.KindNoMem, err, "encode config")
	}
	data = append(data, '\n')

	if err := os.WriteFile(r.ConfigPath(), data, 0o644); err != nil {
		return scriberr.Wrap(scriberr.KindIO, err, "write %s", r.ConfigPath())
	}
	return nil
}
