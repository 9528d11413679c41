// Package config carries the client daemon's settings.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"github.com/nyroxsystems-boop/partsync/internal/utils"
)

const (
	DefaultServerURL = "http://localhost:3777"

	// InternalDirName holds client-local state inside the project dir.
	InternalDirName = ".partsync"
	lockFileName    = "partsync.lock"
)

// Config is the fully resolved client configuration. Values come from
// flags, environment (PARTSYNC_*) and an optional config file, merged by
// the CLI layer.
type Config struct {
	// Path is the config file this was loaded from, if any.
	Path string `json:"-" mapstructure:"-"`

	// Name identifies this client to the relay and in diff authorship.
	Name string `json:"name" mapstructure:"name"`

	// DataDir is the project directory being synced.
	DataDir string `json:"data_dir" mapstructure:"data_dir"`

	// ServerURL is the relay's HTTP base URL.
	ServerURL string `json:"server_url" mapstructure:"server_url"`

	// Token is the optional shared project token.
	Token string `json:"-" mapstructure:"token"`

	// Ignore holds extra glob patterns excluded from syncing.
	Ignore []string `json:"ignore" mapstructure:"ignore"`
}

func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config: nil")
	}

	if c.Name == "" {
		host, err := os.Hostname()
		if err != nil || host == "" {
			return errors.New("config: client name required")
		}
		c.Name = host
	}

	if c.DataDir == "" {
		return errors.New("config: data dir required")
	}
	dir, err := utils.ResolvePath(c.DataDir)
	if err != nil {
		return fmt.Errorf("config: data dir: %w", err)
	}
	if !utils.DirExists(dir) {
		return fmt.Errorf("config: data dir does not exist: %s", dir)
	}
	c.DataDir = dir

	if c.ServerURL == "" {
		c.ServerURL = DefaultServerURL
	}
	u, err := url.Parse(c.ServerURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("config: invalid server url %q", c.ServerURL)
	}

	return nil
}

// InternalDir returns the client-local state directory, creating it.
func (c *Config) InternalDir() (string, error) {
	dir := filepath.Join(c.DataDir, InternalDirName)
	if err := utils.EnsureDir(dir); err != nil {
		return "", fmt.Errorf("config: internal dir: %w", err)
	}
	return dir, nil
}

// LockFilePath is the path of the single-instance lock file.
func (c *Config) LockFilePath() (string, error) {
	dir, err := c.InternalDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, lockFileName), nil
}
