// Package config provides persisted configuration for the ferry transfer
// engine. Only the engine settings survive restarts; the transfer list is
// session state and is never written to disk.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/ini.v1"

	"github.com/ferryfm/ferry/internal/constants"
)

// Session holds the engine settings persisted between runs.
//
// Config file location:
//   - Windows: %APPDATA%\Ferry\session.conf
//   - Unix: ~/.config/ferry/session.conf
//
// INI format:
//
//	[transfers]
//	max_concurrent = 2
//	bandwidth_limit_bytes_per_sec = 0
//	show_transfer_panel = false
type Session struct {
	// MaxConcurrent is the number of transfers executing at once.
	// Minimum: 1, Maximum: constants.MaxConcurrentCeiling.
	MaxConcurrent int `ini:"max_concurrent"`

	// BandwidthLimit is the global throttle in bytes/sec. 0 = unlimited.
	BandwidthLimit int64 `ini:"bandwidth_limit_bytes_per_sec"`

	// ShowTransferPanel restores the transfer panel visibility at startup.
	ShowTransferPanel bool `ini:"show_transfer_panel"`

	path string // where this session was loaded from / saves to
}

// Session validation errors
var (
	ErrInvalidMaxConcurrent  = errors.New("max_concurrent out of range")
	ErrInvalidBandwidthLimit = errors.New("bandwidth_limit_bytes_per_sec must not be negative")
)

// DefaultSessionPath returns the platform-specific config file path.
func DefaultSessionPath() (string, error) {
	if runtime.GOOS == "windows" {
		appData := os.Getenv("APPDATA")
		if appData == "" {
			return "", errors.New("APPDATA environment variable not set")
		}
		return filepath.Join(appData, "Ferry", "session.conf"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".config", "ferry", "session.conf"), nil
}

// NewSession returns a session with default values.
func NewSession() *Session {
	return &Session{
		MaxConcurrent:  constants.DefaultMaxConcurrent,
		BandwidthLimit: constants.DefaultBandwidthLimit,
	}
}

// LoadSession loads the session config from path. An empty path uses the
// default location. A missing file yields defaults and no error; a file
// that exists but cannot be parsed is an error.
func LoadSession(path string) (*Session, error) {
	s := NewSession()

	if path == "" {
		var err error
		path, err = DefaultSessionPath()
		if err != nil {
			return s, nil
		}
	}
	s.path = path

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return s, nil
	}

	f, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load session config: %w", err)
	}

	section := f.Section("transfers")
	s.MaxConcurrent = section.Key("max_concurrent").MustInt(constants.DefaultMaxConcurrent)
	s.BandwidthLimit = section.Key("bandwidth_limit_bytes_per_sec").MustInt64(constants.DefaultBandwidthLimit)
	s.ShowTransferPanel = section.Key("show_transfer_panel").MustBool(false)

	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("invalid session config: %w", err)
	}
	return s, nil
}

// Save writes the session config atomically (tmp file + rename).
func (s *Session) Save() error {
	path := s.path
	if path == "" {
		var err error
		path, err = DefaultSessionPath()
		if err != nil {
			return fmt.Errorf("failed to determine config path: %w", err)
		}
		s.path = path
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f := ini.Empty()
	section, err := f.NewSection("transfers")
	if err != nil {
		return fmt.Errorf("failed to create transfers section: %w", err)
	}
	section.Key("max_concurrent").SetValue(fmt.Sprintf("%d", s.MaxConcurrent))
	section.Key("bandwidth_limit_bytes_per_sec").SetValue(fmt.Sprintf("%d", s.BandwidthLimit))
	section.Key("show_transfer_panel").SetValue(fmt.Sprintf("%t", s.ShowTransferPanel))

	tmpPath := path + ".tmp"
	if err := f.SaveTo(tmpPath); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	if runtime.GOOS != "windows" {
		if err := os.Chmod(tmpPath, 0o600); err != nil {
			os.Remove(tmpPath)
			return fmt.Errorf("failed to set config permissions: %w", err)
		}
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to save config: %w", err)
	}
	return nil
}

// Validate checks the loaded values.
func (s *Session) Validate() error {
	if s.MaxConcurrent < 1 || s.MaxConcurrent > constants.MaxConcurrentCeiling {
		return ErrInvalidMaxConcurrent
	}
	if s.BandwidthLimit < 0 {
		return ErrInvalidBandwidthLimit
	}
	return nil
}

// Persist implements the registry's settings store: it records the new
// values and saves the file.
func (s *Session) Persist(maxConcurrent int, bandwidthLimit int64, showPanel bool) error {
	s.MaxConcurrent = maxConcurrent
	s.BandwidthLimit = bandwidthLimit
	s.ShowTransferPanel = showPanel
	return s.Save()
}
