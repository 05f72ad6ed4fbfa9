// Package settings persists the user's converter preferences.
//
// Settings are stored as YAML, merged over DefaultSettings on load and
// written back in full whenever a value changes.
package settings

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"ocrnote/internal/logger"
	"ocrnote/internal/vault"
)

// ErrUnknownKey is returned by Set for a key that does not name a setting.
var ErrUnknownKey = errors.New("unknown setting")

// PluginSettings holds the persisted preferences.
type PluginSettings struct {
	APIKey                 string `yaml:"api_key"`
	AttachmentFolder       string `yaml:"attachment_folder"`
	NoteFolder             string `yaml:"note_folder"`
	SaveBase64AsAttachment bool   `yaml:"save_base64_as_attachment"`
	DupNumberDelimiter     string `yaml:"dup_number_delimiter"`
	DupNumberAtStart       bool   `yaml:"dup_number_at_start"`
	DupNumberAlways        bool   `yaml:"dup_number_always"`
	Provider               string `yaml:"provider"`
	Model                  string `yaml:"model"`
}

// DefaultSettings returns the values used for anything not persisted yet.
func DefaultSettings() PluginSettings {
	return PluginSettings{
		AttachmentFolder:       "attachments",
		SaveBase64AsAttachment: true,
		DupNumberDelimiter:     " ",
		Provider:               "mistral",
		Model:                  "mistral-ocr-latest",
	}
}

// DupPolicy returns the duplicate naming policy for attachment files.
func (s PluginSettings) DupPolicy() vault.DupPolicy {
	return vault.DupPolicy{
		Delimiter: s.DupNumberDelimiter,
		AtStart:   s.DupNumberAtStart,
		Always:    s.DupNumberAlways,
	}
}

// MaskedAPIKey returns the API key with all but the last four characters hidden.
func (s PluginSettings) MaskedAPIKey() string {
	if s.APIKey == "" {
		return "(not set)"
	}
	if len(s.APIKey) <= 4 {
		return strings.Repeat("*", len(s.APIKey))
	}
	return strings.Repeat("*", len(s.APIKey)-4) + s.APIKey[len(s.APIKey)-4:]
}

// Keys lists the names accepted by Set, sorted.
func Keys() []string {
	keys := make([]string, 0, len(setters))
	for k := range setters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

var setters = map[string]func(*PluginSettings, string) error{
	"api-key":           func(s *PluginSettings, v string) error { s.APIKey = v; return nil },
	"attachment-folder": func(s *PluginSettings, v string) error { s.AttachmentFolder = v; return nil },
	"note-folder":       func(s *PluginSettings, v string) error { s.NoteFolder = v; return nil },
	"dup-number-delimiter": func(s *PluginSettings, v string) error {
		s.DupNumberDelimiter = v
		return nil
	},
	"save-base64-as-attachment": boolSetter(func(s *PluginSettings) *bool { return &s.SaveBase64AsAttachment }),
	"dup-number-at-start":       boolSetter(func(s *PluginSettings) *bool { return &s.DupNumberAtStart }),
	"dup-number-always":         boolSetter(func(s *PluginSettings) *bool { return &s.DupNumberAlways }),
	"provider": func(s *PluginSettings, v string) error {
		switch v {
		case "mistral", "vision", "documentai":
			s.Provider = v
			return nil
		}
		return fmt.Errorf("provider must be one of mistral, vision, documentai: got %q", v)
	},
	"model": func(s *PluginSettings, v string) error { s.Model = v; return nil },
}

func boolSetter(field func(*PluginSettings) *bool) func(*PluginSettings, string) error {
	return func(s *PluginSettings, v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("expected true or false: %w", err)
		}
		*field(s) = b
		return nil
	}
}

// Set assigns value to the setting named key.
func (s *PluginSettings) Set(key, value string) error {
	set, ok := setters[key]
	if !ok {
		return fmt.Errorf("%w %q (known: %s)", ErrUnknownKey, key, strings.Join(Keys(), ", "))
	}
	return set(s, value)
}

// Store loads and saves PluginSettings.
type Store interface {
	Load(ctx context.Context) (PluginSettings, error)
	Save(ctx context.Context, s PluginSettings) error
}

// FileStore keeps settings in a YAML file on the local filesystem.
type FileStore struct {
	path string
	log  zerolog.Logger
}

// NewFileStore returns a Store backed by the YAML file at path.
func NewFileStore(path string) *FileStore {
	return &FileStore{
		path: path,
		log:  logger.WithComponent("settings"),
	}
}

// Path returns the settings file location.
func (f *FileStore) Path() string {
	return f.path
}

// Load reads the settings file and merges it over DefaultSettings.
// A missing file yields the defaults.
func (f *FileStore) Load(ctx context.Context) (PluginSettings, error) {
	s := DefaultSettings()

	if err := ctx.Err(); err != nil {
		return s, err
	}

	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		f.log.Debug().Str("path", f.path).Msg("No settings file, using defaults")
		return s, nil
	}
	if err != nil {
		return s, fmt.Errorf("failed to read settings: %w", err)
	}

	if err := yaml.Unmarshal(data, &s); err != nil {
		return DefaultSettings(), fmt.Errorf("failed to parse settings %s: %w", f.path, err)
	}

	f.log.Debug().
		Str("path", f.path).
		Bool("api_key_set", s.APIKey != "").
		Msg("Settings loaded")

	return s, nil
}

// Save writes s to the settings file, creating its folder if needed.
func (f *FileStore) Save(ctx context.Context, s PluginSettings) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to encode settings: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return fmt.Errorf("failed to create settings folder: %w", err)
	}

	// the file holds the API key
	if err := os.WriteFile(f.path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write settings: %w", err)
	}

	f.log.Debug().Str("path", f.path).Msg("Settings saved")
	return nil
}
