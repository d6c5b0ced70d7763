package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Settings is the user-editable part of the configuration.
type Settings struct {
	PythonExecutable             string              `yaml:"python_executable,omitempty"`
	Interpreters                 map[string][]string `yaml:"interpreters,omitempty"`
	SendMailOnError              bool                `yaml:"send_mail_on_error"`
	IncludeScreenshotInErrorMail bool                `yaml:"include_screenshot_in_error_mail"`
	MinimizeOnRunning            bool                `yaml:"minimize_on_running"`
	DispatcherPollInterval       time.Duration       `yaml:"dispatcher_poll_interval,omitempty"`
	HistoryLimit                 int                 `yaml:"history_limit,omitempty"`
	Values                       map[string]string   `yaml:"values,omitempty"`
}

// ConfigError reports an invalid settings value.
type ConfigError struct {
	Key    string
	Reason string
	Cause  error
}

func (e *ConfigError) Error() string {
	msg := fmt.Sprintf("config %s: %s", e.Key, e.Reason)
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *ConfigError) Unwrap() error {
	return e.Cause
}

func DefaultSettings() *Settings {
	return &Settings{
		DispatcherPollInterval: 1500 * time.Millisecond,
		HistoryLimit:           50,
		Values:                 map[string]string{},
	}
}

// LoadSettings reads path, falling back to defaults when it does not exist.
func LoadSettings(path string) (*Settings, error) {
	s := DefaultSettings()

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read settings: %w", err)
	}

	if err := yaml.Unmarshal(data, s); err != nil {
		return nil, &ConfigError{Key: path, Reason: "invalid YAML", Cause: err}
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	if s.Values == nil {
		s.Values = map[string]string{}
	}
	return s, nil
}

func (s *Settings) Validate() error {
	if s.DispatcherPollInterval < 0 {
		return &ConfigError{Key: "dispatcher_poll_interval", Reason: "must not be negative"}
	}
	if s.HistoryLimit < 0 {
		return &ConfigError{Key: "history_limit", Reason: "must not be negative"}
	}
	for ext, argv := range s.Interpreters {
		if ext == "" {
			return &ConfigError{Key: "interpreters", Reason: "empty extension"}
		}
		for _, a := range argv {
			if a == "" {
				return &ConfigError{Key: "interpreters." + ext, Reason: "empty argument"}
			}
		}
	}
	return nil
}

func (s *Settings) Save(path string) error {
	data, err := yaml.Marshal(s)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Lookup answers a script's setting query. Named settings take precedence
// over free-form values.
func (s *Settings) Lookup(key string) (string, bool) {
	switch key {
	case "python_executable":
		return s.PythonExecutable, true
	case "send_mail_on_error":
		return strconv.FormatBool(s.SendMailOnError), true
	case "include_screenshot_in_error_mail":
		return strconv.FormatBool(s.IncludeScreenshotInErrorMail), true
	case "minimize_on_running":
		return strconv.FormatBool(s.MinimizeOnRunning), true
	}
	v, ok := s.Values[key]
	return v, ok
}

// Set changes one setting from its string form. Keys that are not named
// settings are stored as free-form values.
func (s *Settings) Set(key, value string) error {
	switch key {
	case "python_executable":
		s.PythonExecutable = value
	case "send_mail_on_error", "include_screenshot_in_error_mail", "minimize_on_running":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return &ConfigError{Key: key, Reason: "not a boolean", Cause: err}
		}
		switch key {
		case "send_mail_on_error":
			s.SendMailOnError = b
		case "include_screenshot_in_error_mail":
			s.IncludeScreenshotInErrorMail = b
		default:
			s.MinimizeOnRunning = b
		}
	case "dispatcher_poll_interval":
		d, err := time.ParseDuration(value)
		if err != nil {
			return &ConfigError{Key: key, Reason: "not a duration", Cause: err}
		}
		s.DispatcherPollInterval = d
	case "history_limit":
		n, err := strconv.Atoi(value)
		if err != nil {
			return &ConfigError{Key: key, Reason: "not a number", Cause: err}
		}
		s.HistoryLimit = n
	case "interpreters":
		return &ConfigError{Key: key, Reason: "edit the settings file to change interpreters"}
	default:
		if key == "" {
			return &ConfigError{Key: key, Reason: "empty key"}
		}
		if s.Values == nil {
			s.Values = map[string]string{}
		}
		s.Values[key] = value
	}
	return s.Validate()
}

// Unset removes a free-form value. It reports whether the key was present.
func (s *Settings) Unset(key string) bool {
	if _, ok := s.Values[key]; !ok {
		return false
	}
	delete(s.Values, key)
	return true
}
