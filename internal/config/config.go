package config

import (
	"os"
	"path/filepath"
)

type Config struct {
	DataDir            string
	DBPath             string
	LibDir             string
	LogPath            string
	SettingsPath       string
	ScriptDir          string
	UserSequenceDir    string
	ProjectSequenceDir string

	Settings *Settings
}

// New resolves paths from the environment and loads the settings file if
// one exists.
func New() (*Config, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}

	dataDir := getEnv("AUTOMENU_DATA_DIR", filepath.Join(homeDir, ".automenu"))

	c := &Config{
		DataDir:            dataDir,
		DBPath:             filepath.Join(dataDir, "automenu.db"),
		LibDir:             filepath.Join(dataDir, "lib"),
		LogPath:            filepath.Join(dataDir, "automenu.log"),
		SettingsPath:       getEnv("AUTOMENU_SETTINGS", filepath.Join(dataDir, "settings.yaml")),
		ScriptDir:          getEnv("AUTOMENU_SCRIPT_DIR", filepath.Join(dataDir, "scripts")),
		UserSequenceDir:    filepath.Join(dataDir, "sequences"),
		ProjectSequenceDir: ".automenu/sequences",
	}

	settings, err := LoadSettings(c.SettingsPath)
	if err != nil {
		return nil, err
	}
	c.Settings = settings

	return c, nil
}

func (c *Config) EnsureDataDir() error {
	for _, dir := range []string{c.DataDir, c.LibDir, c.ScriptDir, c.UserSequenceDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return nil
}

// SequenceDirs lists the directories sequence files are loaded from, user
// directory first so project files win on name clashes.
func (c *Config) SequenceDirs() []string {
	return []string{c.UserSequenceDir, c.ProjectSequenceDir}
}

// Save writes the current settings back to the settings file.
func (c *Config) Save() error {
	return c.Settings.Save(c.SettingsPath)
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}
