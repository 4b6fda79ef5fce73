package config

import (
	"errors"
	"io/fs"

	env "github.com/Netflix/go-env"
	"github.com/joho/godotenv"
)

// Environment holds the environment variables the downloader reads.
// Values set here override the settings file.
type Environment struct {
	APIKey       string `env:"WAPOR_API_KEY"`
	BaseURL      string `env:"WAPOR_BASE_URL"`
	Workspace    string `env:"WAPOR_WORKSPACE"`
	SettingsPath string `env:"WAPOR_SETTINGS"`
	PosthogKey   string `env:"POSTHOG_KEY"`
	PosthogHost  string `env:"POSTHOG_HOST,default=https://us.i.posthog.com"`
	Debug        string `env:"DEBUG,default=0"`
	Extras       env.EnvSet
}

// LoadEnvironment reads .env files (when present) and then the process
// environment. Variables already set in the process win over .env values.
func LoadEnvironment(dotenvFiles ...string) (*Environment, error) {
	for _, file := range dotenvFiles {
		if err := godotenv.Load(file); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	environment := &Environment{}
	extras, err := env.UnmarshalFromEnviron(environment)
	if err != nil {
		return nil, err
	}
	environment.Extras = extras
	return environment, nil
}

// DebugEnabled reports whether DEBUG is set to a truthy value
func (e *Environment) DebugEnabled() bool {
	switch e.Debug {
	case "1", "true", "TRUE", "yes":
		return true
	}
	return false
}

// ResolveSettingsPath returns WAPOR_SETTINGS or the XDG default
func (e *Environment) ResolveSettingsPath() string {
	if e.SettingsPath != "" {
		return e.SettingsPath
	}
	return GetSettingsPath()
}

// Apply overrides settings fields with the environment
func (e *Environment) Apply(s *UserSettings) {
	if e.BaseURL != "" {
		s.BaseURL = e.BaseURL
	}
	if e.Workspace != "" {
		s.Workspace = e.Workspace
	}
}

