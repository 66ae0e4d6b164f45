package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"golang.org/x/oauth2/google"
	"gopkg.in/yaml.v3"
)

var ErrMissingSpreadsheet = errors.New("FITWEIGHT_SPREADSHEET_ID environment variable is required")

type Config struct {
	SpreadsheetID    string        `yaml:"spreadsheet_id"`
	SheetName        string        `yaml:"sheet_name"`
	ClientID         string        `yaml:"client_id"`
	ClientSecret     string        `yaml:"client_secret"`
	CredentialsPath  string        `yaml:"credentials_path"`
	DataDir          string        `yaml:"data_dir"`
	TokenBackend     string        `yaml:"token_backend"`
	OAuthRedirectURL string        `yaml:"oauth_redirect_url"`
	UserEmail        string        `yaml:"user_email"`
	TimeZone         string        `yaml:"time_zone"`
	HistoryDays      int           `yaml:"history_days"`
	ChunkDelay       time.Duration `yaml:"chunk_delay"`
}

// Load builds the configuration from, in increasing precedence: defaults,
// the YAML file named by FITWEIGHT_CONFIG (fitweight.yaml when unset),
// environment variables. Client credentials missing from both are read from
// the Google credentials.json file if it exists.
func Load() (*Config, error) {
	cfg := &Config{
		SheetName:        "History",
		CredentialsPath:  ".local/credentials.json",
		DataDir:          ".local",
		TokenBackend:     "sqlite",
		OAuthRedirectURL: "http://localhost:8080/callback",
		TimeZone:         "Local",
		HistoryDays:      600,
		ChunkDelay:       time.Second,
	}

	path := getEnv("FITWEIGHT_CONFIG", "fitweight.yaml")
	err := cfg.loadFile(path)
	if err != nil {
		return nil, err
	}

	cfg.SpreadsheetID = getEnv("FITWEIGHT_SPREADSHEET_ID", cfg.SpreadsheetID)
	cfg.SheetName = getEnv("FITWEIGHT_SHEET_NAME", cfg.SheetName)
	cfg.ClientID = getEnv("FITWEIGHT_CLIENT_ID", cfg.ClientID)
	cfg.ClientSecret = getEnv("FITWEIGHT_CLIENT_SECRET", cfg.ClientSecret)
	cfg.CredentialsPath = getEnv("FITWEIGHT_CREDENTIALS_PATH", cfg.CredentialsPath)
	cfg.DataDir = getEnv("FITWEIGHT_DATA_DIR", cfg.DataDir)
	cfg.TokenBackend = getEnv("FITWEIGHT_TOKEN_BACKEND", cfg.TokenBackend)
	cfg.OAuthRedirectURL = getEnv("FITWEIGHT_OAUTH_REDIRECT_URL", cfg.OAuthRedirectURL)
	cfg.UserEmail = getEnv("FITWEIGHT_USER_EMAIL", cfg.UserEmail)
	cfg.TimeZone = getEnv("FITWEIGHT_TIME_ZONE", cfg.TimeZone)
	if cfg.HistoryDays, err = getIntEnv("FITWEIGHT_HISTORY_DAYS", cfg.HistoryDays); err != nil {
		return nil, err
	}
	if cfg.ChunkDelay, err = getDurationEnv("FITWEIGHT_CHUNK_DELAY", cfg.ChunkDelay); err != nil {
		return nil, err
	}

	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		if err := cfg.loadCredentials(); err != nil {
			return nil, err
		}
	}

	if cfg.SpreadsheetID == "" {
		return nil, fmt.Errorf("%w. Please set it in .env or %s", ErrMissingSpreadsheet, path)
	}
	if cfg.TokenBackend != "sqlite" && cfg.TokenBackend != "file" {
		return nil, fmt.Errorf("unknown token backend %q (want sqlite or file)", cfg.TokenBackend)
	}
	if cfg.HistoryDays < 1 {
		return nil, fmt.Errorf("history days must be positive, got %d", cfg.HistoryDays)
	}
	if _, err := cfg.Location(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Location resolves TimeZone. "Local" and the empty string mean time.Local.
func (c *Config) Location() (*time.Location, error) {
	if c.TimeZone == "" || c.TimeZone == "Local" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.TimeZone)
	if err != nil {
		return nil, fmt.Errorf("invalid time zone %q: %w", c.TimeZone, err)
	}
	return loc, nil
}

func (c *Config) loadFile(path string) error {
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("unable to read config file: %w", err)
	}
	if err := yaml.Unmarshal(b, c); err != nil {
		return fmt.Errorf("unable to parse config file %s: %w", path, err)
	}
	return nil
}

// loadCredentials fills ClientID and ClientSecret from a credentials.json
// downloaded from the Google Cloud console. A missing file is not an error:
// the OAuth session reports absent credentials on first use.
func (c *Config) loadCredentials() error {
	b, err := os.ReadFile(c.CredentialsPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("unable to read client secret file: %w", err)
	}

	oc, err := google.ConfigFromJSON(b)
	if err != nil {
		return fmt.Errorf("unable to parse client secret file to config: %w", err)
	}
	if c.ClientID == "" {
		c.ClientID = oc.ClientID
	}
	if c.ClientSecret == "" {
		c.ClientSecret = oc.ClientSecret
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func getIntEnv(key string, fallback int) (int, error) {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback, nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	return parsed, nil
}

func getDurationEnv(key string, fallback time.Duration) (time.Duration, error) {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback, nil
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	return parsed, nil
}
