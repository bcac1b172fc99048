package shared

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"golang.org/x/oauth2"
)

//go:embed config.example.toml
var exampleConf []byte

// Config represents the application configuration loaded from a TOML file.
type Config struct {
	Credentials CredentialsConfig `toml:"credentials"`
	Database    DatabaseConfig    `toml:"database"`
	Server      ServerConfig      `toml:"server"`
	Import      ImportConfig      `toml:"import"`
	Breaker     BreakerConfig     `toml:"breaker"`
	Metrics     MetricsConfig     `toml:"metrics"`
	Log         LogConfig         `toml:"log"`
	Playlist    PlaylistConfig    `toml:"playlist"`
}

// CredentialsConfig contains service-specific credentials.
type CredentialsConfig struct {
	Spotify SpotifyConfig `toml:"spotify"`
}

// SpotifyConfig contains Spotify API credentials and the last user token obtained through `spx spotify auth`.
type SpotifyConfig struct {
	ClientID     string    `toml:"client_id"`
	ClientSecret string    `toml:"client_secret"`
	RedirectURI  string    `toml:"redirect_uri"`
	AccessToken  string    `toml:"access_token,omitempty"`
	RefreshToken string    `toml:"refresh_token,omitempty"`
	TokenExpiry  time.Time `toml:"token_expiry,omitempty"`
}

// Map returns the credentials in the form expected by services.NewSpotifyService.
func (s SpotifyConfig) Map() map[string]string {
	return map[string]string{
		"client_id":     s.ClientID,
		"client_secret": s.ClientSecret,
		"redirect_uri":  s.RedirectURI,
	}
}

// Token returns the stored user token, or nil when the user has not authorized yet.
func (s SpotifyConfig) Token() *oauth2.Token {
	if s.AccessToken == "" && s.RefreshToken == "" {
		return nil
	}
	return &oauth2.Token{
		AccessToken:  s.AccessToken,
		RefreshToken: s.RefreshToken,
		Expiry:       s.TokenExpiry,
		TokenType:    "Bearer",
	}
}

// Update stores the fields of token, keeping the existing refresh token when the new one omits it.
func (s *SpotifyConfig) Update(token *oauth2.Token) error {
	if token == nil || token.AccessToken == "" {
		return fmt.Errorf("%w: empty token", ErrInvalidCredentials)
	}
	s.AccessToken = token.AccessToken
	if token.RefreshToken != "" {
		s.RefreshToken = token.RefreshToken
	}
	s.TokenExpiry = token.Expiry
	return nil
}

// DatabaseConfig contains database connection settings.
type DatabaseConfig struct {
	Path         string `toml:"path" validate:"required"`
	MaxOpenConns int    `toml:"max_open_conns" validate:"min=0"`
	MaxIdleConns int    `toml:"max_idle_conns" validate:"min=0"`
}

// ServerConfig contains settings for the local OAuth callback server.
type ServerConfig struct {
	Host string `toml:"host" validate:"required"`
	Port int    `toml:"port" validate:"min=1,max=65535"`
}

// ImportConfig tunes the history reconciliation pipeline.
type ImportConfig struct {
	BatchSize            int     `toml:"batch_size" validate:"min=1,max=50"`
	MaxRetries           int     `toml:"max_retries" validate:"min=0,max=20"`
	RateLimitWaitSeconds int     `toml:"rate_limit_wait_seconds" validate:"min=0"`
	NetworkWaitSeconds   int     `toml:"network_wait_seconds" validate:"min=0"`
	RequestsPerSecond    float64 `toml:"requests_per_second" validate:"gte=0"`
}

// RateLimitWait is the fallback wait when a rate-limited response has no Retry-After.
func (c ImportConfig) RateLimitWait() time.Duration {
	return time.Duration(c.RateLimitWaitSeconds) * time.Second
}

// NetworkWait is the fixed wait between retries of transient network failures.
func (c ImportConfig) NetworkWait() time.Duration {
	return time.Duration(c.NetworkWaitSeconds) * time.Second
}

// BreakerConfig configures the circuit breaker around catalog lookups.
type BreakerConfig struct {
	Enabled         bool   `toml:"enabled"`
	MaxFailures     uint32 `toml:"max_failures" validate:"required_if=Enabled true"`
	CooldownSeconds int    `toml:"cooldown_seconds" validate:"min=0"`
}

// MetricsConfig configures pushing run metrics to a Prometheus pushgateway.
type MetricsConfig struct {
	PushgatewayURL string `toml:"pushgateway_url" validate:"omitempty,url"`
	Job            string `toml:"job"`
}

// LogConfig controls log verbosity and optional rotating file output.
type LogConfig struct {
	Level      string `toml:"level" validate:"omitempty,oneof=debug info warn error fatal"`
	File       string `toml:"file"`
	MaxSizeMB  int    `toml:"max_size_mb" validate:"min=0"`
	MaxBackups int    `toml:"max_backups" validate:"min=0"`
	Compress   bool   `toml:"compress"`
}

// PlaylistConfig selects the playlist that receives the most played track.
type PlaylistConfig struct {
	ID         string `toml:"id"`
	WindowDays int    `toml:"window_days" validate:"min=1"`
}

// Window is the look-back period used when picking the top track.
func (p PlaylistConfig) Window() time.Duration {
	return time.Duration(p.WindowDays) * 24 * time.Hour
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints declared in the struct tags.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fmt.Errorf("%w: %s failed %q", ErrInvalidConfig, verrs[0].Namespace(), verrs[0].Tag())
		}
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// LoadConfig reads and parses a TOML configuration file from the specified path.
//
// Keys missing from the file keep the values of [DefaultConfig].
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrMissingConfig, path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := toml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return config, nil
}

// DefaultConfig returns a Config with sensible defaults loaded from the embedded example config.
func DefaultConfig() *Config {
	var config Config
	if err := toml.Unmarshal(exampleConf, &config); err != nil {
		panic(fmt.Sprintf("failed to parse embedded default config: %v", err))
	}
	return &config
}

// CreateConfigFile creates a config.toml file at the specified path using the embedded example config.
func CreateConfigFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := os.WriteFile(path, exampleConf, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// SaveConfig writes config to path as TOML. The file holds tokens, so it is written owner-only.
func SaveConfig(path string, config *Config) error {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(config); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	if err := os.WriteFile(path, buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// LoadEnv reads .env files (if present) into the process environment and applies them to config.
//
// Variable names follow the spotipy convention so existing .env files keep working.
func LoadEnv(config *Config, files ...string) error {
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return fmt.Errorf("failed to load env file %s: %w", f, err)
		}
	}

	ApplyEnv(config)
	return nil
}

// ApplyEnv overrides config values with any set environment variables.
func ApplyEnv(config *Config) {
	overrides := []struct {
		key    string
		target *string
	}{
		{"SPOTIPY_CLIENT_ID", &config.Credentials.Spotify.ClientID},
		{"SPOTIPY_CLIENT_SECRET", &config.Credentials.Spotify.ClientSecret},
		{"SPOTIPY_REDIRECT_URI", &config.Credentials.Spotify.RedirectURI},
		{"SPOTIPY_PLAYLIST_ID", &config.Playlist.ID},
		{"SPX_DATABASE_PATH", &config.Database.Path},
		{"SPX_PUSHGATEWAY_URL", &config.Metrics.PushgatewayURL},
		{"SPX_LOG_LEVEL", &config.Log.Level},
	}

	for _, o := range overrides {
		if v, ok := os.LookupEnv(o.key); ok && v != "" {
			*o.target = v
		}
	}
}
