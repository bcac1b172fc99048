package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/spx/internal/formatter"
	"github.com/desertthunder/spx/internal/metrics"
	"github.com/desertthunder/spx/internal/repositories"
	"github.com/desertthunder/spx/internal/services"
	"github.com/desertthunder/spx/internal/shared"
	gobreaker "github.com/sony/gobreaker/v2"
	"github.com/urfave/cli/v3"
	"golang.org/x/oauth2"
)

// Runner holds all dependencies for CLI commands and provides methods for each command action.
type Runner struct {
	config      *shared.Config
	configPath  string
	httpClient  *http.Client
	logger      *log.Logger
	output      io.Writer
	catalog     services.Catalog
	library     services.Library
	metrics     *metrics.Recorder
	openBrowser func(string) error
	authTimeout time.Duration
}

// RunnerOpts contains configuration options for creating a Runner.
//
// Catalog and Library replace the Spotify client when set.
type RunnerOpts struct {
	Config     *shared.Config
	ConfigPath string
	HTTPClient *http.Client
	Logger     *log.Logger
	Output     io.Writer
	Catalog    services.Catalog
	Library    services.Library
	Metrics    *metrics.Recorder
}

// NewRunner creates a new Runner with the provided configuration
func NewRunner(opts RunnerOpts) *Runner {
	if opts.Config == nil {
		opts.Config = shared.DefaultConfig()
	}
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}
	if opts.Output == nil {
		opts.Output = os.Stdout
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewRecorder()
	}

	return &Runner{
		config:      opts.Config,
		configPath:  opts.ConfigPath,
		httpClient:  opts.HTTPClient,
		logger:      opts.Logger,
		output:      opts.Output,
		catalog:     opts.Catalog,
		library:     opts.Library,
		metrics:     opts.Metrics,
		openBrowser: shared.OpenBrowser,
		authTimeout: 2 * time.Minute,
	}
}

func (r *Runner) register() []*cli.Command {
	commands := []*cli.Command{}
	for _, fn := range [](func(*Runner) *cli.Command){
		setupCommand, importCommand, collectCommand, playlistCommand, statsCommand, spotifyCommand,
	} {
		commands = append(commands, fn(r))
	}

	return commands
}

// openStore opens and migrates the configured database. The returned func closes it.
func (r *Runner) openStore(ctx context.Context) (*repositories.Store, func(), error) {
	db, err := shared.NewDatabase(r.config.Database.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open database: %w", err)
	}
	shared.ConfigureDatabase(db, r.config.Database)

	if err := shared.RunMigrations(ctx, db); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	closeFn := func() {
		if err := db.Close(); err != nil {
			r.logger.Warn("failed to close database", "error", err)
		}
	}
	return repositories.NewStore(db), closeFn, nil
}

func (r *Runner) spotifyService() (*services.SpotifyService, error) {
	creds := r.config.Credentials.Spotify
	if creds.ClientID == "" || creds.ClientSecret == "" {
		return nil, fmt.Errorf("%w: Spotify client_id and client_secret must be set in %s or SPOTIPY_* variables",
			shared.ErrMissingCredentials, r.configPath)
	}

	return services.NewSpotifyService(creds.Map(),
		services.WithHTTPClient(r.httpClient),
		services.WithRequestsPerSecond(r.config.Import.RequestsPerSecond),
	)
}

// catalogFor returns the catalog used by imports.
func (r *Runner) catalogFor() (services.Catalog, error) {
	if r.catalog != nil {
		return r.catalog, nil
	}

	svc, err := r.spotifyService()
	if err != nil {
		return nil, err
	}
	return svc, nil
}

// breakerFor returns the circuit breaker guarding batch lookups, or nil when disabled.
func (r *Runner) breakerFor() *services.Breaker {
	if !r.config.Breaker.Enabled {
		return nil
	}

	rec := r.metrics
	return services.NewBreaker(services.BreakerSettings{
		MaxFailures:   r.config.Breaker.MaxFailures,
		Cooldown:      time.Duration(r.config.Breaker.CooldownSeconds) * time.Second,
		OnStateChange: func(_, to gobreaker.State) { rec.BreakerState(float64(to)) },
	}, r.logger)
}

// libraryFor returns a Library authenticated with the stored user token.
// Tokens refreshed during the command are written back to the config file.
func (r *Runner) libraryFor(ctx context.Context) (services.Library, error) {
	if r.library != nil {
		return r.library, nil
	}

	svc, err := r.spotifyService()
	if err != nil {
		return nil, err
	}

	if err := svc.AuthenticateToken(ctx, r.config.Credentials.Spotify.Token()); err != nil {
		return nil, fmt.Errorf("%w: run `spx spotify auth` first", err)
	}

	svc.SetTokenRefreshCallback(func(token *oauth2.Token) {
		if err := r.saveTokens(token); err != nil {
			r.logger.Warn("failed to persist refreshed token", "error", err)
		} else {
			r.logger.Debug("refreshed token saved", "path", r.configPath)
		}
	})
	return svc, nil
}

// saveTokens stores token in the config and writes it to configPath when one is set.
func (r *Runner) saveTokens(token *oauth2.Token) error {
	if r.config == nil {
		return fmt.Errorf("config is nil")
	}

	if err := r.config.Credentials.Spotify.Update(token); err != nil {
		return fmt.Errorf("failed to update spotify configuration: %w", err)
	}

	if r.configPath == "" {
		return nil
	}

	if err := shared.SaveConfig(r.configPath, r.config); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}
	return nil
}

// pushMetrics sends the run's metrics to the configured pushgateway. Failures are only logged.
func (r *Runner) pushMetrics(ctx context.Context) {
	url := r.config.Metrics.PushgatewayURL
	if url == "" {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	if err := r.metrics.Push(ctx, url, r.config.Metrics.Job); err != nil {
		r.logger.Warn("failed to push metrics", "url", url, "error", err)
		return
	}
	r.logger.Debug("metrics pushed", "url", url, "job", r.config.Metrics.Job)
}

// writeReport prints data as JSON when --json is set, and otherwise renders tables in --format.
func (r *Runner) writeReport(cmd *cli.Command, data any, tables ...formatter.Table) error {
	if cmd.Bool("json") {
		return r.writeJSON(data, cmd.Bool("pretty"))
	}

	format := cmd.String("format")
	for i, t := range tables {
		out, err := formatter.Render(t, format)
		if err != nil {
			return err
		}
		if i > 0 {
			if err := r.writePlain("\n"); err != nil {
				return err
			}
		}
		if _, err := r.output.Write(out); err != nil {
			return fmt.Errorf("failed to write output: %w", err)
		}
	}
	return nil
}

func (r *Runner) writeJSON(data any, pretty bool) error {
	output, err := shared.MarshalJSON(data, pretty)
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	if _, err := r.output.Write(output); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}

	if _, err := r.output.Write([]byte("\n")); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}

	return nil
}

func (r *Runner) writePlain(format string, args ...any) error {
	text := fmt.Sprintf(format, args...)
	if _, err := r.output.Write([]byte(text)); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func (r *Runner) writePlainln(format string, args ...any) error {
	text := "\n" + fmt.Sprintf(format, args...) + "\n"
	if _, err := r.output.Write([]byte(text)); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}
