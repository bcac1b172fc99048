// Spotify Web API implementation of [Catalog] and [Library]
//
// Spotify API response types based on https://developer.spotify.com/documentation/web-api/reference/
package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/time/rate"

	"github.com/desertthunder/spx/internal/models"
	"github.com/desertthunder/spx/internal/shared"
)

const (
	spotifyAuthURL  = "https://accounts.spotify.com/authorize"
	spotifyTokenURL = "https://accounts.spotify.com/api/token"
	spotifyBaseURL  = "https://api.spotify.com/v1"
)

var spotifyScopes = []string{
	"user-read-recently-played",
	"playlist-modify-public",
	"playlist-modify-private",
}

// SpotifyImage represents an image resource.
type SpotifyImage struct {
	URL    string `json:"url"`
	Height int    `json:"height"`
	Width  int    `json:"width"`
}

// SpotifyArtist represents a simplified Spotify artist.
type SpotifyArtist struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	URI  string `json:"uri"`
}

// SpotifyAlbum represents a simplified Spotify album.
type SpotifyAlbum struct {
	ID     string         `json:"id"`
	Name   string         `json:"name"`
	Images []SpotifyImage `json:"images"`
	URI    string         `json:"uri"`
}

// SpotifyTrack represents a Spotify track.
type SpotifyTrack struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Artists    []SpotifyArtist `json:"artists"`
	Album      SpotifyAlbum    `json:"album"`
	DurationMS int             `json:"duration_ms"`
	URI        string          `json:"uri"`
}

// CatalogTrack converts the API representation.
func (t SpotifyTrack) CatalogTrack() CatalogTrack {
	ct := CatalogTrack{
		ID:         t.ID,
		Name:       t.Name,
		DurationMS: t.DurationMS,
		Album:      CatalogAlbum{ID: t.Album.ID, Name: t.Album.Name},
	}
	if len(t.Album.Images) > 0 {
		ct.Album.ImageURL = t.Album.Images[0].URL
	}
	for _, a := range t.Artists {
		ct.Artists = append(ct.Artists, CatalogArtist{ID: a.ID, Name: a.Name})
	}
	return ct
}

type severalTracksResponse struct {
	Tracks []*SpotifyTrack `json:"tracks"`
}

type recentlyPlayedResponse struct {
	Items []struct {
		Track    SpotifyTrack `json:"track"`
		PlayedAt string       `json:"played_at"`
	} `json:"items"`
}

// Option configures a [SpotifyService].
type Option func(*SpotifyService)

// WithBaseURL points API requests at url instead of the Spotify Web API.
func WithBaseURL(u string) Option {
	return func(s *SpotifyService) { s.baseURL = strings.TrimSuffix(u, "/") }
}

// WithTokenURL overrides the accounts service token endpoint.
func WithTokenURL(u string) Option {
	return func(s *SpotifyService) { s.tokenURL = u }
}

// WithHTTPClient sets the client used for all requests, including token exchange.
func WithHTTPClient(c *http.Client) Option {
	return func(s *SpotifyService) { s.httpClient = c }
}

// WithRequestsPerSecond paces outgoing API requests. Zero or less disables pacing.
func WithRequestsPerSecond(rps float64) Option {
	return func(s *SpotifyService) {
		if rps <= 0 {
			s.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		s.limiter = rate.NewLimiter(rate.Limit(rps), 1)
	}
}

// SpotifyService talks to the Spotify Web API.
//
// Catalog lookups authenticate with the client-credentials grant and need no user.
// Library calls need a user token, supplied through [SpotifyService.Authenticate].
type SpotifyService struct {
	config     *oauth2.Config
	baseURL    string
	tokenURL   string
	httpClient *http.Client
	limiter    *rate.Limiter

	catalogClient *http.Client

	mu             sync.Mutex
	userClient     *http.Client
	token          *oauth2.Token
	onTokenRefresh func(*oauth2.Token)
}

// NewSpotifyService creates a new Spotify service with the given OAuth2 credentials.
func NewSpotifyService(credentials map[string]string, opts ...Option) (*SpotifyService, error) {
	clientID := credentials["client_id"]
	if clientID == "" {
		return nil, fmt.Errorf("%w: client_id", shared.ErrMissingCredentials)
	}

	clientSecret := credentials["client_secret"]
	if clientSecret == "" {
		return nil, fmt.Errorf("%w: client_secret", shared.ErrMissingCredentials)
	}

	redirectURI := credentials["redirect_uri"]
	if redirectURI == "" {
		redirectURI = "http://127.0.0.1:3000/callback"
	}

	s := &SpotifyService{
		baseURL:    spotifyBaseURL,
		tokenURL:   spotifyTokenURL,
		httpClient: http.DefaultClient,
		limiter:    rate.NewLimiter(rate.Limit(5), 1),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.config = &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURI,
		Scopes:       spotifyScopes,
		Endpoint:     oauth2.Endpoint{AuthURL: spotifyAuthURL, TokenURL: s.tokenURL},
	}

	cc := &clientcredentials.Config{ClientID: clientID, ClientSecret: clientSecret, TokenURL: s.tokenURL}
	s.catalogClient = cc.Client(s.oauthContext(context.Background()))

	return s, nil
}

func (s *SpotifyService) Name() string {
	return "Spotify"
}

// oauthContext carries the configured HTTP client into oauth2 token requests.
func (s *SpotifyService) oauthContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, s.httpClient)
}

// GetAuthURL returns the OAuth2 authorization URL for user login.
func (s *SpotifyService) GetAuthURL(state string) string {
	return s.config.AuthCodeURL(state, oauth2.AccessTypeOffline)
}

// Exchange trades an authorization code for a user token and authenticates the service with it.
func (s *SpotifyService) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	token, err := s.config.Exchange(s.oauthContext(ctx), code)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to exchange auth code: %v", shared.ErrAuthFailed, err)
	}
	s.setUserToken(ctx, token)
	return token, nil
}

// Authenticate configures the user token. Expects "access_token" and/or "refresh_token", or an "auth_code".
func (s *SpotifyService) Authenticate(ctx context.Context, credentials map[string]string) error {
	if code := credentials["auth_code"]; code != "" {
		_, err := s.Exchange(ctx, code)
		return err
	}

	access, refresh := credentials["access_token"], credentials["refresh_token"]
	if access == "" && refresh == "" {
		return fmt.Errorf("%w: access_token, refresh_token or auth_code", shared.ErrMissingCredentials)
	}

	token := &oauth2.Token{AccessToken: access, RefreshToken: refresh, TokenType: "Bearer"}
	if exp := credentials["expiry"]; exp != "" {
		if t, err := time.Parse(time.RFC3339, exp); err == nil {
			token.Expiry = t
		}
	}

	s.setUserToken(ctx, token)
	return nil
}

// AuthenticateToken is [SpotifyService.Authenticate] for a token read from config.
func (s *SpotifyService) AuthenticateToken(ctx context.Context, token *oauth2.Token) error {
	if token == nil {
		return shared.ErrNotAuthenticated
	}
	s.setUserToken(ctx, token)
	return nil
}

// SetTokenRefreshCallback registers fn to receive every new user token, so it can be persisted.
func (s *SpotifyService) SetTokenRefreshCallback(fn func(*oauth2.Token)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onTokenRefresh = fn
}

func (s *SpotifyService) setUserToken(ctx context.Context, token *oauth2.Token) {
	s.mu.Lock()
	defer s.mu.Unlock()

	source := &refreshableTokenSource{
		source:   s.config.TokenSource(s.oauthContext(context.WithoutCancel(ctx)), token),
		callback: s.notifyRefresh,
		last:     token.AccessToken,
	}
	s.token = token
	s.userClient = oauth2.NewClient(s.oauthContext(context.WithoutCancel(ctx)), oauth2.ReuseTokenSource(token, source))
}

// Token returns the current user token, or nil before authentication.
func (s *SpotifyService) Token() *oauth2.Token {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}

func (s *SpotifyService) notifyRefresh(token *oauth2.Token) {
	s.mu.Lock()
	fn := s.onTokenRefresh
	s.token = token
	s.mu.Unlock()

	if fn != nil {
		fn(token)
	}
}

func (s *SpotifyService) user() (*http.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.userClient == nil {
		return nil, shared.ErrNotAuthenticated
	}
	return s.userClient, nil
}

// refreshableTokenSource calls callback whenever the wrapped source yields a new access token.
type refreshableTokenSource struct {
	source   oauth2.TokenSource
	callback func(*oauth2.Token)

	mu   sync.Mutex
	last string
}

func (r *refreshableTokenSource) Token() (*oauth2.Token, error) {
	token, err := r.source.Token()
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	changed := token.AccessToken != r.last
	r.last = token.AccessToken
	r.mu.Unlock()

	if changed && r.callback != nil {
		r.callback(token)
	}
	return token, nil
}

// doRequest performs a paced, authenticated request and decodes a JSON response into result.
//
// Failures are classified for the caller's retry policy: HTTP 429 is a [*RateLimitError],
// transport failures and 5xx wrap [shared.ErrTransient], 401 wraps [shared.ErrTokenExpired].
func (s *SpotifyService) doRequest(ctx context.Context, client *http.Client, method, endpoint string, body, result any) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+endpoint, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := client.Do(req)
	if err != nil {
		return classifyTransportError(ctx, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return &RateLimitError{RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"), time.Now())}
	case resp.StatusCode == http.StatusUnauthorized:
		return fmt.Errorf("%w: %s %s", shared.ErrTokenExpired, method, endpoint)
	case resp.StatusCode == http.StatusServiceUnavailable:
		return fmt.Errorf("%w: %w: spotify API status %d", shared.ErrTransient, shared.ErrServiceUnavailable, resp.StatusCode)
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: spotify API status %d", shared.ErrTransient, resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: spotify API status %d: %s", shared.ErrAPIRequest, resp.StatusCode, bytes.TrimSpace(msg))
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("%w: failed to decode response: %v", shared.ErrAPIRequest, err)
		}
	}
	return nil
}

func classifyTransportError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		return fmt.Errorf("%w: %v", shared.ErrAuthFailed, re)
	}
	return fmt.Errorf("%w: %v", shared.ErrTransient, err)
}

// parseRetryAfter reads a Retry-After value in seconds or as an HTTP date. Zero means absent.
func parseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}

// LookupTracks resolves up to 50 track IDs with GET /tracks. Unknown IDs come back as null and are omitted.
func (s *SpotifyService) LookupTracks(ctx context.Context, ids []string) (map[string]CatalogTrack, error) {
	if len(ids) == 0 {
		return map[string]CatalogTrack{}, nil
	}
	if len(ids) > MaxLookupIDs {
		return nil, fmt.Errorf("%w: %d IDs, maximum %d", shared.ErrBatchTooLarge, len(ids), MaxLookupIDs)
	}

	client := s.catalogClient
	if uc, err := s.user(); err == nil {
		client = uc
	}

	var response severalTracksResponse
	endpoint := "/tracks?ids=" + url.QueryEscape(strings.Join(ids, ","))
	if err := s.doRequest(ctx, client, http.MethodGet, endpoint, nil, &response); err != nil {
		return nil, err
	}

	found := make(map[string]CatalogTrack, len(response.Tracks))
	for _, t := range response.Tracks {
		if t == nil || t.ID == "" {
			continue
		}
		found[t.ID] = t.CatalogTrack()
	}
	return found, nil
}

// RecentlyPlayed returns up to limit (max 50) of the user's most recent plays, newest first.
func (s *SpotifyService) RecentlyPlayed(ctx context.Context, limit int) ([]RecentlyPlayedItem, error) {
	client, err := s.user()
	if err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 50 {
		limit = 50
	}

	var response recentlyPlayedResponse
	endpoint := fmt.Sprintf("/me/player/recently-played?limit=%d", limit)
	if err := s.doRequest(ctx, client, http.MethodGet, endpoint, nil, &response); err != nil {
		return nil, err
	}

	items := make([]RecentlyPlayedItem, 0, len(response.Items))
	for _, it := range response.Items {
		playedAt, err := models.ParseTime(it.PlayedAt)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", shared.ErrAPIRequest, err)
		}
		items = append(items, RecentlyPlayedItem{Track: it.Track.CatalogTrack(), PlayedAt: playedAt})
	}
	return items, nil
}

// AddToPlaylist appends track URIs to a playlist the user can modify.
func (s *SpotifyService) AddToPlaylist(ctx context.Context, playlistID string, uris []string) error {
	if playlistID == "" {
		return fmt.Errorf("%w: playlist id", shared.ErrMissingArgument)
	}
	if len(uris) == 0 {
		return nil
	}
	client, err := s.user()
	if err != nil {
		return err
	}

	body := map[string][]string{"uris": uris}
	var response struct {
		SnapshotID string `json:"snapshot_id"`
	}
	return s.doRequest(ctx, client, http.MethodPost, "/playlists/"+url.PathEscape(playlistID)+"/tracks", body, &response)
}
