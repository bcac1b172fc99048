package services

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/oauth2"

	"github.com/desertthunder/spx/internal/shared"
)

var testCredentials = map[string]string{
	"client_id":     "test_client_id",
	"client_secret": "test_client_secret",
	"redirect_uri":  "http://127.0.0.1:3000/callback",
}

// newTestServer serves the token endpoint and hands everything else to api.
func newTestServer(t *testing.T, api http.HandlerFunc) (*SpotifyService, *httptest.Server) {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		access := "cc-token"
		if r.Form.Get("grant_type") == "refresh_token" {
			access = "refreshed-token"
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"access_token":"`+access+`","token_type":"bearer","expires_in":3600}`)
	})
	mux.HandleFunc("/", api)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	s, err := NewSpotifyService(testCredentials,
		WithBaseURL(srv.URL),
		WithTokenURL(srv.URL+"/token"),
		WithHTTPClient(srv.Client()),
		WithRequestsPerSecond(0),
	)
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}
	return s, srv
}

func TestSpotifyService(t *testing.T) {
	t.Run("NewSpotifyService", func(t *testing.T) {
		t.Run("With Valid Credentials", func(t *testing.T) {
			srv, err := NewSpotifyService(testCredentials)
			if err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			if srv.Name() != "Spotify" {
				t.Errorf("expected service name 'Spotify', got %s", srv.Name())
			}
		})

		t.Run("Missing Client ID", func(t *testing.T) {
			_, err := NewSpotifyService(map[string]string{"client_secret": "secret"})
			if !errors.Is(err, shared.ErrMissingCredentials) {
				t.Errorf("expected ErrMissingCredentials, got %v", err)
			}
		})

		t.Run("Missing Client Secret", func(t *testing.T) {
			_, err := NewSpotifyService(map[string]string{"client_id": "id"})
			if !errors.Is(err, shared.ErrMissingCredentials) {
				t.Errorf("expected ErrMissingCredentials, got %v", err)
			}
		})

		t.Run("Default Redirect URI", func(t *testing.T) {
			srv, err := NewSpotifyService(map[string]string{"client_id": "id", "client_secret": "secret"})
			if err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			if srv.config.RedirectURL != "http://127.0.0.1:3000/callback" {
				t.Errorf("expected default redirect URI, got %s", srv.config.RedirectURL)
			}
		})
	})

	t.Run("Get AuthURL", func(t *testing.T) {
		srv, err := NewSpotifyService(testCredentials)
		if err != nil {
			t.Fatalf("failed to create service: %v", err)
		}

		authURL := srv.GetAuthURL("test_state")
		for _, want := range []string{"accounts.spotify.com", "test_client_id", "test_state", "user-read-recently-played"} {
			if !strings.Contains(authURL, want) {
				t.Errorf("auth URL should contain %q: %s", want, authURL)
			}
		}
	})

	t.Run("Authenticate", func(t *testing.T) {
		srv, err := NewSpotifyService(testCredentials)
		if err != nil {
			t.Fatalf("failed to create service: %v", err)
		}

		t.Run("Missing Credentials", func(t *testing.T) {
			if err := srv.Authenticate(context.Background(), map[string]string{}); !errors.Is(err, shared.ErrMissingCredentials) {
				t.Errorf("expected ErrMissingCredentials, got %v", err)
			}
			if _, err := srv.RecentlyPlayed(context.Background(), 50); !errors.Is(err, shared.ErrNotAuthenticated) {
				t.Errorf("expected ErrNotAuthenticated before auth, got %v", err)
			}
		})

		t.Run("WithAccessToken", func(t *testing.T) {
			if err := srv.Authenticate(context.Background(), map[string]string{"access_token": "test_access_token"}); err != nil {
				t.Fatalf("expected no error with access token, got %v", err)
			}
			if tok := srv.Token(); tok == nil || tok.AccessToken != "test_access_token" {
				t.Errorf("unexpected token %+v", tok)
			}
		})
	})
}

func TestLookupTracks(t *testing.T) {
	t.Run("maps found tracks and skips nulls", func(t *testing.T) {
		var gotAuth, gotIDs string
		s, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/tracks" {
				http.NotFound(w, r)
				return
			}
			gotAuth = r.Header.Get("Authorization")
			gotIDs = r.URL.Query().Get("ids")
			_, _ = io.WriteString(w, `{"tracks": [
				{"id": "t1", "name": "One", "duration_ms": 1000,
				 "album": {"id": "al1", "name": "Album", "images": [{"url": "https://i.scdn.co/image/al1", "height": 640, "width": 640}]},
				 "artists": [{"id": "ar1", "name": "First"}, {"id": "ar2", "name": "Second"}]},
				null,
				{"id": "t3", "name": "Three", "duration_ms": 3000, "album": {"id": "al1", "name": "Album", "images": []}, "artists": []}
			]}`)
		})

		found, err := s.LookupTracks(context.Background(), []string{"t1", "missing", "t3"})
		if err != nil {
			t.Fatalf("LookupTracks() error = %v", err)
		}

		if gotAuth != "Bearer cc-token" {
			t.Errorf("expected client credentials token, got %q", gotAuth)
		}
		if gotIDs != "t1,missing,t3" {
			t.Errorf("unexpected ids query %q", gotIDs)
		}
		if len(found) != 2 {
			t.Fatalf("expected 2 tracks, got %d", len(found))
		}
		if _, ok := found["missing"]; ok {
			t.Error("null entry should be absent")
		}

		t1 := found["t1"]
		if t1.Album.ImageURL != "https://i.scdn.co/image/al1" || len(t1.Artists) != 2 || t1.Artists[1].ID != "ar2" {
			t.Errorf("unexpected mapping %+v", t1)
		}
	})

	t.Run("rejects oversized batches without a request", func(t *testing.T) {
		var calls atomic.Int32
		s, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) { calls.Add(1) })

		ids := make([]string, MaxLookupIDs+1)
		for i := range ids {
			ids[i] = "id"
		}
		if _, err := s.LookupTracks(context.Background(), ids); !errors.Is(err, shared.ErrBatchTooLarge) {
			t.Errorf("expected ErrBatchTooLarge, got %v", err)
		}
		if calls.Load() != 0 {
			t.Errorf("expected no API calls, got %d", calls.Load())
		}
	})

	t.Run("empty batch", func(t *testing.T) {
		s, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) { t.Error("unexpected request") })
		found, err := s.LookupTracks(context.Background(), nil)
		if err != nil || len(found) != 0 {
			t.Errorf("expected empty result, got %v, %v", found, err)
		}
	})
}

func TestErrorClassification(t *testing.T) {
	tc := []struct {
		name    string
		handler http.HandlerFunc
		check   func(t *testing.T, err error)
	}{
		{
			name: "rate limited with retry after",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Retry-After", "7")
				w.WriteHeader(http.StatusTooManyRequests)
			},
			check: func(t *testing.T, err error) {
				var rle *RateLimitError
				if !errors.As(err, &rle) {
					t.Fatalf("expected RateLimitError, got %v", err)
				}
				if rle.RetryAfter != 7*time.Second {
					t.Errorf("expected 7s, got %v", rle.RetryAfter)
				}
			},
		},
		{
			name:    "rate limited without header",
			handler: func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusTooManyRequests) },
			check: func(t *testing.T, err error) {
				var rle *RateLimitError
				if !errors.As(err, &rle) || rle.RetryAfter != 0 {
					t.Errorf("expected RateLimitError without hint, got %v", err)
				}
			},
		},
		{
			name:    "server error is transient",
			handler: func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusBadGateway) },
			check: func(t *testing.T, err error) {
				if !errors.Is(err, shared.ErrTransient) {
					t.Errorf("expected ErrTransient, got %v", err)
				}
			},
		},
		{
			name:    "service unavailable is transient",
			handler: func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusServiceUnavailable) },
			check: func(t *testing.T, err error) {
				if !errors.Is(err, shared.ErrTransient) || !errors.Is(err, shared.ErrServiceUnavailable) {
					t.Errorf("expected transient ErrServiceUnavailable, got %v", err)
				}
			},
		},
		{
			name:    "unauthorized",
			handler: func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusUnauthorized) },
			check: func(t *testing.T, err error) {
				if !errors.Is(err, shared.ErrTokenExpired) {
					t.Errorf("expected ErrTokenExpired, got %v", err)
				}
			},
		},
		{
			name: "bad request",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusBadRequest)
				_, _ = io.WriteString(w, `{"error":{"status":400,"message":"invalid id"}}`)
			},
			check: func(t *testing.T, err error) {
				if !errors.Is(err, shared.ErrAPIRequest) || errors.Is(err, shared.ErrTransient) {
					t.Errorf("expected non-transient ErrAPIRequest, got %v", err)
				}
				if !strings.Contains(err.Error(), "invalid id") {
					t.Errorf("expected response body in error, got %v", err)
				}
			},
		},
		{
			name:    "malformed body",
			handler: func(w http.ResponseWriter, r *http.Request) { _, _ = io.WriteString(w, `{"tracks": [`) },
			check: func(t *testing.T, err error) {
				if !errors.Is(err, shared.ErrAPIRequest) {
					t.Errorf("expected ErrAPIRequest, got %v", err)
				}
			},
		},
	}

	for _, tt := range tc {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := newTestServer(t, tt.handler)
			_, err := s.LookupTracks(context.Background(), []string{"t1"})
			tt.check(t, err)
		})
	}

	t.Run("transport failure is transient", func(t *testing.T) {
		client := &http.Client{Transport: roundTripperFunc(func(*http.Request) (*http.Response, error) {
			return nil, errors.New("connection reset by peer")
		})}
		s, err := NewSpotifyService(testCredentials, WithHTTPClient(client), WithRequestsPerSecond(0))
		if err != nil {
			t.Fatalf("failed to create service: %v", err)
		}
		if err := s.Authenticate(context.Background(), map[string]string{"access_token": "token"}); err != nil {
			t.Fatalf("Authenticate() error = %v", err)
		}

		_, err = s.LookupTracks(context.Background(), []string{"t1"})
		if !errors.Is(err, shared.ErrTransient) {
			t.Errorf("expected ErrTransient, got %v", err)
		}
	})

	t.Run("cancelled context is not transient", func(t *testing.T) {
		s, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {})
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := s.LookupTracks(ctx, []string{"t1"})
		if !errors.Is(err, context.Canceled) || errors.Is(err, shared.ErrTransient) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	})
}

func TestLibrary(t *testing.T) {
	t.Run("RecentlyPlayed", func(t *testing.T) {
		s, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/me/player/recently-played" || r.URL.Query().Get("limit") != "50" {
				t.Errorf("unexpected request %s", r.URL)
			}
			if r.Header.Get("Authorization") != "Bearer user-token" {
				t.Errorf("expected user token, got %q", r.Header.Get("Authorization"))
			}
			_, _ = io.WriteString(w, `{"items": [
				{"played_at": "2024-02-01T10:00:05.123Z", "track": {"id": "t2", "name": "Two", "album": {"id": "al", "name": "A"}, "artists": [{"id": "ar", "name": "R"}]}},
				{"played_at": "2024-02-01T09:56:00Z", "track": {"id": "t1", "name": "One", "album": {"id": "al", "name": "A"}, "artists": []}}
			]}`)
		})
		if err := s.Authenticate(context.Background(), map[string]string{"access_token": "user-token"}); err != nil {
			t.Fatalf("Authenticate() error = %v", err)
		}

		items, err := s.RecentlyPlayed(context.Background(), 0)
		if err != nil {
			t.Fatalf("RecentlyPlayed() error = %v", err)
		}
		if len(items) != 2 {
			t.Fatalf("expected 2 items, got %d", len(items))
		}
		want := time.Date(2024, 2, 1, 10, 0, 5, 0, time.UTC)
		if !items[0].PlayedAt.Equal(want) || items[0].Track.ID != "t2" {
			t.Errorf("unexpected first item %+v", items[0])
		}
	})

	t.Run("AddToPlaylist", func(t *testing.T) {
		var body struct {
			URIs []string `json:"uris"`
		}
		var path, method string
		s, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			path, method = r.URL.Path, r.Method
			_ = json.NewDecoder(r.Body).Decode(&body)
			w.WriteHeader(http.StatusCreated)
			_, _ = io.WriteString(w, `{"snapshot_id": "abc"}`)
		})
		if err := s.Authenticate(context.Background(), map[string]string{"access_token": "user-token"}); err != nil {
			t.Fatalf("Authenticate() error = %v", err)
		}

		if err := s.AddToPlaylist(context.Background(), "pl1", []string{"spotify:track:t1"}); err != nil {
			t.Fatalf("AddToPlaylist() error = %v", err)
		}
		if method != http.MethodPost || path != "/playlists/pl1/tracks" {
			t.Errorf("unexpected request %s %s", method, path)
		}
		if len(body.URIs) != 1 || body.URIs[0] != "spotify:track:t1" {
			t.Errorf("unexpected body %+v", body)
		}

		if err := s.AddToPlaylist(context.Background(), "", []string{"x"}); !errors.Is(err, shared.ErrMissingArgument) {
			t.Errorf("expected ErrMissingArgument, got %v", err)
		}
	})

	t.Run("refresh token is exchanged and reported", func(t *testing.T) {
		var seen string
		s, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			seen = r.Header.Get("Authorization")
			_, _ = io.WriteString(w, `{"items": []}`)
		})

		var refreshed *oauth2.Token
		s.SetTokenRefreshCallback(func(tok *oauth2.Token) { refreshed = tok })
		if err := s.Authenticate(context.Background(), map[string]string{"refresh_token": "refresh-me"}); err != nil {
			t.Fatalf("Authenticate() error = %v", err)
		}

		if _, err := s.RecentlyPlayed(context.Background(), 10); err != nil {
			t.Fatalf("RecentlyPlayed() error = %v", err)
		}
		if seen != "Bearer refreshed-token" {
			t.Errorf("expected refreshed token on request, got %q", seen)
		}
		if refreshed == nil || refreshed.AccessToken != "refreshed-token" {
			t.Errorf("expected refresh callback, got %+v", refreshed)
		}
	})
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	tc := []struct {
		in   string
		want time.Duration
	}{
		{"", 0},
		{"3", 3 * time.Second},
		{"-1", 0},
		{"soon", 0},
		{now.Add(10 * time.Second).Format(http.TimeFormat), 10 * time.Second},
		{now.Add(-10 * time.Second).Format(http.TimeFormat), 0},
	}

	for _, tt := range tc {
		if got := parseRetryAfter(tt.in, now); got != tt.want {
			t.Errorf("parseRetryAfter(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestRefreshableTokenSource(t *testing.T) {
	t.Run("calls callback when token changes", func(t *testing.T) {
		var captured []*oauth2.Token
		mock := &mockTokenSource{token: &oauth2.Token{AccessToken: "token1"}}
		source := &refreshableTokenSource{
			source:   mock,
			callback: func(tok *oauth2.Token) { captured = append(captured, tok) },
		}

		_, _ = source.Token()
		_, _ = source.Token()
		mock.token = &oauth2.Token{AccessToken: "token2"}
		tok, _ := source.Token()

		if len(captured) != 2 {
			t.Errorf("expected callback twice, got %d", len(captured))
		}
		if tok.AccessToken != "token2" {
			t.Errorf("expected new token, got %s", tok.AccessToken)
		}
	})

	t.Run("skips the initial token", func(t *testing.T) {
		calls := 0
		source := &refreshableTokenSource{
			source:   &mockTokenSource{token: &oauth2.Token{AccessToken: "same"}},
			callback: func(*oauth2.Token) { calls++ },
			last:     "same",
		}
		_, _ = source.Token()
		if calls != 0 {
			t.Errorf("expected no callback for the known token, got %d", calls)
		}
	})

	t.Run("handles nil callback", func(t *testing.T) {
		source := &refreshableTokenSource{source: &mockTokenSource{token: &oauth2.Token{AccessToken: "x"}}}
		if tok, err := source.Token(); err != nil || tok.AccessToken != "x" {
			t.Errorf("unexpected %v, %v", tok, err)
		}
	})

	t.Run("propagates source errors", func(t *testing.T) {
		source := &refreshableTokenSource{
			source:   &mockTokenSource{err: errors.New("token source error")},
			callback: func(*oauth2.Token) { t.Error("callback should not be called on error") },
		}
		tok, err := source.Token()
		if err == nil || tok != nil {
			t.Errorf("expected error and nil token, got %v, %v", tok, err)
		}
	})
}

// mockTokenSource implements [oauth2.TokenSource] for testing
type mockTokenSource struct {
	token *oauth2.Token
	err   error
}

func (m *mockTokenSource) Token() (*oauth2.Token, error) {
	return m.token, m.err
}

type roundTripperFunc func(*http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }
