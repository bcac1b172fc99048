// Package services defines the [Catalog] and [Library] interfaces the pipeline talks to and
// implements them for the Spotify Web API.
//
// # Catalog
//
// [Catalog] resolves up to [MaxLookupIDs] external track IDs per call. IDs the catalog does not
// know are simply absent from the result; that is not an error.
//
// [SpotifyService] reads the catalog with a client-credentials token, so imports need no user
// login. A [Breaker] guards whole lookups, retries included, so a catalog that keeps failing
// batch after batch is not hammered for the rest of a run.
//
// # Library
//
// [Library] covers the user's recently-played feed and playlist writes. These need a user token
// from the authorization-code flow (`spx spotify auth`). The [oauth2.Client] refreshes expired
// tokens and [SpotifyService.SetTokenRefreshCallback] lets the CLI persist them.
//
// # Error Handling
//
// Services use typed errors from the shared package:
//   - [RateLimitError] : HTTP 429, carrying the Retry-After hint when present
//   - [shared.ErrTransient] : network failure or 5xx, safe to retry
//   - [shared.ErrBatchTooLarge] : more than [MaxLookupIDs] IDs in one lookup
//   - [shared.ErrNotAuthenticated] : no user token configured
//   - [shared.ErrTokenExpired] : user token rejected, reauthorization needed
//   - [shared.ErrCircuitOpen] : the breaker is open
//   - [shared.ErrAPIRequest] : any other failed request
//
// All requests pass through a [rate.Limiter] configured by [WithRequestsPerSecond].
package services
