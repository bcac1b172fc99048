// Package server runs the temporary local HTTP server used by `spx spotify auth`.
//
// [Listen] binds the configured callback address and serves a [Router]. The [BasicRouter]
// implementation uses [http.ServeMux] with method filtering and a middleware stack applied
// in reverse order (last added executes first).
//
// [OAuthHandler] completes the authorization code flow: it checks the state parameter
// against the value sent with the authorization URL, exchanges the code for a token and
// delivers exactly one [OAuthResult] on its channel. Later callbacks are rejected.
package server
