package transport

import (
	"net/http"
	"strings"

	"github.com/parosapp/paros-go/backend"
	"github.com/parosapp/paros-go/token"
	"github.com/pkg/errors"
)

// AttachToken sets the Authorization header from the store at call time.
// Reading at call time rather than at chain construction is what lets a
// retried request pick up a token refreshed after the first attempt.
func AttachToken(store *token.Store) Interceptor {
	return func(next Doer) Doer {
		return func(req *http.Request) (*http.Response, error) {
			if access := store.Access(); access != "" {
				req.Header.Set("Authorization", "Bearer "+access)
			}
			return next(req)
		}
	}
}

// RetryOnAuthFailure turns a 401 into one refresh-and-retry cycle. The
// refresher collapses concurrent refreshes, so any number of requests
// failing at once produce a single upstream exchange; each request is
// retried at most once and a 401 on the retry surfaces unchanged.
//
// Compose it outside AttachToken: the retried request re-enters AttachToken
// and gains the refreshed access token.
func RetryOnAuthFailure(refresher *token.Refresher, store *token.Store) Interceptor {
	return func(next Doer) Doer {
		return func(req *http.Request) (*http.Response, error) {
			resp, err := next(req)
			if err != nil || resp.StatusCode != http.StatusUnauthorized {
				return resp, err
			}

			// Without a rewindable body the request cannot be replayed.
			if req.Body != nil && req.GetBody == nil {
				return resp, nil
			}

			if store.Refresh() == "" {
				drainAndClose(resp.Body)
				return nil, errors.Wrap(backend.ErrSessionExpired, "RetryOnAuthFailure")
			}

			usedToken := bearerToken(req.Header.Get("Authorization"))
			drainAndClose(resp.Body)

			// A refresh that completed after this request was sent already
			// rotated the pair; reuse it instead of rotating again.
			if current := store.Access(); current == "" || current == usedToken {
				if _, err := refresher.Refresh(req.Context()); err != nil {
					if errors.Is(err, token.ErrRefreshInvalid) || errors.Is(err, token.ErrNoSession) {
						return nil, errors.Wrap(backend.ErrSessionExpired, "RetryOnAuthFailure")
					}
					return nil, errors.Wrap(err, "RetryOnAuthFailure refresh")
				}
			}

			retry, err := replayRequest(req)
			if err != nil {
				return nil, errors.Wrap(err, "RetryOnAuthFailure rewind")
			}
			return next(retry)
		}
	}
}

func replayRequest(req *http.Request) (*http.Request, error) {
	retry := req.Clone(req.Context())
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, err
		}
		retry.Body = body
	}
	// Drop the stale header so AttachToken installs the refreshed token.
	retry.Header.Del("Authorization")
	return retry, nil
}

func bearerToken(header string) string {
	return strings.TrimPrefix(header, "Bearer ")
}
