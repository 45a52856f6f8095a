package restapi_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/parosapp/paros-go/backend"
	"github.com/parosapp/paros-go/restapi"
	"github.com/parosapp/paros-go/token"
	"github.com/stretchr/testify/require"
)

const (
	staleAccess  = "access-stale"
	staleRefresh = "refresh-stale"
	freshAccess  = "access-fresh"
	freshRefresh = "refresh-fresh"
	testUserID   = "usr_81aa2f"
	testPhone    = "+919876543210"
)

type apiFixture struct {
	backend *restapi.Backend
	mux     *http.ServeMux
	server  *httptest.Server
}

func setupAPIFixture(t *testing.T) *apiFixture {
	t.Helper()

	mux := http.NewServeMux()
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	b, err := restapi.New(backend.Config{
		Kind:         backend.KindAPI,
		APIBaseURL:   server.URL,
		APISocketURL: "wss://paros.test/ws",
	})
	require.NoError(t, err)

	return &apiFixture{backend: b, mux: mux, server: server}
}

func sessionWith(access, refresh string) backend.Session {
	return backend.Session{
		Tokens: token.Pair{Access: access, Refresh: refresh},
		User:   backend.User{ID: testUserID, Phone: testPhone, DisplayName: "Asha"},
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func TestNewValidatesConfig(t *testing.T) {
	_, err := restapi.New(backend.Config{Kind: backend.KindAPI})
	require.Error(t, err)

	_, err = restapi.New(backend.Config{
		Kind:                backend.KindDocument,
		DocumentDSN:         "postgres://localhost/paros",
		DocumentTokenSecret: "secret",
	})
	require.Error(t, err)
}

func TestBackendExposesProviders(t *testing.T) {
	f := setupAPIFixture(t)

	require.Equal(t, backend.KindAPI, f.backend.Kind())
	require.NotNil(t, f.backend.Auth())
	require.NotNil(t, f.backend.Database())
	require.NotNil(t, f.backend.Storage())
	require.NotNil(t, f.backend.Realtime())
	require.NoError(t, f.backend.Close(context.Background()))
}

// An expired access token on any data request triggers exactly one refresh,
// the request is replayed with the new token, and the rotated pair is what
// the auth provider reports afterwards.
func TestExpiredAccessTokenRefreshesAndRetries(t *testing.T) {
	f := setupAPIFixture(t)
	auth := f.backend.Auth()
	auth.SetSession(sessionWith(staleAccess, staleRefresh))

	var refreshCalls int32
	f.mux.HandleFunc("/auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&refreshCalls, 1)
		writeJSON(w, http.StatusOK, map[string]string{
			"accessToken":  freshAccess,
			"refreshToken": freshRefresh,
		})
	})
	f.mux.HandleFunc("/posts", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+freshAccess {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "token expired", "code": "token_expired"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"documents": []map[string]any{{"id": "post-1", "type": "FLAT"}},
		})
	})

	docs, err := f.backend.Database().Query(context.Background(), "posts", nil, backend.QueryOptions{})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	require.EqualValues(t, 1, atomic.LoadInt32(&refreshCalls))

	session, ok := auth.Session()
	require.True(t, ok)
	require.Equal(t, freshAccess, session.Tokens.Access)
	require.Equal(t, freshRefresh, session.Tokens.Refresh)
}
