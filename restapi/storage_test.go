package restapi_test

import (
	"context"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/parosapp/paros-go/backend"
	"github.com/stretchr/testify/require"
)

func TestUploadSendsMultipartForm(t *testing.T) {
	f := setupAPIFixture(t)
	f.mux.HandleFunc("/files", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		require.Equal(t, "listings/post-42/photo.jpg", r.FormValue("path"))

		file, header, err := r.FormFile("file")
		require.NoError(t, err)
		defer file.Close()
		content, err := io.ReadAll(file)
		require.NoError(t, err)
		require.Equal(t, "jpeg bytes", string(content))
		require.Equal(t, "image/jpeg", header.Header.Get("Content-Type"))

		writeJSON(w, http.StatusCreated, backend.FileRef{
			Path:        "listings/post-42/photo.jpg",
			Size:        int64(len(content)),
			ContentType: "image/jpeg",
		})
	})

	ref, err := f.backend.Storage().Upload(context.Background(), "listings/post-42/photo.jpg",
		strings.NewReader("jpeg bytes"), "image/jpeg")
	require.NoError(t, err)
	require.Equal(t, "listings/post-42/photo.jpg", ref.Path)
	require.EqualValues(t, 10, ref.Size)
	require.Equal(t, "image/jpeg", ref.ContentType)
}

// The multipart body is buffered, so the auth-retry interceptor can replay
// the whole upload after refreshing an expired token.
func TestUploadReplaysAfterTokenRefresh(t *testing.T) {
	f := setupAPIFixture(t)
	f.backend.Auth().SetSession(sessionWith(staleAccess, staleRefresh))

	f.mux.HandleFunc("/auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"accessToken":  freshAccess,
			"refreshToken": freshRefresh,
		})
	})

	var attempts int32
	f.mux.HandleFunc("/files", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		if r.Header.Get("Authorization") != "Bearer "+freshAccess {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "token expired"})
			return
		}
		require.NoError(t, r.ParseMultipartForm(1<<20))
		file, _, err := r.FormFile("file")
		require.NoError(t, err)
		defer file.Close()
		content, err := io.ReadAll(file)
		require.NoError(t, err)
		require.Equal(t, "agreement body", string(content))
		writeJSON(w, http.StatusCreated, backend.FileRef{Path: "docs/agreement.pdf", Size: int64(len(content))})
	})

	ref, err := f.backend.Storage().Upload(context.Background(), "docs/agreement.pdf",
		strings.NewReader("agreement body"), "application/pdf")
	require.NoError(t, err)
	require.Equal(t, "docs/agreement.pdf", ref.Path)
	require.EqualValues(t, 2, atomic.LoadInt32(&attempts))
}

func TestDownloadStreamsContent(t *testing.T) {
	f := setupAPIFixture(t)
	f.mux.HandleFunc("/files/docs/agreement.pdf", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		_, _ = w.Write([]byte("agreement body"))
	})

	body, err := f.backend.Storage().Download(context.Background(), "docs/agreement.pdf")
	require.NoError(t, err)
	defer body.Close()

	content, err := io.ReadAll(body)
	require.NoError(t, err)
	require.Equal(t, "agreement body", string(content))
}

func TestDownloadMissingFile(t *testing.T) {
	f := setupAPIFixture(t)
	f.mux.HandleFunc("/files/docs/gone.pdf", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "file not found", "code": "not_found"})
	})

	_, err := f.backend.Storage().Download(context.Background(), "docs/gone.pdf")
	var terr *backend.TransportError
	require.ErrorAs(t, err, &terr)
	require.Equal(t, http.StatusNotFound, terr.Status)
}

func TestDeleteAbsentFileIsNoop(t *testing.T) {
	f := setupAPIFixture(t)
	f.mux.HandleFunc("/files/docs/gone.pdf", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodDelete, r.Method)
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "file not found"})
	})

	require.NoError(t, f.backend.Storage().Delete(context.Background(), "docs/gone.pdf"))
}
