package restapi

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"

	"github.com/parosapp/paros-go/backend"
	"github.com/parosapp/paros-go/internal/telemetry"
	"github.com/parosapp/paros-go/transport"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
)

// Storage stores file content through the /files endpoints.
type Storage struct {
	client *transport.Client
}

var _ backend.Storage = (*Storage)(nil)

func newStorage(client *transport.Client) *Storage {
	return &Storage{client: client}
}

// Upload sends content as a multipart form. The body is buffered so the
// auth-retry interceptor can replay the request after a refresh.
func (s *Storage) Upload(ctx context.Context, path string, content io.Reader, contentType string) (backend.FileRef, error) {
	ctx, span := telemetry.StartSpan(ctx, "storage.upload", attribute.String("file.path", path))
	defer span.End()

	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)
	if err := form.WriteField("path", path); err != nil {
		return backend.FileRef{}, errors.Wrap(err, "Storage.Upload")
	}
	part, err := form.CreatePart(filePartHeader(path, contentType))
	if err != nil {
		return backend.FileRef{}, errors.Wrap(err, "Storage.Upload")
	}
	if _, err := io.Copy(part, content); err != nil {
		return backend.FileRef{}, errors.Wrap(err, "Storage.Upload read content")
	}
	if err := form.Close(); err != nil {
		return backend.FileRef{}, errors.Wrap(err, "Storage.Upload")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.client.Endpoint("/files"), bytes.NewReader(buf.Bytes()))
	if err != nil {
		return backend.FileRef{}, errors.Wrap(err, "Storage.Upload")
	}
	req.Header.Set("Content-Type", form.FormDataContentType())
	req.Header.Set("Accept", "application/json")

	var ref backend.FileRef
	if err := s.client.DoDecode(req, &ref); err != nil {
		return backend.FileRef{}, errors.Wrap(err, "Storage.Upload")
	}
	return ref, nil
}

// Download streams the content stored at path. The caller closes the reader.
func (s *Storage) Download(ctx context.Context, path string) (io.ReadCloser, error) {
	ctx, span := telemetry.StartSpan(ctx, "storage.download", attribute.String("file.path", path))
	defer span.End()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.client.Endpoint(filePath(path)), nil)
	if err != nil {
		return nil, errors.Wrap(err, "Storage.Download")
	}
	body, err := s.client.DoStream(req)
	if err != nil {
		return nil, errors.Wrap(err, "Storage.Download")
	}
	return body, nil
}

// Delete removes the stored file. Deleting an absent path is a no-op.
func (s *Storage) Delete(ctx context.Context, path string) error {
	ctx, span := telemetry.StartSpan(ctx, "storage.delete", attribute.String("file.path", path))
	defer span.End()

	err := s.client.DoJSON(ctx, http.MethodDelete, filePath(path), nil, nil)
	if err != nil {
		var terr *backend.TransportError
		if errors.As(err, &terr) && terr.Status == http.StatusNotFound {
			return nil
		}
		return errors.Wrap(err, "Storage.Delete")
	}
	return nil
}

func filePartHeader(path, contentType string) textproto.MIMEHeader {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, path))
	header.Set("Content-Type", contentType)
	return header
}

// filePath escapes each path segment individually so slashes inside the
// logical path survive as separators.
func filePath(path string) string {
	segments := strings.Split(strings.TrimPrefix(path, "/"), "/")
	for i, segment := range segments {
		segments[i] = url.PathEscape(segment)
	}
	return "/files/" + strings.Join(segments, "/")
}
