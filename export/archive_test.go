package export

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rudderlabs/rudder-go-kit/config"
	"github.com/rudderlabs/rudder-go-kit/logger"

	"github.com/syncdock/syncdock-server/internal/model"
)

// fakeObjectStore answers the path-style HEAD and PUT calls the archive
// store issues.
type fakeObjectStore struct {
	mu           sync.Mutex
	lastModified time.Time
	exists       bool
	uploaded     []byte
	uploadedKey  string
}

func (f *fakeObjectStore) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		switch r.Method {
		case http.MethodGet:
			// the client resolves the bucket location before its first
			// operation; an empty LocationConstraint means us-east-1
			if _, ok := r.URL.Query()["location"]; ok {
				w.Header().Set("Content-Type", "application/xml")
				_, _ = w.Write([]byte(`<?xml version="1.0" encoding="UTF-8"?><LocationConstraint xmlns="http://s3.amazonaws.com/doc/2006-03-01/"></LocationConstraint>`))
				return
			}
			w.WriteHeader(http.StatusMethodNotAllowed)
		case http.MethodHead:
			if !f.exists {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			w.Header().Set("Last-Modified", f.lastModified.UTC().Format(http.TimeFormat))
			w.Header().Set("Content-Length", "3")
			w.WriteHeader(http.StatusOK)
		case http.MethodPut:
			body, _ := io.ReadAll(r.Body)
			f.uploaded = body
			f.uploadedKey = strings.TrimPrefix(r.URL.Path, "/syncdock-exports/")
			w.Header().Set("ETag", `"d41d8cd98f00b204e9800998ecf8427e"`)
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	}
}

func newTestArchiveStore(t *testing.T, endpoint string, now time.Time) *ArchiveStore {
	t.Helper()

	conf := config.New()
	conf.Set("Archive.endpoint", strings.TrimPrefix(endpoint, "http://"))
	conf.Set("Archive.useSSL", false)

	store, err := NewArchiveStore(conf, logger.NOP, WithNow(func() time.Time { return now }))
	require.NoError(t, err)
	return store
}

func TestObjectKey(t *testing.T) {
	store := newTestArchiveStore(t, "http://localhost:9000", time.Now())
	conn := model.Connection{OrganizationID: "org-1", Name: "main shop"}
	require.Equal(t, "org-1/main shop.zip", store.ObjectKey(conn))
}

func TestExportUploadsArchive(t *testing.T) {
	fake := &fakeObjectStore{}
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	store := newTestArchiveStore(t, srv.URL, time.Now())
	conn := model.Connection{OrganizationID: "org-1", Name: "shop"}
	batches := []model.RecordBatch{
		{TableName: "orders", Records: []model.Record{{"id": "o1"}}},
	}

	key, cached, err := store.Export(context.Background(), conn, batches, CSVOptions{})
	require.NoError(t, err)
	require.False(t, cached)
	require.Equal(t, "org-1/shop.zip", key)
	require.Equal(t, "org-1/shop.zip", fake.uploadedKey)

	// the body arrives in aws-chunked framing, the member name still sits
	// verbatim inside the zip payload
	require.True(t, bytes.Contains(fake.uploaded, []byte("orders.csv")))
}

func TestExportReusesFreshArchive(t *testing.T) {
	now := time.Now()
	fake := &fakeObjectStore{exists: true, lastModified: now.Add(-time.Hour)}
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	store := newTestArchiveStore(t, srv.URL, now)
	conn := model.Connection{OrganizationID: "org-1", Name: "shop"}

	key, cached, err := store.Export(context.Background(), conn, nil, CSVOptions{})
	require.NoError(t, err)
	require.True(t, cached)
	require.Equal(t, "org-1/shop.zip", key)
	require.Nil(t, fake.uploaded)
}

func TestFreshExpiredArchive(t *testing.T) {
	now := time.Now()
	fake := &fakeObjectStore{exists: true, lastModified: now.Add(-13 * time.Hour)}
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	store := newTestArchiveStore(t, srv.URL, now)
	fresh, err := store.Fresh(context.Background(), "org-1/shop.zip")
	require.NoError(t, err)
	require.False(t, fresh)
}
