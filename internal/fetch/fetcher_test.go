package fetch_test

import (
	"context"
	"errors"
	"io/fs"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"testing/fstest"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/goliatone/go-catalogform/internal/fetch"
	"github.com/goliatone/go-catalogform/pkg/schema"
)

const primaryJSON = `{
  "type": "object",
  "required": ["client"],
  "properties": {
    "client": { "type": "string" },
    "mode": { "type": "string" }
  },
  "x-schema-map": { "backup": "backup.json" }
}`

const backupJSON = `{
  "type": "object",
  "title": "Backup",
  "required": ["device_ip"],
  "properties": { "device_ip": { "type": "string" } }
}`

func catalogServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/catalog/backup-config/1.0.0/schema/backup.json", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(backupJSON))
	})
	mux.HandleFunc("/api/catalog/backup-config/latest/descriptor", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"version":"1.2.0","manifest":{"id":"backup-config","version":"1.2.0"},"schema":` + primaryJSON + `}`))
	})
	mux.HandleFunc("/api/catalog/slow/1.0.0/schema/backup.json", func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func TestFetchSchema_HTTP(t *testing.T) {
	server := catalogServer(t)
	f, err := fetch.New(fetch.WithBaseURL(server.URL + "/api/"))
	require.NoError(t, err)

	s, err := f.FetchSchema(context.Background(), "backup-config", "1.0.0", "backup.json")
	require.NoError(t, err)
	require.Equal(t, "Backup", s.Title())
	require.True(t, s.IsRequired("device_ip"))

	_, err = f.FetchSchema(context.Background(), "backup-config", "1.0.0", "restore.json")
	var statusErr *fetch.StatusError
	require.ErrorAs(t, err, &statusErr)
	require.True(t, statusErr.NotFound())
}

func TestFetchSchema_HTTPTimeout(t *testing.T) {
	server := catalogServer(t)
	f, err := fetch.New(fetch.WithBaseURL(server.URL+"/api"), fetch.WithTimeout(50*time.Millisecond))
	require.NoError(t, err)

	_, err = f.FetchSchema(context.Background(), "slow", "1.0.0", "backup.json")
	require.Error(t, err)
}

func TestFetchSchema_RejectsEscapingRefs(t *testing.T) {
	f, err := fetch.New(fetch.WithFS(fstest.MapFS{}))
	require.NoError(t, err)
	_, err = f.FetchSchema(context.Background(), "item", "1.0.0", "../../secrets.json")
	require.Error(t, err)
}

func TestDescriptor_HTTPLatest(t *testing.T) {
	server := catalogServer(t)
	f, err := fetch.New(fetch.WithBaseURL(server.URL+"/api"), fetch.WithTriggerField("mode"))
	require.NoError(t, err)

	desc, err := f.Descriptor(context.Background(), "backup-config", "")
	require.NoError(t, err)
	require.Equal(t, "backup-config", desc.ItemID())
	require.Equal(t, "1.2.0", desc.Version())
	require.Equal(t, "mode", desc.Primary().TriggerField())
}

func TestFetcher_FS(t *testing.T) {
	files := fstest.MapFS{
		"backup-config/1.0.0/schema.json": {Data: []byte(primaryJSON)},
		"backup-config/1.1.0/schema.json": {Data: []byte(primaryJSON)},
		"backup-config/backup.json":       {Data: []byte(backupJSON)},
	}
	f, err := fetch.New(fetch.WithFS(files))
	require.NoError(t, err)

	desc, err := f.Descriptor(context.Background(), "backup-config", fetch.LatestVersion)
	require.NoError(t, err)
	require.Equal(t, "1.1.0", desc.Version())
	require.Equal(t, schema.DefaultTriggerField, desc.Primary().TriggerField())

	s, err := f.FetchSchema(context.Background(), "backup-config", "1.1.0", "backup.json")
	require.NoError(t, err)
	require.Equal(t, "Backup", s.Title())

	_, err = f.FetchSchema(context.Background(), "backup-config", "1.1.0", "missing.json")
	require.True(t, errors.Is(err, fs.ErrNotExist))
}

func TestFetcher_Dir(t *testing.T) {
	dir := t.TempDir()
	item := filepath.Join(dir, "backup-config")
	require.NoError(t, os.MkdirAll(item, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(item, "manifest.yaml"), []byte("id: backup-config\nname: Backup\nversion: 3.0.0\nentrypoint: run.yml\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(item, "schema.json"), []byte(primaryJSON), 0o644))

	f, err := fetch.New(fetch.WithDir(dir))
	require.NoError(t, err)
	desc, err := f.Descriptor(context.Background(), "backup-config", "")
	require.NoError(t, err)
	require.Equal(t, "3.0.0", desc.Version())
}

func TestNew_RequiresBackend(t *testing.T) {
	_, err := fetch.New()
	require.ErrorIs(t, err, fetch.ErrNoBackend)

	_, err = fetch.New(fetch.WithBaseURL("not a url"))
	require.Error(t, err)
}

func TestLoader_FileSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "primary.json")
	require.NoError(t, os.WriteFile(path, []byte(primaryJSON), 0o644))

	loader := fetch.NewLoader(fetch.LoaderOptions{})
	s, err := loader.LoadSchema(context.Background(), schema.SourceFromFile(path))
	require.NoError(t, err)
	require.True(t, s.IsRequired("client"))

	src, err := schema.SourceFromURL("https://example.com/schema.json")
	require.NoError(t, err)
	_, err = loader.Load(context.Background(), src)
	require.Error(t, err, "http is disabled without a client")
}

func TestFetchSchema_FollowsRelativeRefs(t *testing.T) {
	files := fstest.MapFS{
		"backup-config/1.0.0/schema.json": {Data: []byte(primaryJSON)},
		"backup-config/1.0.0/backup.json": {Data: []byte(`{
  "type": "object",
  "properties": { "device_ip": { "$ref": "shared/net.json#/definitions/ip" } }
}`)},
		"backup-config/1.0.0/shared/net.json": {Data: []byte(`{"definitions":{"ip":{"type":"string","format":"ipv4"}}}`)},
	}
	f, err := fetch.New(fetch.WithFS(files))
	require.NoError(t, err)

	s, err := f.FetchSchema(context.Background(), "backup-config", "1.0.0", "backup.json")
	require.NoError(t, err)
	ip, ok := s.Property("device_ip")
	require.True(t, ok)
	require.Equal(t, "ipv4", ip.Format)
}
