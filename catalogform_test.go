package catalogform_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	catalogform "github.com/goliatone/go-catalogform"
	"github.com/goliatone/go-catalogform/pkg/config"
	"github.com/goliatone/go-catalogform/pkg/resolver"
	"github.com/goliatone/go-catalogform/pkg/schema"
	"github.com/goliatone/go-catalogform/pkg/submission"
	"github.com/goliatone/go-catalogform/pkg/testsupport"
)

func TestCheck_RoutesErrorsPerForm(t *testing.T) {
	desc := testsupport.Descriptor(t)
	fetcher := testsupport.MapFetcher(testsupport.Schemas())

	result, err := catalogform.Check(context.Background(), fetcher, desc, map[string]any{
		"client": "acme",
		"action": "backup",
	})
	require.NoError(t, err)
	require.False(t, result.Passed)
	require.Empty(t, result.PrimaryErrors)
	require.Contains(t, result.SecondaryErrors, "device_ip")

	result, err = catalogform.Check(context.Background(), fetcher, desc, map[string]any{
		"client":    "acme",
		"action":    "backup",
		"device_ip": "10.0.0.1",
	})
	require.NoError(t, err)
	require.True(t, result.Passed)
}

func TestCheck_ResolutionFailure(t *testing.T) {
	desc := testsupport.Descriptor(t)
	fetcher := resolver.FetcherFunc(func(context.Context, string, string, string) (schema.Schema, error) {
		return schema.Schema{}, errors.New("boom")
	})

	_, err := catalogform.Check(context.Background(), fetcher, desc, map[string]any{"action": "backup"})
	var resErr *resolver.ResolutionError
	require.ErrorAs(t, err, &resErr)
	require.Equal(t, "backup.json", resErr.Ref)
}

func TestOpenBackend_Dir(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.CatalogDir = testsupport.WriteCatalog(t)

	backend, err := catalogform.OpenBackend(context.Background(), cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = backend.Close() })
	require.Equal(t, catalogform.BackendDir, backend.Kind())
	require.Nil(t, backend.Submitter())

	result, err := backend.Check(context.Background(), "backup-config", "", map[string]any{
		"client": "", "action": "backup", "device_ip": "nope",
	})
	require.NoError(t, err)
	require.Contains(t, result.PrimaryErrors, "client")
	require.Equal(t, []string{"must be a valid IPv4 address"}, result.SecondaryErrors["device_ip"])
}

func TestOpenBackend_StoreFallback(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.StorePath = filepath.Join(t.TempDir(), "catalog.db")

	backend, err := catalogform.OpenBackend(context.Background(), cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = backend.Close() })
	require.Equal(t, catalogform.BackendStore, backend.Kind())

	_, err = backend.Descriptor(context.Background(), "backup-config", "")
	require.Error(t, err)
}

func TestOpenBackend_APISession(t *testing.T) {
	var (
		mu   sync.Mutex
		body map[string]any
	)
	mux := http.NewServeMux()
	mux.HandleFunc("/catalog/backup-config/latest/descriptor", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"version":"1.0.0","manifest":{"id":"backup-config"},"schema":` + testsupport.PrimaryJSON + `}`))
	})
	mux.HandleFunc("/catalog/backup-config/1.0.0/schema/backup.json", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(testsupport.BackupJSON))
	})
	mux.HandleFunc("/jobs", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		_ = json.NewDecoder(r.Body).Decode(&body)
		_, _ = w.Write([]byte(`{"job_id":"7"}`))
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	cfg := config.DefaultConfig()
	cfg.APIBaseURL = server.URL

	backend, err := catalogform.OpenBackend(context.Background(), cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = backend.Close() })
	require.Equal(t, catalogform.BackendAPI, backend.Kind())

	ctx := context.Background()
	s, err := backend.NewSession(ctx, "backup-config", "")
	require.NoError(t, err)
	t.Cleanup(s.Close)

	pending, err := s.OnPrimaryChange(ctx, map[string]any{"client": "acme", "action": "backup"})
	require.NoError(t, err)
	require.NotNil(t, pending)
	outcome, err := pending.Wait(ctx)
	require.NoError(t, err)
	require.Equal(t, resolver.OutcomeApplied, outcome)

	require.NoError(t, s.SetSecondaryValue("device_ip", "10.0.0.1"))
	result, err := s.Execute(ctx)
	require.NoError(t, err)
	require.Equal(t, submission.StateSubmitted, result.State)
	require.Equal(t, "7", result.Receipt.JobID)

	mu.Lock()
	defer mu.Unlock()
	want := map[string]any{
		"report_type": "catalog",
		"parameters": map[string]any{
			"item_id": "backup-config",
			"version": "1.0.0",
			"inputs":  map[string]any{"client": "acme", "action": "backup", "device_ip": "10.0.0.1"},
		},
	}
	if diff := cmp.Diff(want, body); diff != "" {
		t.Fatalf("job body mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadSchema_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "primary.json")
	require.NoError(t, os.WriteFile(path, []byte(testsupport.BackupJSON), 0o644))

	cfg := config.DefaultConfig()
	cfg.DefaultTriggerField = "mode"
	s, err := catalogform.LoadSchema(context.Background(), path, cfg)
	require.NoError(t, err)
	require.True(t, s.IsRequired("device_ip"))
	require.Equal(t, "mode", s.TriggerField())
}
