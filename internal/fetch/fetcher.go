// Package fetch implements the schema fetch collaborator over the portal
// HTTP API or a local catalog tree.
package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"net/url"
	"os"
	"path"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/goliatone/go-catalogform/internal/bundle"
	"github.com/goliatone/go-catalogform/pkg/resolver"
	"github.com/goliatone/go-catalogform/pkg/schema"
)

// LatestVersion asks for the newest version of an item.
const LatestVersion = "latest"

// ErrNoBackend is returned when neither a base URL nor a catalog tree is set.
var ErrNoBackend = errors.New("fetch: a base URL or a catalog file system is required")

// Option customises a Fetcher.
type Option func(*Fetcher)

// WithBaseURL fetches from the portal API rooted at base.
func WithBaseURL(base string) Option {
	return func(f *Fetcher) {
		f.baseURL = strings.TrimRight(strings.TrimSpace(base), "/")
	}
}

// WithFS fetches from a catalog tree laid out as {item}/{version}/{ref} or
// {item}/{ref}.
func WithFS(fsys fs.FS) Option {
	return func(f *Fetcher) {
		f.fsys = fsys
	}
}

// WithDir is WithFS over a local directory.
func WithDir(dir string) Option {
	return func(f *Fetcher) {
		if strings.TrimSpace(dir) != "" {
			f.fsys = os.DirFS(dir)
		}
	}
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(f *Fetcher) {
		f.client = client
	}
}

// WithTimeout bounds every HTTP request.
func WithTimeout(timeout time.Duration) Option {
	return func(f *Fetcher) {
		f.timeout = timeout
	}
}

// WithTriggerField sets the trigger field used for primary schemas that do
// not declare one.
func WithTriggerField(field string) Option {
	return func(f *Fetcher) {
		f.triggerField = field
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *zap.Logger) Option {
	return func(f *Fetcher) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// Fetcher loads primary descriptors and secondary schemas.
type Fetcher struct {
	baseURL      string
	fsys         fs.FS
	client       *http.Client
	timeout      time.Duration
	triggerField string
	logger       *zap.Logger

	loader *Loader
}

var _ resolver.Fetcher = (*Fetcher)(nil)

// New constructs a Fetcher. The HTTP backend wins when both are configured.
func New(opts ...Option) (*Fetcher, error) {
	f := &Fetcher{logger: zap.NewNop()}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(f)
	}
	if f.baseURL == "" && f.fsys == nil {
		return nil, ErrNoBackend
	}
	if f.baseURL != "" {
		parsed, err := url.Parse(f.baseURL)
		if err != nil || parsed.Scheme == "" || parsed.Host == "" {
			return nil, fmt.Errorf("fetch: invalid base URL %q", f.baseURL)
		}
	}
	f.loader = NewLoader(LoaderOptions{
		FileSystem:     f.fsys,
		HTTPClient:     f.client,
		AllowHTTP:      f.baseURL != "",
		RequestTimeout: f.timeout,
	})
	return f, nil
}

// FetchSchema loads the secondary schema ref of item@version.
func (f *Fetcher) FetchSchema(ctx context.Context, itemID, version, ref string) (schema.Schema, error) {
	if err := bundle.CheckRef(ref); err != nil {
		return schema.Schema{}, err
	}
	if f.baseURL != "" {
		src, err := schema.SourceFromURL(f.endpoint(itemID, version, "schema", ref))
		if err != nil {
			return schema.Schema{}, err
		}
		f.logger.Debug("fetching schema", zap.String("url", src.Location()))
		return f.loader.LoadSchema(ctx, src)
	}

	for _, candidate := range f.candidates(itemID, version, ref) {
		parsed, err := f.loader.LoadSchema(ctx, schema.SourceFromFS(candidate))
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return schema.Schema{}, err
		}
		f.logger.Debug("loaded schema", zap.String("path", candidate))
		return parsed, nil
	}
	return schema.Schema{}, fmt.Errorf("fetch: schema %q for %s@%s: %w", ref, itemID, version, fs.ErrNotExist)
}

// Descriptor loads the primary schema of item@version. Version may be
// LatestVersion.
func (f *Fetcher) Descriptor(ctx context.Context, itemID, version string) (*resolver.Descriptor, error) {
	if strings.TrimSpace(version) == "" {
		version = LatestVersion
	}
	var (
		primary  schema.Schema
		resolved string
		err      error
	)
	if f.baseURL != "" {
		primary, resolved, err = f.remoteDescriptor(ctx, itemID, version)
	} else {
		primary, resolved, err = f.localDescriptor(itemID, version)
	}
	if err != nil {
		return nil, err
	}
	return resolver.NewDescriptor(itemID, resolved, primary.WithTriggerFallback(f.triggerField))
}

type descriptorPayload struct {
	Version  string          `json:"version"`
	Manifest bundle.Manifest `json:"manifest"`
	Schema   json.RawMessage `json:"schema"`
}

func (f *Fetcher) remoteDescriptor(ctx context.Context, itemID, version string) (schema.Schema, string, error) {
	endpoint := f.baseURL + "/catalog/" + url.PathEscape(itemID) + "/" + url.PathEscape(version) + "/descriptor"
	data, err := loadHTTP(ctx, f.loader.http, endpoint, f.timeout)
	if err != nil {
		return schema.Schema{}, "", err
	}

	var payload descriptorPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return schema.Schema{}, "", fmt.Errorf("fetch: decode descriptor: %w", err)
	}
	primary, err := schema.Parse(payload.Schema)
	if err != nil {
		return schema.Schema{}, "", err
	}

	resolved := version
	switch {
	case payload.Version != "":
		resolved = payload.Version
	case payload.Manifest.Version != "":
		resolved = payload.Manifest.Version
	}
	return primary, resolved, nil
}

func (f *Fetcher) localDescriptor(itemID, version string) (schema.Schema, string, error) {
	if version == LatestVersion {
		latest, err := f.latestLocal(itemID)
		if err != nil {
			return schema.Schema{}, "", err
		}
		version = latest
	}
	for _, dir := range []string{path.Join(itemID, version), itemID} {
		primary, err := bundle.ReadPrimary(f.fsys, dir)
		if errors.Is(err, bundle.ErrNoSchema) {
			continue
		}
		if err != nil {
			return schema.Schema{}, "", err
		}
		return primary, version, nil
	}
	return schema.Schema{}, "", fmt.Errorf("fetch: descriptor %s@%s: %w", itemID, version, fs.ErrNotExist)
}

// latestLocal prefers the manifest version of a flat bundle and falls back
// to the last version directory in lexical order.
func (f *Fetcher) latestLocal(itemID string) (string, error) {
	if manifest, err := bundle.ReadManifest(f.fsys, itemID); err == nil && manifest.Version != "" {
		return manifest.Version, nil
	}
	entries, err := fs.ReadDir(f.fsys, itemID)
	if err != nil {
		return "", fmt.Errorf("fetch: list versions of %s: %w", itemID, err)
	}
	var versions []string
	for _, entry := range entries {
		if entry.IsDir() {
			versions = append(versions, entry.Name())
		}
	}
	if len(versions) == 0 {
		return "", fmt.Errorf("fetch: no versions for %s: %w", itemID, fs.ErrNotExist)
	}
	sort.Strings(versions)
	return versions[len(versions)-1], nil
}

func (f *Fetcher) endpoint(itemID, version string, segments ...string) string {
	parts := []string{f.baseURL, "catalog", url.PathEscape(itemID), url.PathEscape(version)}
	for _, segment := range segments {
		parts = append(parts, url.PathEscape(segment))
	}
	return strings.Join(parts, "/")
}

func (f *Fetcher) candidates(itemID, version, ref string) []string {
	return []string{
		path.Join(itemID, version, ref),
		path.Join(itemID, ref),
	}
}
