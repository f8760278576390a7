// Package catalogform wires the form engine to the adapters selected by a
// configuration file: the portal API, a local catalog tree or the SQLite
// catalog store.
package catalogform

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/goliatone/go-catalogform/internal/catalogstore"
	"github.com/goliatone/go-catalogform/internal/fetch"
	"github.com/goliatone/go-catalogform/internal/jobs"
	"github.com/goliatone/go-catalogform/pkg/buffer"
	"github.com/goliatone/go-catalogform/pkg/config"
	"github.com/goliatone/go-catalogform/pkg/resolver"
	"github.com/goliatone/go-catalogform/pkg/schema"
	"github.com/goliatone/go-catalogform/pkg/session"
	"github.com/goliatone/go-catalogform/pkg/submission"
	"github.com/goliatone/go-catalogform/pkg/validation"
)

// Descriptor is the session scope: item, version and primary schema.
type Descriptor = resolver.Descriptor

// Session aliases session.Session for callers of the top-level package.
type Session = session.Session

// DescriptorSource loads descriptors by item and version. Version may be
// empty or "latest".
type DescriptorSource interface {
	Descriptor(ctx context.Context, itemID, version string) (*resolver.Descriptor, error)
}

// BackendKind names the adapter serving schemas.
type BackendKind string

const (
	BackendAPI   BackendKind = "api"
	BackendDir   BackendKind = "dir"
	BackendStore BackendKind = "store"
)

// Backend bundles the fetcher, descriptor source and submitter selected by a
// configuration.
type Backend struct {
	kind        BackendKind
	cfg         *config.Config
	logger      *zap.Logger
	fetcher     resolver.Fetcher
	descriptors DescriptorSource
	submitter   submission.Submitter
	store       *catalogstore.Store
}

// OpenBackend selects the schema source by precedence: api_base_url, then
// catalog_dir, then the catalog store. Jobs are submitted to api_base_url;
// without it sessions validate but Execute fails with
// submission.ErrNoSubmitter.
func OpenBackend(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Backend, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	b := &Backend{cfg: cfg, logger: logger}
	switch {
	case cfg.APIBaseURL != "":
		f, err := fetch.New(
			fetch.WithBaseURL(cfg.APIBaseURL),
			fetch.WithTimeout(cfg.Timeout()),
			fetch.WithTriggerField(cfg.DefaultTriggerField),
			fetch.WithLogger(logger.Named("fetch")),
		)
		if err != nil {
			return nil, err
		}
		b.kind, b.fetcher, b.descriptors = BackendAPI, f, f
	case cfg.CatalogDir != "":
		f, err := fetch.New(
			fetch.WithDir(cfg.CatalogDir),
			fetch.WithTriggerField(cfg.DefaultTriggerField),
			fetch.WithLogger(logger.Named("fetch")),
		)
		if err != nil {
			return nil, err
		}
		b.kind, b.fetcher, b.descriptors = BackendDir, f, f
	default:
		store, err := OpenStore(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		b.kind, b.fetcher, b.descriptors, b.store = BackendStore, store, store, store
	}

	if cfg.APIBaseURL != "" {
		client, err := jobs.New(cfg.APIBaseURL,
			jobs.WithTimeout(cfg.Timeout()),
			jobs.WithLogger(logger.Named("jobs")),
		)
		if err != nil {
			_ = b.Close()
			return nil, err
		}
		b.submitter = client
	}

	logger.Debug("backend opened", zap.String("kind", string(b.kind)))
	return b, nil
}

// OpenStore opens the catalog store named by cfg.
func OpenStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*catalogstore.Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	return catalogstore.Open(ctx, cfg.StorePath,
		catalogstore.WithTriggerField(cfg.DefaultTriggerField),
		catalogstore.WithLogger(logger.Named("store")),
	)
}

// Kind reports which adapter serves schemas.
func (b *Backend) Kind() BackendKind { return b.kind }

// Fetcher returns the secondary schema fetcher.
func (b *Backend) Fetcher() resolver.Fetcher { return b.fetcher }

// Submitter returns the job submitter, or nil without an API.
func (b *Backend) Submitter() submission.Submitter { return b.submitter }

// Descriptor loads the descriptor of item@version.
func (b *Backend) Descriptor(ctx context.Context, itemID, version string) (*Descriptor, error) {
	return b.descriptors.Descriptor(ctx, itemID, version)
}

// NewSession opens a session scoped to item@version.
func (b *Backend) NewSession(ctx context.Context, itemID, version string, opts ...session.Option) (*Session, error) {
	desc, err := b.Descriptor(ctx, itemID, version)
	if err != nil {
		return nil, err
	}
	base := []session.Option{
		session.WithLogger(b.logger),
		session.WithValidationOptions(validation.WithEmptyAsMissing(b.cfg.TreatEmptyAsMissing())),
	}
	s := session.New(b.fetcher, b.submitter, append(base, opts...)...)
	s.SetDescriptor(desc)
	return s, nil
}

// Check validates a complete document against item@version without
// submitting it. The secondary schema is chosen by the document's trigger
// field and receives the document keys it declares.
func (b *Backend) Check(ctx context.Context, itemID, version string, doc buffer.Values) (validation.Result, error) {
	desc, err := b.Descriptor(ctx, itemID, version)
	if err != nil {
		return validation.Result{}, err
	}
	return Check(ctx, b.fetcher, desc, doc, validation.WithEmptyAsMissing(b.cfg.TreatEmptyAsMissing()))
}

// Check validates doc against the descriptor's primary schema and the
// secondary schema its trigger field selects.
func Check(ctx context.Context, fetcher resolver.Fetcher, desc *Descriptor, doc buffer.Values, opts ...validation.Option) (validation.Result, error) {
	if desc == nil {
		return validation.Result{}, session.ErrNoDescriptor
	}
	primary := desc.Primary()
	validator := validation.New(opts...)

	trigger := resolver.TriggerValue(doc[primary.TriggerField()])
	ref, ok := primary.SchemaMap().Lookup(trigger)
	if !ok {
		return validator.Validate(doc, primary, nil, nil), nil
	}
	if fetcher == nil {
		return validation.Result{}, errors.New("catalogform: a fetcher is required to resolve secondary schemas")
	}
	secondary, err := fetcher.FetchSchema(ctx, desc.ItemID(), desc.Version(), ref)
	if err != nil {
		return validation.Result{}, &resolver.ResolutionError{ItemID: desc.ItemID(), Version: desc.Version(), Trigger: trigger, Ref: ref, Err: err}
	}

	return validator.Validate(doc, primary, SecondaryValues(doc, secondary), &secondary), nil
}

// SecondaryValues picks the top-level keys of doc declared by secondary.
func SecondaryValues(doc buffer.Values, secondary schema.Schema) buffer.Values {
	out := buffer.Values{}
	for key, value := range doc {
		if secondary.HasProperty(key) {
			out[key] = value
		}
	}
	return out
}

// LoadSchema loads a schema from a file path or http(s) URL.
func LoadSchema(ctx context.Context, location string, cfg *config.Config) (schema.Schema, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	src, err := schema.ParseSource(location)
	if err != nil {
		return schema.Schema{}, err
	}
	loader := fetch.NewLoader(fetch.LoaderOptions{
		AllowHTTP:      true,
		RequestTimeout: cfg.Timeout(),
	})
	s, err := loader.LoadSchema(ctx, src)
	if err != nil {
		return schema.Schema{}, fmt.Errorf("catalogform: load %s: %w", location, err)
	}
	return s.WithTriggerFallback(cfg.DefaultTriggerField), nil
}

// Close releases the catalog store, if one was opened.
func (b *Backend) Close() error {
	if b.store == nil {
		return nil
	}
	return b.store.Close()
}
