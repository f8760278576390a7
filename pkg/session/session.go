package session

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/goliatone/go-catalogform/pkg/buffer"
	"github.com/goliatone/go-catalogform/pkg/errchan"
	"github.com/goliatone/go-catalogform/pkg/resolver"
	"github.com/goliatone/go-catalogform/pkg/submission"
	"github.com/goliatone/go-catalogform/pkg/validation"
)

// Descriptor is the (item, version, primary schema) tuple scoping a session.
type Descriptor = resolver.Descriptor

// NewDescriptor validates and builds a descriptor.
var NewDescriptor = resolver.NewDescriptor

// ErrNoDescriptor is returned by buffer edits made before SetDescriptor.
var ErrNoDescriptor = errors.New("session: no descriptor is active")

// Option customises a Session.
type Option func(*options)

type options struct {
	id         string
	logger     *zap.Logger
	sink       errchan.Sink
	validation []validation.Option
}

// WithID overrides the generated session id.
func WithID(id string) Option {
	return func(o *options) {
		if id != "" {
			o.id = id
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithSink adds a consumer for resolution and submission failures. Events
// are sanitised and logged before they reach it.
func WithSink(sink errchan.Sink) Option {
	return func(o *options) {
		o.sink = sink
	}
}

// WithValidationOptions configures the cross-schema validator.
func WithValidationOptions(opts ...validation.Option) Option {
	return func(o *options) {
		o.validation = append(o.validation, opts...)
	}
}

// Snapshot is a point-in-time view of a session.
type Snapshot struct {
	ID         string
	Descriptor *Descriptor
	Resolver   resolver.State
	Primary    buffer.Values
	Secondary  buffer.Values
	Submission submission.State
	Errors     validation.Result
}

// Session owns the components of one configuration session.
type Session struct {
	id         string
	logger     *zap.Logger
	buffers    *buffer.Manager
	resolver   *resolver.Resolver
	controller *submission.Controller

	mu sync.Mutex
}

// New constructs a session backed by the given fetcher and submitter.
func New(fetcher resolver.Fetcher, submitter submission.Submitter, opts ...Option) *Session {
	cfg := options{logger: zap.NewNop()}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&cfg)
	}
	if cfg.id == "" {
		cfg.id = uuid.NewString()
	}

	logger := cfg.logger.With(zap.String("session", cfg.id))
	sink := errchan.Sanitize(errchan.Multi(errchan.NewLogger(logger), cfg.sink))
	buffers := buffer.NewManager()

	s := &Session{
		id:      cfg.id,
		logger:  logger,
		buffers: buffers,
	}
	s.resolver = resolver.New(fetcher,
		resolver.WithLogger(logger.Named("resolver")),
		resolver.WithSink(sink),
		resolver.WithOnInstall(func(resolver.Resolved) {
			buffers.ResetSecondary()
		}),
		resolver.WithOnReset(func(*resolver.Descriptor) {
			buffers.Reset()
		}),
	)
	s.controller = submission.New(s.resolver, buffers, submitter,
		submission.WithLogger(logger.Named("submission")),
		submission.WithSink(sink),
		submission.WithValidator(validation.New(cfg.validation...)),
	)
	return s
}

// ID returns the session id.
func (s *Session) ID() string {
	return s.id
}

// SetDescriptor scopes the session to desc, discarding the secondary
// schema, both buffers and published errors.
func (s *Session) SetDescriptor(desc *Descriptor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.controller.Reset()
	s.resolver.Reset(desc)
	if desc != nil {
		s.logger.Debug("descriptor set",
			zap.String("item", desc.ItemID()),
			zap.String("version", desc.Version()),
		)
	}
}

// Descriptor returns the active descriptor.
func (s *Session) Descriptor() *Descriptor {
	return s.resolver.State().Descriptor
}

// OnPrimaryChange commits v as the primary buffer and then re-evaluates the
// trigger field. The returned Pending is non-nil while a secondary schema
// fetch for the current trigger value is running.
func (s *Session) OnPrimaryChange(ctx context.Context, v buffer.Values) (*resolver.Pending, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.buffers.OnPrimaryChange(v); err != nil {
		return nil, err
	}
	return s.resolveLocked(ctx)
}

// SetPrimaryValue writes one dotted path of the primary buffer and
// re-evaluates the trigger field.
func (s *Session) SetPrimaryValue(ctx context.Context, path string, value any) (*resolver.Pending, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.buffers.SetPrimaryValue(path, value); err != nil {
		return nil, err
	}
	return s.resolveLocked(ctx)
}

// OnSecondaryChange commits v as the secondary buffer.
func (s *Session) OnSecondaryChange(v buffer.Values) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buffers.OnSecondaryChange(v)
}

// SetSecondaryValue writes one dotted path of the secondary buffer.
func (s *Session) SetSecondaryValue(path string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.buffers.SetSecondaryValue(path, value)
	return err
}

func (s *Session) resolveLocked(ctx context.Context) (*resolver.Pending, error) {
	desc := s.resolver.State().Descriptor
	if desc == nil {
		return nil, ErrNoDescriptor
	}
	_, pending := s.resolver.Resolve(ctx, desc, s.buffers.Primary())
	return pending, nil
}

// Execute validates and submits the session. After a successful submission
// all state is discarded unless the descriptor was replaced meanwhile.
func (s *Session) Execute(ctx context.Context) (submission.Outcome, error) {
	outcome, err := s.controller.Execute(ctx)
	if err != nil || outcome.State != submission.StateSubmitted {
		return outcome, err
	}
	if s.resolver.ResetIfCurrent(outcome.Descriptor) {
		s.logger.Debug("session cleared after submission", zap.String("job_id", outcome.Receipt.JobID))
	}
	return outcome, nil
}

// State returns a snapshot of the session.
func (s *Session) State() Snapshot {
	snap := Snapshot{
		ID:         s.id,
		Submission: s.controller.State(),
		Errors:     s.controller.Errors(),
	}
	s.resolver.View(func(state resolver.State) {
		snap.Resolver = state
		snap.Descriptor = state.Descriptor
		snap.Primary = s.buffers.Primary()
		snap.Secondary = s.buffers.Secondary()
	})
	return snap
}

// Close abandons in-flight fetches and waits for them to exit.
func (s *Session) Close() {
	s.resolver.Close()
}
