package resolver_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/goliatone/go-catalogform/pkg/errchan"
	"github.com/goliatone/go-catalogform/pkg/resolver"
	"github.com/goliatone/go-catalogform/pkg/schema"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const primaryJSON = `{
  "type": "object",
  "required": ["client"],
  "properties": {
    "client": { "type": "string" },
    "action": { "type": "string" }
  },
  "x-schema-map": {
    "a": "a.json",
    "b": "b.json"
  }
}`

type fetchResult struct {
	schema schema.Schema
	err    error
}

// gatedFetcher blocks every fetch until the test releases it. Fetches ignore
// cancellation unless honorCancel is set, so late results can be simulated.
type gatedFetcher struct {
	honorCancel bool

	mu    sync.Mutex
	gates map[string]chan fetchResult
	calls []string
}

func newGatedFetcher() *gatedFetcher {
	return &gatedFetcher{gates: make(map[string]chan fetchResult)}
}

func (f *gatedFetcher) gate(ref string) chan fetchResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	gate, ok := f.gates[ref]
	if !ok {
		gate = make(chan fetchResult, 1)
		f.gates[ref] = gate
	}
	return gate
}

func (f *gatedFetcher) FetchSchema(ctx context.Context, _, _ string, ref string) (schema.Schema, error) {
	f.mu.Lock()
	f.calls = append(f.calls, ref)
	f.mu.Unlock()

	gate := f.gate(ref)
	if f.honorCancel {
		select {
		case res := <-gate:
			return res.schema, res.err
		case <-ctx.Done():
			return schema.Schema{}, ctx.Err()
		}
	}
	res := <-gate
	return res.schema, res.err
}

func (f *gatedFetcher) release(ref string, s schema.Schema, err error) {
	f.gate(ref) <- fetchResult{schema: s, err: err}
}

func (f *gatedFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func secondarySchema(title string) schema.Schema {
	return schema.MustParse(`{"type":"object","title":"` + title + `","properties":{"device_ip":{"type":"string"}}}`)
}

func newDescriptor(t *testing.T) *resolver.Descriptor {
	t.Helper()
	desc, err := resolver.NewDescriptor("backup-config", "1.0.0", schema.MustParse(primaryJSON))
	require.NoError(t, err)
	return desc
}

func wait(t *testing.T, p *resolver.Pending) resolver.Outcome {
	t.Helper()
	require.NotNil(t, p)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	outcome, _ := p.Wait(ctx)
	require.NotEqual(t, resolver.OutcomeRunning, outcome, "fetch did not complete")
	return outcome
}

func TestResolve_InstallsSecondarySchema(t *testing.T) {
	fetcher := newGatedFetcher()
	installs := 0
	r := resolver.New(fetcher, resolver.WithOnInstall(func(resolver.Resolved) { installs++ }))
	defer r.Close()
	desc := newDescriptor(t)

	state, pending := r.Resolve(context.Background(), desc, map[string]any{"action": "a"})
	require.False(t, state.HasSecondary())
	require.Equal(t, "a", pending.Trigger())
	require.Equal(t, "a.json", pending.Ref())

	fetcher.release("a.json", secondarySchema("A"), nil)
	require.Equal(t, resolver.OutcomeApplied, wait(t, pending))

	state = r.State()
	require.True(t, state.HasSecondary())
	require.Equal(t, "a", state.Secondary.LoadedFor)
	require.Equal(t, "A", state.Secondary.Schema.Title())
	require.Equal(t, 1, installs)
}

func TestResolve_SameTriggerDoesNotRefetch(t *testing.T) {
	fetcher := newGatedFetcher()
	r := resolver.New(fetcher)
	defer r.Close()
	desc := newDescriptor(t)

	_, first := r.Resolve(context.Background(), desc, map[string]any{"action": "a"})
	_, second := r.Resolve(context.Background(), desc, map[string]any{"action": "a", "client": "acme"})
	require.Same(t, first, second)

	fetcher.release("a.json", secondarySchema("A"), nil)
	wait(t, first)

	_, third := r.Resolve(context.Background(), desc, map[string]any{"action": "a"})
	require.Nil(t, third)
	require.Equal(t, 1, fetcher.callCount())
}

func TestResolve_LateResultAfterNewerResultIsDiscarded(t *testing.T) {
	fetcher := newGatedFetcher()
	r := resolver.New(fetcher)
	defer r.Close()
	desc := newDescriptor(t)

	_, pendingA := r.Resolve(context.Background(), desc, map[string]any{"action": "a"})
	_, pendingB := r.Resolve(context.Background(), desc, map[string]any{"action": "b"})

	fetcher.release("b.json", secondarySchema("B"), nil)
	require.Equal(t, resolver.OutcomeApplied, wait(t, pendingB))

	fetcher.release("a.json", secondarySchema("A"), nil)
	require.Equal(t, resolver.OutcomeStale, wait(t, pendingA))

	state := r.State()
	require.True(t, state.HasSecondary())
	require.Equal(t, "b", state.Secondary.LoadedFor)
	require.Equal(t, "B", state.Secondary.Schema.Title())
}

func TestResolve_LateResultBeforeNewerResultIsDiscarded(t *testing.T) {
	fetcher := newGatedFetcher()
	r := resolver.New(fetcher)
	defer r.Close()
	desc := newDescriptor(t)

	_, pendingA := r.Resolve(context.Background(), desc, map[string]any{"action": "a"})
	_, pendingB := r.Resolve(context.Background(), desc, map[string]any{"action": "b"})

	fetcher.release("a.json", secondarySchema("A"), nil)
	require.Equal(t, resolver.OutcomeStale, wait(t, pendingA))
	require.False(t, r.State().HasSecondary())

	fetcher.release("b.json", secondarySchema("B"), nil)
	require.Equal(t, resolver.OutcomeApplied, wait(t, pendingB))
	require.Equal(t, "b", r.State().Secondary.LoadedFor)
}

func TestResolve_SupersededFetchIsCancelled(t *testing.T) {
	fetcher := newGatedFetcher()
	fetcher.honorCancel = true
	collector := errchan.NewCollector()
	r := resolver.New(fetcher, resolver.WithSink(collector))
	defer r.Close()
	desc := newDescriptor(t)

	_, pendingA := r.Resolve(context.Background(), desc, map[string]any{"action": "a"})
	_, pendingB := r.Resolve(context.Background(), desc, map[string]any{"action": "b"})

	require.Equal(t, resolver.OutcomeStale, wait(t, pendingA))
	require.ErrorIs(t, pendingA.Err(), context.Canceled)
	require.Empty(t, collector.Events(), "stale failures must not be reported")

	fetcher.release("b.json", secondarySchema("B"), nil)
	require.Equal(t, resolver.OutcomeApplied, wait(t, pendingB))
}

func TestResolve_UnmappedTriggerKeepsInstalledSchema(t *testing.T) {
	fetcher := newGatedFetcher()
	r := resolver.New(fetcher)
	defer r.Close()
	desc := newDescriptor(t)

	_, pending := r.Resolve(context.Background(), desc, map[string]any{"action": "a"})
	fetcher.release("a.json", secondarySchema("A"), nil)
	wait(t, pending)

	state, next := r.Resolve(context.Background(), desc, map[string]any{"action": "a-typing"})
	require.Nil(t, next)
	require.True(t, state.HasSecondary())
	require.Equal(t, "a", state.Secondary.LoadedFor)
}

func TestResolve_EmptyTriggerClearsSchema(t *testing.T) {
	fetcher := newGatedFetcher()
	r := resolver.New(fetcher)
	defer r.Close()
	desc := newDescriptor(t)

	_, pending := r.Resolve(context.Background(), desc, map[string]any{"action": "a"})
	fetcher.release("a.json", secondarySchema("A"), nil)
	wait(t, pending)

	for _, primary := range []map[string]any{{"action": ""}, {}, {"action": nil}, {"action": float64(0)}, {"action": false}} {
		state, next := r.Resolve(context.Background(), desc, primary)
		require.Nil(t, next)
		require.False(t, state.HasSecondary())
	}
}

func TestResolve_NoSchemaMapNeverFetches(t *testing.T) {
	fetcher := newGatedFetcher()
	r := resolver.New(fetcher)
	defer r.Close()

	desc, err := resolver.NewDescriptor("plain", "1.0.0", schema.MustParse(`{"type":"object","properties":{"action":{"type":"string"}}}`))
	require.NoError(t, err)

	state, pending := r.Resolve(context.Background(), desc, map[string]any{"action": "a"})
	require.Nil(t, pending)
	require.False(t, state.HasSecondary())
	require.Zero(t, fetcher.callCount())
}

func TestResolve_FailureKeepsPriorStateAndReports(t *testing.T) {
	fetcher := newGatedFetcher()
	collector := errchan.NewCollector()
	r := resolver.New(fetcher, resolver.WithSink(collector))
	defer r.Close()
	desc := newDescriptor(t)

	_, pending := r.Resolve(context.Background(), desc, map[string]any{"action": "a"})
	fetcher.release("a.json", secondarySchema("A"), nil)
	wait(t, pending)

	boom := errors.New("HTTP 500")
	_, pending = r.Resolve(context.Background(), desc, map[string]any{"action": "b"})
	fetcher.release("b.json", schema.Schema{}, boom)
	require.Equal(t, resolver.OutcomeFailed, wait(t, pending))

	state := r.State()
	require.True(t, state.HasSecondary())
	require.Equal(t, "a", state.Secondary.LoadedFor)

	events := collector.Events()
	require.Len(t, events, 1)
	require.Equal(t, errchan.KindResolution, events[0].Kind)
	var resErr *resolver.ResolutionError
	require.ErrorAs(t, events[0].Err, &resErr)
	require.Equal(t, "b", resErr.Trigger)
	require.ErrorIs(t, events[0].Err, boom)
}

func TestResolve_NewDescriptorResetsState(t *testing.T) {
	fetcher := newGatedFetcher()
	resets := 0
	r := resolver.New(fetcher, resolver.WithOnReset(func(*resolver.Descriptor) { resets++ }))
	defer r.Close()
	first := newDescriptor(t)

	_, pending := r.Resolve(context.Background(), first, map[string]any{"action": "a"})
	fetcher.release("a.json", secondarySchema("A"), nil)
	wait(t, pending)
	require.True(t, r.State().HasSecondary())

	_, inflight := r.Resolve(context.Background(), first, map[string]any{"action": "b"})

	// Equal fields, new instance: still a new session.
	second := newDescriptor(t)
	state := r.Reset(second)
	require.False(t, state.HasSecondary())
	require.Same(t, second, state.Descriptor)

	fetcher.release("b.json", secondarySchema("B"), nil)
	require.Equal(t, resolver.OutcomeStale, wait(t, inflight))
	require.False(t, r.State().HasSecondary())
	require.Equal(t, 2, resets)
}

func TestResolve_HangingFetchDoesNotBlock(t *testing.T) {
	fetcher := newGatedFetcher()
	fetcher.honorCancel = true
	r := resolver.New(fetcher)
	desc := newDescriptor(t)

	_, pending := r.Resolve(context.Background(), desc, map[string]any{"action": "a"})
	require.NotNil(t, pending)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = r.State()
		r.Resolve(context.Background(), desc, map[string]any{"action": "a", "client": "acme"})
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("resolver blocked on a hanging fetch")
	}

	r.Close()
	require.Equal(t, resolver.OutcomeStale, wait(t, pending))
}

func TestNewDescriptor_Validation(t *testing.T) {
	_, err := resolver.NewDescriptor("", "1.0.0", schema.MustParse(primaryJSON))
	require.Error(t, err)
	_, err = resolver.NewDescriptor("item", " ", schema.MustParse(primaryJSON))
	require.Error(t, err)
	_, err = resolver.NewDescriptor("item", "1.0.0", schema.Schema{})
	require.Error(t, err)
}

func TestResetIfCurrent(t *testing.T) {
	fetcher := newGatedFetcher()
	r := resolver.New(fetcher)
	defer r.Close()
	first := newDescriptor(t)

	_, pending := r.Resolve(context.Background(), first, map[string]any{"action": "a"})
	fetcher.release("a.json", secondarySchema("A"), nil)
	wait(t, pending)

	second := newDescriptor(t)
	require.False(t, r.ResetIfCurrent(second))
	require.True(t, r.State().HasSecondary())

	require.True(t, r.ResetIfCurrent(first))
	require.False(t, r.State().HasSecondary())
	require.Same(t, first, r.State().Descriptor)
}

func TestTriggerValue(t *testing.T) {
	cases := []struct {
		in   any
		want string
	}{
		{in: "backup", want: "backup"},
		{in: "", want: ""},
		{in: nil, want: ""},
		{in: true, want: "true"},
		{in: false, want: ""},
		{in: float64(2), want: "2"},
		{in: 1.5, want: "1.5"},
		{in: float64(0), want: ""},
		{in: 0, want: ""},
		{in: 7, want: "7"},
		{in: []any{"a"}, want: ""},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, resolver.TriggerValue(tc.in), "TriggerValue(%#v)", tc.in)
	}
}
