package errchan_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/goliatone/go-catalogform/pkg/errchan"
)

func TestSanitizeStripsMarkup(t *testing.T) {
	collector := errchan.NewCollector()
	sink := errchan.Sanitize(collector)

	sink.Report(context.Background(), errchan.Event{
		Kind:    errchan.KindResolution,
		Message: `load <b>backup</b> schema<script>alert(1)</script>`,
	})

	want := []string{"load backup schema"}
	if diff := cmp.Diff(want, collector.Messages()); diff != "" {
		t.Fatalf("messages mismatch (-want +got):\n%s", diff)
	}
	if collector.Events()[0].At.IsZero() {
		t.Fatalf("expected timestamp to be filled")
	}
}

func TestMultiAndDrain(t *testing.T) {
	a, b := errchan.NewCollector(), errchan.NewCollector()
	sink := errchan.Multi(a, nil, b)
	sink.Report(context.Background(), errchan.Event{Kind: errchan.KindSubmission, Message: "boom"})

	if len(a.Drain()) != 1 || len(b.Events()) != 1 {
		t.Fatalf("expected event in both collectors")
	}
	if len(a.Events()) != 0 {
		t.Fatalf("drain must clear the collector")
	}
}

func TestLoggerSink(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	sink := errchan.NewLogger(zap.New(core))

	sink.Report(context.Background(), errchan.Event{
		Kind:    errchan.KindResolution,
		Message: "could not load schema",
		Err:     errors.New("HTTP 404"),
	})

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected one log entry, got %d", len(entries))
	}
	ctx := entries[0].ContextMap()
	if ctx["kind"] != "resolution" || ctx["error"] != "HTTP 404" {
		t.Fatalf("unexpected log context %#v", ctx)
	}
}
