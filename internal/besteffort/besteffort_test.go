package besteffort

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/goodtune/dtxcloud/internal/metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
)

func TestRunner_Success(t *testing.T) {
	runner := New(zerolog.Nop())
	before := testutil.ToFloat64(metrics.BestEffortFailuresTotal.WithLabelValues("test_success"))

	called := false
	ok := runner.Do(context.Background(), "test_success", nil, func(ctx context.Context) error {
		called = true
		return nil
	})

	if !ok || !called {
		t.Errorf("Expected fn to run and succeed, ok=%v called=%v", ok, called)
	}
	after := testutil.ToFloat64(metrics.BestEffortFailuresTotal.WithLabelValues("test_success"))
	if after != before {
		t.Errorf("Expected failure counter unchanged, got %v -> %v", before, after)
	}
}

func TestRunner_FailureIsObserved(t *testing.T) {
	var buf bytes.Buffer
	runner := New(zerolog.New(&buf))
	before := testutil.ToFloat64(metrics.BestEffortFailuresTotal.WithLabelValues("test_failure"))

	ok := runner.Do(context.Background(), "test_failure", map[string]any{"date": "2026-01-01"}, func(ctx context.Context) error {
		return errors.New("boom")
	})

	if ok {
		t.Error("Expected Do to report failure")
	}
	after := testutil.ToFloat64(metrics.BestEffortFailuresTotal.WithLabelValues("test_failure"))
	if after != before+1 {
		t.Errorf("Expected failure counter to increase by 1, got %v -> %v", before, after)
	}

	logged := buf.String()
	for _, want := range []string{`"operation":"test_failure"`, `"date":"2026-01-01"`, `"error":"boom"`} {
		if !strings.Contains(logged, want) {
			t.Errorf("Expected log to contain %s, got %s", want, logged)
		}
	}
}

func TestRunner_PanicIsRecovered(t *testing.T) {
	runner := New(zerolog.Nop())
	before := testutil.ToFloat64(metrics.BestEffortFailuresTotal.WithLabelValues("test_panic"))

	ok := runner.Do(context.Background(), "test_panic", nil, func(ctx context.Context) error {
		panic("nil map")
	})

	if ok {
		t.Error("Expected Do to report failure after panic")
	}
	if got := testutil.ToFloat64(metrics.BestEffortFailuresTotal.WithLabelValues("test_panic")); got != before+1 {
		t.Errorf("Expected failure counter to increase by 1, got %v", got)
	}
}
