package observability

import (
	"log/slog"
	"os"
	"testing"

	"github.com/lexpipe/lexpipe/internal/config"
	dto "github.com/prometheus/client_model/go"
)

var testLogger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

func TestNewLoggerDefaultsToInfoTextStderr(t *testing.T) {
	logger, err := NewLogger(config.LoggingConfig{})
	if err != nil {
		t.Fatalf("NewLogger error: %v", err)
	}
	if logger == nil {
		t.Fatal("expected non-nil logger")
	}
}

func TestNewLoggerJSONFormat(t *testing.T) {
	logger, err := NewLogger(config.LoggingConfig{Level: "debug", Format: "json", Output: "stdout"})
	if err != nil {
		t.Fatalf("NewLogger error: %v", err)
	}
	if logger == nil {
		t.Fatal("expected non-nil logger")
	}
}

func TestParseLevelCaseInsensitive(t *testing.T) {
	cases := map[string]slog.Level{
		"DEBUG": slog.LevelDebug,
		"warn":  slog.LevelWarn,
		"ERROR": slog.LevelError,
		"":      slog.LevelInfo,
		"bogus": slog.LevelInfo,
	}
	for input, want := range cases {
		if got := parseLevel(input); got != want {
			t.Errorf("parseLevel(%q) = %v, want %v", input, got, want)
		}
	}
}

func TestRecordOutcomeIncrementsCounter(t *testing.T) {
	m := NewMetrics(testLogger)
	m.RecordOutcome("extraction", "succeeded")
	m.RecordOutcome("extraction", "succeeded")
	m.RecordOutcome("extraction", "failed")

	metric := &dto.Metric{}
	if err := m.SectionsFetched.WithLabelValues("extraction", "succeeded").Write(metric); err != nil {
		t.Fatalf("write metric: %v", err)
	}
	if got := metric.GetCounter().GetValue(); got != 2 {
		t.Errorf("expected 2 succeeded outcomes, got %v", got)
	}
}

func TestRecordFailureIncrementsCounter(t *testing.T) {
	m := NewMetrics(testLogger)
	m.RecordFailure("timeout")

	metric := &dto.Metric{}
	if err := m.FailuresLogged.WithLabelValues("timeout").Write(metric); err != nil {
		t.Fatalf("write metric: %v", err)
	}
	if got := metric.GetCounter().GetValue(); got != 1 {
		t.Errorf("expected 1 failure logged, got %v", got)
	}
}
