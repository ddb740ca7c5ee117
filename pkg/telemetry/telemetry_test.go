package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/openfroyo/cookbot/pkg/engine"
	"github.com/openfroyo/cookbot/pkg/stack"
)

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr string
	}{
		{name: "defaults", modify: func(*Config) {}},
		{
			name:    "no service name",
			modify:  func(c *Config) { c.ServiceName = "" },
			wantErr: "service name is required",
		},
		{
			name:    "bad level",
			modify:  func(c *Config) { c.Logging.Level = "loud" },
			wantErr: "invalid log level",
		},
		{
			name:    "bad format",
			modify:  func(c *Config) { c.Logging.Format = "xml" },
			wantErr: "invalid log format",
		},
		{
			name: "bad exporter",
			modify: func(c *Config) {
				c.Tracing.Enabled = true
				c.Tracing.Exporter = "jaeger"
			},
			wantErr: "invalid trace exporter",
		},
		{
			name: "disabled tracing ignores exporter",
			modify: func(c *Config) {
				c.Tracing.Exporter = "jaeger"
			},
		},
		{
			name: "otlp without endpoint",
			modify: func(c *Config) {
				c.Tracing.Enabled = true
				c.Tracing.Exporter = "otlp"
				c.Tracing.Endpoint = ""
			},
			wantErr: "endpoint is required",
		},
		{
			name:    "sampling rate out of range",
			modify:  func(c *Config) { c.Tracing.SamplingRate = 1.5 },
			wantErr: "sampling rate",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Expected valid config, got: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Expected error containing %q, got: %v", tt.wantErr, err)
			}
		})
	}
}

func TestNewLoggerTo(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLoggerTo(&buf, LoggingConfig{Level: "warn", Format: "json"})
	if err != nil {
		t.Fatalf("NewLoggerTo failed: %v", err)
	}

	logger.Info().Msg("dropped")
	walker := Component(logger, "walker")
	walker.Warn().Str("recipe", "web").Msg("kept")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("Expected 1 log line, got: %q", buf.String())
	}

	var entry map[string]interface{}
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("Expected JSON log line, got: %v", err)
	}
	for key, want := range map[string]string{
		"level":     "warn",
		"message":   "kept",
		"component": "walker",
		"recipe":    "web",
	} {
		if entry[key] != want {
			t.Errorf("Expected %s=%q, got: %v", key, want, entry[key])
		}
	}
}

func TestParseLevel(t *testing.T) {
	if l, err := ParseLevel(""); err != nil || l != zerolog.InfoLevel {
		t.Errorf("Expected info for empty level, got: %v, %v", l, err)
	}
	if l, err := ParseLevel("debug"); err != nil || l != zerolog.DebugLevel {
		t.Errorf("Expected debug, got: %v, %v", l, err)
	}
	if _, err := ParseLevel("verbose"); err == nil {
		t.Errorf("Expected error for unknown level")
	}
}

// instrumented runs root with an Instrumentation recording into fresh
// metrics and an in-memory span recorder.
func instrumented(t *testing.T, root engine.Recipe, command string) (*Metrics, *tracetest.SpanRecorder, error) {
	t.Helper()

	metrics, err := NewMetrics(DefaultConfig().Metrics)
	if err != nil {
		t.Fatalf("NewMetrics failed: %v", err)
	}

	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	obs := NewInstrumentation(zerolog.Nop(), metrics, NewTracerWithProvider(provider))
	walker := engine.NewWalker(engine.WithLogger(zerolog.Nop()), engine.WithObserver(obs))
	err = walker.Execute(context.Background(), stack.New(), root, command, nil)
	return metrics, recorder, err
}

func readTextfile(t *testing.T, m *Metrics) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cookbot.prom")
	if err := m.WriteTextfile(path); err != nil {
		t.Fatalf("WriteTextfile failed: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}

func TestInstrumentation(t *testing.T) {
	root := engine.NewRecipe("main", nil)
	root.Node().Parts = []engine.Recipe{engine.NewRecipe("web", nil)}

	metrics, recorder, err := instrumented(t, root, engine.CommandInstall)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	spans := recorder.Ended()
	var names []string
	for _, s := range spans {
		names = append(names, s.Name())
	}
	want := []string{
		"cookbot.hook install main",
		"cookbot.hook enter main",
		"cookbot.hook install web",
		"cookbot.hook enter web",
		"cookbot.hook exit web",
		"cookbot.hook exit main",
		"cookbot.run install",
	}
	if diff := cmp.Diff(want, names); diff != "" {
		t.Errorf("Spans mismatch (-want +got):\n%s", diff)
	}

	run := spans[len(spans)-1]
	for _, s := range spans[:len(spans)-1] {
		if s.Parent().SpanID() != run.SpanContext().SpanID() {
			t.Errorf("Expected %s to be a child of the run span", s.Name())
		}
	}
	if run.Status().Code != codes.Ok {
		t.Errorf("Expected ok run span, got: %v", run.Status())
	}

	text := readTextfile(t, metrics)
	for _, line := range []string{
		`cookbot_runs_total{command="install",status="succeeded"} 1`,
		`cookbot_hooks_total{hook="command",status="succeeded"} 2`,
		`cookbot_hooks_total{hook="enter",status="succeeded"} 2`,
		`cookbot_hooks_total{hook="exit",status="succeeded"} 2`,
		`cookbot_run_duration_seconds_count{command="install"} 1`,
		`cookbot_active_runs 0`,
	} {
		if !strings.Contains(text, line) {
			t.Errorf("Expected metrics to contain %q, got:\n%s", line, text)
		}
	}
}

type failingRecipe struct {
	engine.Base
}

func (f *failingRecipe) Install(context.Context) error {
	return errors.New("disk full")
}

func TestInstrumentation_Failure(t *testing.T) {
	root := &failingRecipe{Base: engine.NewBase("broken", nil, nil)}

	metrics, recorder, err := instrumented(t, root, engine.CommandInstall)
	if err == nil {
		t.Fatal("Expected run to fail")
	}

	spans := recorder.Ended()
	if len(spans) != 2 {
		t.Fatalf("Expected hook and run spans, got: %d", len(spans))
	}
	for _, s := range spans {
		if s.Status().Code != codes.Error {
			t.Errorf("Expected %s to be marked failed, got: %v", s.Name(), s.Status())
		}
	}

	text := readTextfile(t, metrics)
	for _, line := range []string{
		`cookbot_runs_total{command="install",status="failed"} 1`,
		`cookbot_hooks_total{hook="command",status="failed"} 1`,
		`cookbot_errors_total{class="permanent",code="HOOK_FAILED"} 1`,
	} {
		if !strings.Contains(text, line) {
			t.Errorf("Expected metrics to contain %q, got:\n%s", line, text)
		}
	}
}

func TestMetrics_Disabled(t *testing.T) {
	m, err := NewMetrics(MetricsConfig{Enabled: false})
	if err != nil {
		t.Fatalf("NewMetrics failed: %v", err)
	}

	m.RunStarted()
	m.RecordHook("enter", "succeeded", 0)

	path := filepath.Join(t.TempDir(), "none.prom")
	if err := m.WriteTextfile(path); err != nil {
		t.Errorf("Expected no error from disabled metrics, got: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("Expected no textfile from disabled metrics")
	}
}
