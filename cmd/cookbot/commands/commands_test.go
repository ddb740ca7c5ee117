package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/openfroyo/cookbot/pkg/engine"
)

// writeTree writes a tree definition into a temporary directory. {{dir}} in
// content is replaced by that directory.
func writeTree(t *testing.T, content string) (dir, path string) {
	t.Helper()
	dir = t.TempDir()
	path = filepath.Join(dir, "cookbot.cfg")
	if err := os.WriteFile(path, []byte(strings.ReplaceAll(content, "{{dir}}", dir)), 0o644); err != nil {
		t.Fatal(err)
	}
	return dir, path
}

// execute runs the root command with args and returns what it printed on
// stdout and stderr.
func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()

	var out, errOut bytes.Buffer
	a := newApp()
	cmd := newRootCommand(a, "test", "none", "today")
	cmd.SetArgs(args)
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)

	err := cmd.ExecuteContext(context.Background())
	if shutdownErr := a.shutdown(context.Background()); shutdownErr != nil {
		t.Errorf("shutdown failed: %v", shutdownErr)
	}
	return out.String(), errOut.String(), err
}

const siteTree = `[main]
parts = site

[site]
recipe = directory
path = {{dir}}/site
purge = true
parts = index

[index]
recipe = file
path = index.html
content = hello
`

func TestInstall(t *testing.T) {
	dir, cfg := writeTree(t, siteTree)

	if _, _, err := execute(t, "-c", cfg, "--log-level", "disabled", "install"); err != nil {
		t.Fatalf("install failed: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "site", "index.html"))
	if err != nil {
		t.Fatalf("Expected index.html to be written, got: %v", err)
	}
	if string(data) != "hello" {
		t.Errorf("Expected content hello, got: %q", data)
	}

	if _, _, err := execute(t, "-c", cfg, "--log-level", "disabled", "uninstall"); err != nil {
		t.Fatalf("uninstall failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "site")); !os.IsNotExist(err) {
		t.Errorf("Expected site to be purged, got: %v", err)
	}
}

func TestInstall_MetricsFile(t *testing.T) {
	dir, cfg := writeTree(t, siteTree)
	metrics := filepath.Join(dir, "cookbot.prom")

	_, _, err := execute(t, "-c", cfg, "--log-level", "disabled", "--metrics-file", metrics, "install")
	if err != nil {
		t.Fatalf("install failed: %v", err)
	}

	data, err := os.ReadFile(metrics)
	if err != nil {
		t.Fatalf("Expected metrics textfile, got: %v", err)
	}
	want := `cookbot_runs_total{command="install",status="succeeded"} 1`
	if !strings.Contains(string(data), want) {
		t.Errorf("Expected metrics to contain %q, got:\n%s", want, data)
	}
}

func TestPlan(t *testing.T) {
	dir, cfg := writeTree(t, siteTree)

	out, _, err := execute(t, "-c", cfg, "--log-level", "disabled", "plan", "--json", "install")
	if err != nil {
		t.Fatalf("plan failed: %v", err)
	}

	var plan engine.Plan
	if err := json.Unmarshal([]byte(out), &plan); err != nil {
		t.Fatalf("Expected JSON plan, got: %v\n%s", err, out)
	}
	var calls []string
	for _, ev := range plan.Events {
		calls = append(calls, ev.String())
	}
	want := []string{
		"install main",
		"enter main",
		"install site",
		"enter site",
		"install index",
		"enter index",
		"exit index",
		"exit site",
		"exit main",
	}
	if diff := cmp.Diff(want, calls); diff != "" {
		t.Errorf("Plan mismatch (-want +got):\n%s", diff)
	}

	if _, err := os.Stat(filepath.Join(dir, "site")); !os.IsNotExist(err) {
		t.Errorf("Expected plan to leave the tree untouched, got: %v", err)
	}
}

func TestValidate(t *testing.T) {
	_, cfg := writeTree(t, siteTree)

	out, _, err := execute(t, "-c", cfg, "--log-level", "disabled", "validate")
	if err != nil {
		t.Fatalf("validate failed: %v", err)
	}
	if !strings.Contains(out, "3 recipes") {
		t.Errorf("Expected recipe count in output, got: %q", out)
	}
}

func TestValidate_Protected(t *testing.T) {
	_, cfg := writeTree(t, `[main]
parts = db

[db]
recipe = directory
path = {{dir}}/db
protected = true
`)

	_, _, err := execute(t, "-c", cfg, "--log-level", "disabled", "validate", "--command", "uninstall")
	if !engine.IsPolicy(err) {
		t.Fatalf("Expected policy error, got: %v", err)
	}

	_, _, err = execute(t, "-c", cfg, "--log-level", "disabled", "uninstall")
	if !engine.IsPolicy(err) {
		t.Errorf("Expected uninstall to be refused, got: %v", err)
	}
}

func TestGraph(t *testing.T) {
	_, cfg := writeTree(t, siteTree)

	out, _, err := execute(t, "-c", cfg, "--log-level", "disabled", "graph")
	if err != nil {
		t.Fatalf("graph failed: %v", err)
	}
	if !strings.HasPrefix(out, "digraph RecipeTree {") {
		t.Errorf("Expected DOT output, got: %q", out)
	}
	if !strings.Contains(out, `"main/site" -> "main/site/index"`) {
		t.Errorf("Expected part edge in output, got: %q", out)
	}
}

func TestCommands(t *testing.T) {
	_, cfg := writeTree(t, `[main]
parts = app

[app]
recipe = exec
commands = migrate
migrate = true
`)

	out, _, err := execute(t, "-c", cfg, "--log-level", "disabled", "commands")
	if err != nil {
		t.Fatalf("commands failed: %v", err)
	}
	if !strings.Contains(out, "install, update, uninstall, migrate") {
		t.Errorf("Expected app commands in output, got: %q", out)
	}

	if _, _, err := execute(t, "-c", cfg, "--log-level", "disabled", "commands", "--check", "migrate"); err != nil {
		t.Errorf("Expected migrate to be exposed, got: %v", err)
	}
	_, _, err = execute(t, "-c", cfg, "--log-level", "disabled", "commands", "--check", "rollback")
	if class, _ := engine.Classify(err); class != engine.ErrorClassCommand {
		t.Errorf("Expected command error, got: %v", err)
	}
}

func TestRun_Unexposed(t *testing.T) {
	_, cfg := writeTree(t, siteTree)

	_, errOut, err := execute(t, "-c", cfg, "--log-level", "warn", "--log-format", "json", "run", "rollback")
	if err != nil {
		t.Fatalf("Expected nothing to run, got: %v", err)
	}
	if !strings.Contains(errOut, "No recipe in the tree exposes this command") {
		t.Errorf("Expected a warning, got: %q", errOut)
	}
}

func TestRun_PassesArgs(t *testing.T) {
	dir, cfg := writeTree(t, `[main]
parts = app

[app]
recipe = exec
commands = record
record = echo > {{dir}}/args
`)

	_, _, err := execute(t, "-c", cfg, "--log-level", "disabled", "run", "record", "--now", "fast")
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(dir, "args"))
	if err != nil {
		t.Fatal(err)
	}
	if got := strings.TrimSpace(string(data)); got != "--now fast" {
		t.Errorf("Expected args %q, got: %q", "--now fast", got)
	}
}

func TestInit(t *testing.T) {
	cfg := filepath.Join(t.TempDir(), "etc", "cookbot.cfg")

	if _, _, err := execute(t, "-c", cfg, "--log-level", "disabled", "init"); err != nil {
		t.Fatalf("init failed: %v", err)
	}
	if _, _, err := execute(t, "-c", cfg, "--log-level", "disabled", "init"); err == nil {
		t.Error("Expected init to refuse overwriting")
	}
	if _, _, err := execute(t, "-c", cfg, "--log-level", "disabled", "init", "--force"); err != nil {
		t.Errorf("Expected --force to overwrite, got: %v", err)
	}

	out, _, err := execute(t, "-c", cfg, "--log-level", "disabled", "validate")
	if err != nil {
		t.Fatalf("Expected starter tree to validate, got: %v", err)
	}
	if !strings.Contains(out, "4 recipes") {
		t.Errorf("Expected 4 recipes, got: %q", out)
	}
}

func TestSettings_Invalid(t *testing.T) {
	_, cfg := writeTree(t, siteTree)

	_, _, err := execute(t, "-c", cfg, "--log-format", "xml", "graph")
	if err == nil || !strings.Contains(err.Error(), "invalid settings") {
		t.Errorf("Expected invalid settings error, got: %v", err)
	}
}

func TestSettings_Environment(t *testing.T) {
	_, cfg := writeTree(t, siteTree)
	t.Setenv("COOKBOT_CONFIG", cfg)
	t.Setenv("COOKBOT_LOG_LEVEL", "disabled")

	out, _, err := execute(t, "graph")
	if err != nil {
		t.Fatalf("graph failed: %v", err)
	}
	if !strings.Contains(out, "main/site") {
		t.Errorf("Expected tree from COOKBOT_CONFIG, got: %q", out)
	}
}

func TestRoot_MissingCommand(t *testing.T) {
	_, cfg := writeTree(t, siteTree)

	_, _, err := execute(t, "-c", cfg, "--log-level", "disabled")
	if err == nil || !strings.Contains(err.Error(), "a command is required") {
		t.Errorf("Expected usage error, got: %v", err)
	}
}
