package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"cuelang.org/go/cue/cuecontext"
	"github.com/google/go-cmp/cmp"
)

func TestReadINI(t *testing.T) {
	content := `
[DEFAULT]
owner = deploy

[main]
requires = database
parts =
    www
    media

[www]
recipe = exec
install = systemctl start nginx  # inline comment
owner = www-data
`
	doc, err := ReadINI("tree.cfg", []byte(content))
	if err != nil {
		t.Fatalf("ReadINI failed: %v", err)
	}

	if diff := cmp.Diff([]string{"main", "www"}, doc.Names()); diff != "" {
		t.Errorf("Names mismatch (-want +got):\n%s", diff)
	}

	main, _ := doc.Section("main")
	if diff := cmp.Diff([]string{"database"}, main.Requires); diff != "" {
		t.Errorf("Requires mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"www", "media"}, main.Parts); diff != "" {
		t.Errorf("Parts mismatch (-want +got):\n%s", diff)
	}
	if main.Options["owner"] != "deploy" {
		t.Errorf("Expected default owner, got: %q", main.Options["owner"])
	}

	www, _ := doc.Section("www")
	if www.Recipe != "exec" {
		t.Errorf("Expected recipe exec, got: %q", www.Recipe)
	}
	if www.Options["install"] != "systemctl start nginx" {
		t.Errorf("Expected inline comment to be stripped, got: %q", www.Options["install"])
	}
	if www.Options["owner"] != "www-data" {
		t.Errorf("Expected section value to override default, got: %q", www.Options["owner"])
	}
}

func TestReadINI_Invalid(t *testing.T) {
	_, err := ReadINI("broken.cfg", []byte("[main\nparts = www\n"))
	var perr *ParseError
	if !errors.As(err, &perr) {
		t.Fatalf("Expected ParseError, got: %v", err)
	}
	if perr.Source != "broken.cfg" {
		t.Errorf("Expected source broken.cfg, got: %s", perr.Source)
	}
}

func TestReadYAML(t *testing.T) {
	content := `
main:
  requires: database
  parts: [www, media]
www:
  recipe: file
  path: /etc/nginx/nginx.conf
  enabled: true
  ratio: 1.5
media:
database:
`
	doc, err := ReadYAML("tree.yaml", []byte(content))
	if err != nil {
		t.Fatalf("ReadYAML failed: %v", err)
	}

	main, _ := doc.Section("main")
	if diff := cmp.Diff([]string{"www", "media"}, main.Parts); diff != "" {
		t.Errorf("Parts mismatch (-want +got):\n%s", diff)
	}
	if main.Options[KeyParts] != "www media" {
		t.Errorf("Expected joined parts option, got: %q", main.Options[KeyParts])
	}

	www, _ := doc.Section("www")
	want := map[string]string{
		"recipe":  "file",
		"path":    "/etc/nginx/nginx.conf",
		"enabled": "true",
		"ratio":   "1.5",
	}
	if diff := cmp.Diff(want, www.Options); diff != "" {
		t.Errorf("Options mismatch (-want +got):\n%s", diff)
	}

	if _, ok := doc.Section("media"); !ok {
		t.Errorf("Expected empty section media to exist")
	}
}

func TestReadYAML_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		message string
	}{
		{
			name:    "section is not a mapping",
			content: "main: [www]\n",
			message: "cannot unmarshal",
		},
		{
			name:    "nested list",
			content: "main:\n  parts: [[www]]\n",
			message: "main.parts: nested lists are not supported",
		},
		{
			name:    "nested mapping",
			content: "main:\n  env:\n    HOME: /root\n",
			message: "main.env: unsupported value",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadYAML("tree.yaml", []byte(tt.content))
			if err == nil {
				t.Fatal("Expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.message) {
				t.Errorf("Expected error containing %q, got: %v", tt.message, err)
			}
		})
	}
}

func TestReadCUE(t *testing.T) {
	content := `
main: {
	requires: "database"
	parts: ["www", "media"]
}
www: {
	recipe:  "exec"
	install: "systemctl start nginx"
	retries: 3
}
media: {}
database: {}
`
	doc, err := ReadCUE("tree.cue", []byte(content))
	if err != nil {
		t.Fatalf("ReadCUE failed: %v", err)
	}
	if doc.Format != FormatCUE {
		t.Errorf("Expected cue format, got: %s", doc.Format)
	}

	main, _ := doc.Section("main")
	if diff := cmp.Diff([]string{"www", "media"}, main.Parts); diff != "" {
		t.Errorf("Parts mismatch (-want +got):\n%s", diff)
	}
	www, _ := doc.Section("www")
	if www.Options["retries"] != "3" {
		t.Errorf("Expected retries 3, got: %q", www.Options["retries"])
	}
}

func TestReadCUE_Errors(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		wantLine bool
	}{
		{
			name:     "syntax error",
			content:  "main: {\n\tparts: [\"www\"\n",
			wantLine: true,
		},
		{
			name:     "recipe is not a string",
			content:  "main: {\n\trecipe: 3\n}\n",
			wantLine: true,
		},
		{
			name:    "section is not a struct",
			content: "main: \"www\"\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadCUE("tree.cue", []byte(tt.content))
			var perr *ParseError
			if !errors.As(err, &perr) {
				t.Fatalf("Expected ParseError, got: %v", err)
			}
			if len(perr.Errors) == 0 {
				t.Fatal("Expected at least one validation error")
			}
			if tt.wantLine && perr.Errors[0].Line == 0 {
				t.Errorf("Expected a line number, got: %+v", perr.Errors[0])
			}
		})
	}
}

func TestSchemaRegistry(t *testing.T) {
	ctx := cuecontext.New()
	sr := NewSchemaRegistry(ctx)

	if _, ok := sr.GetSchema("sections"); !ok {
		t.Fatal("Expected the sections schema to be registered")
	}
	if err := sr.RegisterSchema("port", "port: int & >0 & <65536"); err != nil {
		t.Fatalf("RegisterSchema failed: %v", err)
	}
	if err := sr.RegisterSchema("broken", "port: int &"); err == nil {
		t.Errorf("Expected a broken schema to fail")
	}

	if _, err := sr.Apply("port", ctx.CompileString("port: 8080")); err != nil {
		t.Errorf("Expected 8080 to be valid, got: %v", err)
	}
	if _, err := sr.Apply("port", ctx.CompileString("port: 70000")); err == nil {
		t.Errorf("Expected 70000 to be rejected")
	}
	if _, err := sr.Apply("missing", ctx.CompileString("{}")); err == nil {
		t.Errorf("Expected an unknown schema to fail")
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	files := map[string]string{
		"tree.cfg":  "[main]\nparts = www\n[www]\n",
		"tree.yml":  "main:\n  parts: www\nwww: {}\n",
		"tree.cue":  "main: parts: \"www\"\nwww: {}\n",
		"tree.json": "{}",
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatalf("WriteFile failed: %v", err)
		}
	}

	for _, name := range []string{"tree.cfg", "tree.yml", "tree.cue"} {
		doc, err := Load(filepath.Join(dir, name))
		if err != nil {
			t.Errorf("Load(%s) failed: %v", name, err)
			continue
		}
		main, _ := doc.Section("main")
		if diff := cmp.Diff([]string{"www"}, main.Parts); diff != "" {
			t.Errorf("Load(%s) parts mismatch (-want +got):\n%s", name, diff)
		}
	}

	if _, err := Load(filepath.Join(dir, "tree.json")); err == nil {
		t.Errorf("Expected json to be unsupported")
	}
	if _, err := Load(filepath.Join(dir, "missing.cfg")); err == nil {
		t.Errorf("Expected a missing file to fail")
	}
}

func TestValidationError_String(t *testing.T) {
	tests := []struct {
		err  ValidationError
		want string
	}{
		{ValidationError{File: "a.cue", Line: 3, Column: 5, Path: "main.recipe", Message: "conflicting values"}, "a.cue:3:5: main.recipe: conflicting values"},
		{ValidationError{File: "a.cfg", Message: "bad section"}, "a.cfg: bad section"},
		{ValidationError{Message: "oops"}, "oops"},
	}
	for _, tt := range tests {
		if got := tt.err.String(); got != tt.want {
			t.Errorf("Expected %q, got: %q", tt.want, got)
		}
	}
}
