package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

const severityComment = "severity:"

// ReloadDelay is how long Watch waits for changes to settle before reloading.
const ReloadDelay = 500 * time.Millisecond

// decoders parse a policy file by extension.
var decoders = map[string]func(path string, data []byte) (*Policy, error){
	".rego": decodeRego,
	".json": decodeJSON,
}

func isPolicyFile(path string) bool {
	_, ok := decoders[filepath.Ext(path)]
	return ok
}

// Loader reads policies from .rego and .json files.
type Loader struct {
	logger zerolog.Logger
}

// NewLoader creates a new policy loader.
func NewLoader(logger zerolog.Logger) *Loader {
	return &Loader{
		logger: logger.With().Str("component", "policy-loader").Logger(),
	}
}

// LoadFromPaths loads the policies of every path. A path is a policy file or
// a directory searched recursively; unreadable files inside a directory are
// skipped with a warning, a named file that cannot be read is an error.
func (l *Loader) LoadFromPaths(ctx context.Context, paths []string) ([]Policy, error) {
	var policies []Policy
	for _, path := range paths {
		found, err := l.loadPath(ctx, path)
		if err != nil {
			return nil, fmt.Errorf("failed to load from path %s: %w", path, err)
		}
		policies = append(policies, found...)
	}

	l.logger.Debug().
		Int("total", len(policies)).
		Int("sources", len(paths)).
		Msg("Policies loaded from paths")

	return policies, nil
}

func (l *Loader) loadPath(ctx context.Context, path string) ([]Policy, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat path: %w", err)
	}
	if !info.IsDir() {
		p, err := l.loadFile(path)
		if err != nil {
			return nil, err
		}
		return []Policy{*p}, nil
	}

	var policies []Policy
	err = filepath.WalkDir(path, func(file string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || !isPolicyFile(file) {
			return nil
		}
		p, err := l.loadFile(file)
		if err != nil {
			l.logger.Warn().Err(err).Str("path", file).Msg("Skipping policy file")
			return nil
		}
		policies = append(policies, *p)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk directory: %w", err)
	}
	return policies, nil
}

func (l *Loader) loadFile(path string) (*Policy, error) {
	decode, ok := decoders[filepath.Ext(path)]
	if !ok {
		return nil, fmt.Errorf("unsupported file type: %s", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	p, err := decode(path, data)
	if err != nil {
		return nil, err
	}
	p.Source = path

	l.logger.Debug().Str("path", path).Str("policy", p.Name).Msg("Policy loaded from file")
	return p, nil
}

// decodeRego names the policy after its file. The leading comment block is
// the description; a "# severity: error" line in it sets the severity, which
// is otherwise warning.
func decodeRego(path string, data []byte) (*Policy, error) {
	description, severity := parseHeader(string(data))
	return &Policy{
		Name:        strings.TrimSuffix(filepath.Base(path), ".rego"),
		Description: description,
		Rego:        string(data),
		Severity:    severity,
		Enabled:     true,
		Tags:        []string{},
	}, nil
}

// decodeJSON reads a serialized Policy. Name defaults to the file name and
// severity to warning.
func decodeJSON(path string, data []byte) (*Policy, error) {
	p := Policy{Enabled: true}
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse JSON policy: %w", err)
	}
	if p.Name == "" {
		p.Name = strings.TrimSuffix(filepath.Base(path), ".json")
	}
	if p.Severity == "" {
		p.Severity = SeverityWarning
	}
	return &p, nil
}

// parseHeader reads the leading comment block of a Rego file.
func parseHeader(content string) (string, Severity) {
	severity := SeverityWarning
	var description strings.Builder

	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if !strings.HasPrefix(trimmed, "#") {
			if trimmed != "" {
				break
			}
			continue
		}

		comment := strings.TrimSpace(strings.TrimPrefix(trimmed, "#"))
		if strings.HasPrefix(comment, severityComment) {
			severity = Severity(strings.TrimSpace(strings.TrimPrefix(comment, severityComment)))
			continue
		}
		if comment == "" {
			continue
		}
		if description.Len() > 0 {
			description.WriteString(" ")
		}
		description.WriteString(comment)
	}

	return description.String(), severity
}

// Watch reloads the policies of paths whenever a policy file under them
// changes and hands them to apply, once changes have settled for
// ReloadDelay. Files are watched through their directory so that editors
// replacing them on save are seen. Watching stops when ctx is done.
func (l *Loader) Watch(ctx context.Context, paths []string, apply func([]Policy) error) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}

	w := &watchSet{files: make(map[string]bool)}
	for _, path := range paths {
		if err := w.add(watcher, path); err != nil {
			l.logger.Warn().Err(err).Str("path", path).Msg("Not watching policy path")
		}
	}

	go l.watchLoop(ctx, watcher, w, paths, apply)

	l.logger.Info().Int("paths", len(paths)).Msg("Watching policy paths")
	return nil
}

// watchSet is what Watch was asked to follow: single files, and directory
// trees.
type watchSet struct {
	files map[string]bool
	roots []string
}

func (w *watchSet) add(watcher *fsnotify.Watcher, path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		w.files[abs] = true
		return watcher.Add(filepath.Dir(abs))
	}
	w.roots = append(w.roots, abs)
	return filepath.WalkDir(abs, func(dir string, d os.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return err
		}
		return watcher.Add(dir)
	})
}

// covers reports whether event changes a followed policy file.
func (w *watchSet) covers(event fsnotify.Event) bool {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
		!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
		return false
	}
	if !isPolicyFile(event.Name) {
		return false
	}
	abs, err := filepath.Abs(event.Name)
	if err != nil {
		return false
	}
	if w.files[abs] {
		return true
	}
	for _, root := range w.roots {
		if rel, err := filepath.Rel(root, abs); err == nil && !strings.HasPrefix(rel, "..") {
			return true
		}
	}
	return false
}

func (l *Loader) watchLoop(ctx context.Context, watcher *fsnotify.Watcher, w *watchSet, paths []string, apply func([]Policy) error) {
	defer watcher.Close()

	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if !w.covers(event) {
				continue
			}
			l.logger.Debug().Str("file", event.Name).Str("op", event.Op.String()).Msg("Policy file changed")

			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(ReloadDelay, func() {
				if err := l.reload(ctx, paths, apply); err != nil {
					l.logger.Error().Err(err).Msg("Failed to reload policies")
				}
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			l.logger.Error().Err(err).Msg("Watcher error")
		}
	}
}

// reload loads the policies of paths again and hands them to apply.
func (l *Loader) reload(ctx context.Context, paths []string, apply func([]Policy) error) error {
	policies, err := l.LoadFromPaths(ctx, paths)
	if err != nil {
		return fmt.Errorf("failed to reload policies: %w", err)
	}
	if err := apply(policies); err != nil {
		return fmt.Errorf("failed to apply reloaded policies: %w", err)
	}
	l.logger.Info().Int("count", len(policies)).Msg("Policies reloaded")
	return nil
}
