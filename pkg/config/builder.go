package config

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/openfroyo/cookbot/pkg/engine"
)

// Factory builds a recipe from its name and options.
type Factory func(name string, options engine.Options) (engine.Recipe, error)

// Registry maps recipe kinds to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates a registry holding the plain recipe kind.
func NewRegistry() *Registry {
	r := &Registry{factories: make(map[string]Factory)}
	_ = r.Register(engine.DefaultKind, func(name string, options engine.Options) (engine.Recipe, error) {
		return engine.NewRecipe(name, options), nil
	})
	return r
}

// Register adds a factory. Kinds are case-insensitive and registered once.
func (r *Registry) Register(kind string, factory Factory) error {
	kind = NormalizeKind(kind)
	if kind == "" || factory == nil {
		return fmt.Errorf("recipe kind and factory are required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[kind]; exists {
		return fmt.Errorf("recipe kind %q already registered", kind)
	}
	r.factories[kind] = factory
	return nil
}

// Lookup returns the factory of kind.
func (r *Registry) Lookup(kind string) (Factory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[NormalizeKind(kind)]
	return f, ok
}

// Kinds returns the registered kinds in sorted order.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]string, 0, len(r.factories))
	for k := range r.factories {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// NormalizeKind lower-cases a kind and keeps only what follows the last ":",
// so "package.module:Recipe" names the "recipe" kind. An empty kind is the
// default one.
func NormalizeKind(kind string) string {
	kind = strings.TrimSpace(kind)
	if i := strings.LastIndex(kind, ":"); i >= 0 {
		kind = kind[i+1:]
	}
	if kind == "" {
		return engine.DefaultKind
	}
	return strings.ToLower(kind)
}

// Builder turns documents into recipe trees.
type Builder struct {
	registry *Registry
	logger   zerolog.Logger
}

// NewBuilder creates a builder using the factories of registry.
func NewBuilder(registry *Registry, logger zerolog.Logger) *Builder {
	return &Builder{
		registry: registry,
		logger:   logger.With().Str("component", "tree-builder").Logger(),
	}
}

// Build resolves section and everything it requires or contains. Each
// reference builds a new recipe, so a section listed twice yields two
// recipes. A section that refers back to itself through its requirements or
// parts is a dependency cycle.
func (b *Builder) Build(doc *Document, section string) (engine.Recipe, error) {
	if section == "" {
		section = DefaultSection
	}
	root, err := b.resolve(doc, section, nil)
	if err != nil {
		return nil, err
	}

	b.logger.Debug().
		Str("source", doc.Source).
		Str("root", section).
		Msg("Recipe tree built")
	return root, nil
}

func (b *Builder) resolve(doc *Document, name string, path []string) (engine.Recipe, error) {
	for _, seen := range path {
		if seen == name {
			cycle := append(append([]string{}, path...), name)
			return nil, engine.NewValidationError(
				fmt.Sprintf("dependency cycle detected: %s", engine.FormatCycle(cycle)),
				nil,
			).WithCode(engine.ErrCodeCycle).WithRecipe(name)
		}
	}

	sec, ok := doc.Section(name)
	if !ok {
		err := engine.NewValidationError(fmt.Sprintf("section %q not found in %s", name, doc.Source), nil).
			WithCode(engine.ErrCodeNotFound).
			WithRecipe(name)
		if len(path) > 0 {
			err = err.WithDetail("referenced_by", path[len(path)-1])
		}
		return nil, err
	}

	kind := NormalizeKind(sec.Recipe)
	factory, ok := b.registry.Lookup(kind)
	if !ok {
		return nil, engine.NewValidationError(
			fmt.Sprintf("unknown recipe kind %q (known: %s)", sec.Recipe, strings.Join(b.registry.Kinds(), ", ")),
			nil,
		).WithCode(engine.ErrCodeUnknownRecipe).WithRecipe(name)
	}

	options := make(engine.Options, len(sec.Options))
	for k, v := range sec.Options {
		options[k] = v
	}

	recipe, err := factory(name, options)
	if err != nil {
		return nil, engine.NewValidationError(fmt.Sprintf("failed to build %s recipe", kind), err).
			WithRecipe(name)
	}
	recipe.Node().SetKind(kind)

	path = append(path, name)
	node := recipe.Node()
	for _, req := range sec.Requires {
		child, err := b.resolve(doc, req, path)
		if err != nil {
			return nil, err
		}
		node.Requirements = append(node.Requirements, child)
	}
	for _, part := range sec.Parts {
		child, err := b.resolve(doc, part, path)
		if err != nil {
			return nil, err
		}
		node.Parts = append(node.Parts, child)
	}

	return recipe, nil
}

// LoadTree reads path and builds the tree rooted at section.
func LoadTree(path, section string, registry *Registry, logger zerolog.Logger) (engine.Recipe, *Document, error) {
	doc, err := Load(path)
	if err != nil {
		return nil, nil, err
	}
	root, err := NewBuilder(registry, logger).Build(doc, section)
	if err != nil {
		return nil, doc, err
	}
	return root, doc, nil
}
