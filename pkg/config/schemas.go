package config

import (
	"fmt"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

// sectionSchema constrains a CUE tree definition: a struct of sections whose
// values are scalars or lists of scalars, with string or list references.
const sectionSchema = `
#Scalar: string | number | bool

#Section: {
	recipe?:   string
	requires?: string | [...string]
	parts?:    string | [...string]
	[string]:  #Scalar | [...#Scalar]
}

[string]: #Section
`

// SchemaRegistry holds compiled CUE schemas. Sources are unified with a
// schema before they are decoded.
type SchemaRegistry struct {
	ctx     *cue.Context
	schemas map[string]cue.Value
	mu      sync.RWMutex
}

// NewSchemaRegistry creates a registry holding the "sections" schema.
func NewSchemaRegistry(ctx *cue.Context) *SchemaRegistry {
	if ctx == nil {
		ctx = cuecontext.New()
	}
	sr := &SchemaRegistry{
		ctx:     ctx,
		schemas: make(map[string]cue.Value),
	}
	if err := sr.RegisterSchema("sections", sectionSchema); err != nil {
		panic(err)
	}
	return sr
}

// RegisterSchema compiles and stores a CUE schema under name.
func (sr *SchemaRegistry) RegisterSchema(name, schema string) error {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	val := sr.ctx.CompileString(schema, cue.Filename(name+".cue"))
	if err := val.Err(); err != nil {
		return fmt.Errorf("failed to compile schema %s: %w", name, err)
	}

	sr.schemas[name] = val
	return nil
}

// GetSchema retrieves a schema by name.
func (sr *SchemaRegistry) GetSchema(name string) (cue.Value, bool) {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	val, ok := sr.schemas[name]
	return val, ok
}

// Apply unifies val with the named schema and checks the result is concrete.
func (sr *SchemaRegistry) Apply(name string, val cue.Value) (cue.Value, error) {
	schema, ok := sr.GetSchema(name)
	if !ok {
		return cue.Value{}, fmt.Errorf("schema %s not found", name)
	}

	unified := schema.Unify(val)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return unified, err
	}
	return unified, nil
}
