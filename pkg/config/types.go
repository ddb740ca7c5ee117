package config

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
)

// Reserved section keys.
const (
	KeyRecipe   = "recipe"
	KeyRequires = "requires"
	KeyParts    = "parts"
)

// DefaultSection is the section the tree is built from when none is given.
const DefaultSection = "main"

// DefaultPath is where the command line looks for the tree definition.
const DefaultPath = "etc/cookbot.cfg"

// Format identifies a tree definition syntax.
type Format string

const (
	// FormatINI is the section/option format of .cfg and .ini files.
	FormatINI Format = "ini"

	// FormatYAML is a mapping of section names to option mappings.
	FormatYAML Format = "yaml"

	// FormatCUE is a CUE struct of sections, checked against a schema.
	FormatCUE Format = "cue"
)

// FormatFromPath picks the format from a file extension.
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".cfg", ".ini", ".conf":
		return FormatINI, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".cue":
		return FormatCUE, nil
	default:
		return "", fmt.Errorf("unsupported config file extension: %s", path)
	}
}

// Section describes one recipe of the tree.
type Section struct {
	// Name is the section name, which becomes the recipe name.
	Name string `json:"name" validate:"required"`

	// Recipe is the factory name, empty for the default kind.
	Recipe string `json:"recipe,omitempty"`

	// Requires lists the sections built as requirements.
	Requires []string `json:"requires,omitempty"`

	// Parts lists the sections built as parts.
	Parts []string `json:"parts,omitempty"`

	// Options holds every item of the section, reserved keys included.
	Options map[string]string `json:"options"`
}

// Document is a parsed tree definition.
type Document struct {
	// Source is the file the document was read from.
	Source string `json:"source"`

	// Format is the syntax the document was read with.
	Format Format `json:"format"`

	// Sections maps section names to sections.
	Sections map[string]*Section `json:"sections"`
}

// NewDocument creates an empty document.
func NewDocument(source string, format Format) *Document {
	return &Document{
		Source:   source,
		Format:   format,
		Sections: make(map[string]*Section),
	}
}

// Section returns the named section.
func (d *Document) Section(name string) (*Section, bool) {
	s, ok := d.Sections[name]
	return s, ok
}

// Names returns the section names in sorted order.
func (d *Document) Names() []string {
	names := make([]string, 0, len(d.Sections))
	for name := range d.Sections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Add stores a section built from options, splitting the reserved keys out.
func (d *Document) Add(name string, options map[string]string) *Section {
	s := &Section{
		Name:     name,
		Recipe:   strings.TrimSpace(options[KeyRecipe]),
		Requires: splitList(options[KeyRequires]),
		Parts:    splitList(options[KeyParts]),
		Options:  options,
	}
	d.Sections[name] = s
	return s
}

// ValidationError represents a validation error with location information.
type ValidationError struct {
	// File is the source file path.
	File string `json:"file,omitempty"`

	// Line is the line number (1-indexed).
	Line int `json:"line,omitempty"`

	// Column is the column number (1-indexed).
	Column int `json:"column,omitempty"`

	// Path is the path to the offending value (e.g., "www.parts").
	Path string `json:"path,omitempty"`

	// Message is the error message.
	Message string `json:"message"`

	// Severity is the error severity (error, warning, info).
	Severity string `json:"severity" validate:"required,oneof=error warning info"`
}

// String renders the error with its position.
func (v ValidationError) String() string {
	var loc string
	switch {
	case v.File != "" && v.Line > 0:
		loc = fmt.Sprintf("%s:%d:%d: ", v.File, v.Line, v.Column)
	case v.File != "":
		loc = v.File + ": "
	}
	if v.Path != "" {
		loc += v.Path + ": "
	}
	return loc + v.Message
}

// ParseError collects the problems found while reading a document.
type ParseError struct {
	Source string
	Errors []ValidationError
}

// Error implements the error interface.
func (e *ParseError) Error() string {
	msgs := make([]string, len(e.Errors))
	for i, v := range e.Errors {
		msgs[i] = v.String()
	}
	return fmt.Sprintf("failed to parse %s: %s", e.Source, strings.Join(msgs, "; "))
}

// splitList converts a whitespace separated option value to a list.
func splitList(value string) []string {
	fields := strings.Fields(value)
	if len(fields) == 0 {
		return nil
	}
	return fields
}
