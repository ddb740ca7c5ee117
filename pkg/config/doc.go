// Package config reads recipe tree definitions and builds recipe trees from
// them.
//
// # Overview
//
// A tree definition is a set of named sections. Each section describes one
// recipe: the factory that builds it, the sections it requires, the sections
// it contains as parts, and free-form options handed to the factory.
//
// # Formats
//
// Three syntaxes are read, chosen by file extension:
//
//   - INI (.cfg, .ini, .conf): sections and options, with indented
//     continuation lines and a DEFAULT section
//   - YAML (.yaml, .yml): a mapping of section names to option mappings
//   - CUE (.cue): a struct of sections, checked against a schema so type
//     errors carry file and line positions
//
// The reserved keys are the same in every format:
//
//	recipe   = factory name, "recipe" when empty
//	requires = whitespace separated section names
//	parts    = whitespace separated section names
//
// # Building trees
//
// A Registry maps recipe kinds to factories. Kinds are matched without
// regard to case, and only the text after the last ":" counts, so
// "novapost.cookbot.recipes:Recipe" names the "recipe" kind.
//
//	registry := config.NewRegistry()
//	recipes.Register(registry)
//
//	root, doc, err := config.LoadTree("etc/cookbot.cfg", "main", registry, logger)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// Every reference to a section builds a new recipe. A section reached again
// through its own requirements or parts is reported as a dependency cycle.
//
// # Options
//
// Factories decode their options with DecodeOptions, which converts strings
// to the field types of a tagged struct and validates the result:
//
//	type fileOptions struct {
//	    Path string `mapstructure:"path" validate:"required"`
//	    Mode uint32 `mapstructure:"mode"`
//	}
package config
