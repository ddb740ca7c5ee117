package config

import (
	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
)

// ReadCUE parses a CUE struct of sections:
//
//	main: {
//		requires: "database"
//		parts: ["www", "media"]
//	}
//	www: {
//		recipe:  "exec"
//		install: "systemctl start nginx"
//	}
//
// The source is checked against the sections schema first, so type errors
// come back with file and line positions.
func ReadCUE(source string, data []byte) (*Document, error) {
	ctx := cuecontext.New()
	val := ctx.CompileBytes(data, cue.Filename(source))
	if err := val.Err(); err != nil {
		return nil, &ParseError{Source: source, Errors: convertCUEErrors(err)}
	}

	unified, err := NewSchemaRegistry(ctx).Apply("sections", val)
	if err != nil {
		return nil, &ParseError{Source: source, Errors: convertCUEErrors(err)}
	}

	var raw map[string]map[string]interface{}
	if err := unified.Decode(&raw); err != nil {
		return nil, &ParseError{Source: source, Errors: convertCUEErrors(err)}
	}

	return documentFromMap(source, FormatCUE, raw)
}

// convertCUEErrors converts CUE errors to ValidationError slice.
func convertCUEErrors(err error) []ValidationError {
	var validationErrors []ValidationError

	for _, e := range errors.Errors(err) {
		pos := errors.Positions(e)
		var file string
		var line, column int

		if len(pos) > 0 {
			file = pos[0].Filename()
			line = pos[0].Line()
			column = pos[0].Column()
		}

		validationErrors = append(validationErrors, ValidationError{
			File:     file,
			Line:     line,
			Column:   column,
			Path:     pathString(e.Path()),
			Message:  errors.Details(e, nil),
			Severity: "error",
		})
	}

	return validationErrors
}

func pathString(path []string) string {
	out := ""
	for i, p := range path {
		if i > 0 {
			out += "."
		}
		out += p
	}
	return out
}
