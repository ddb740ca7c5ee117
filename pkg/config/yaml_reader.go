package config

import (
	"gopkg.in/yaml.v3"
)

// ReadYAML parses a mapping of section names to option mappings:
//
//	main:
//	  requires: [database]
//	  parts: [www, media]
//	www:
//	  recipe: exec
//	  install: systemctl start nginx
//
// Scalars are converted to strings and lists are joined with spaces.
func ReadYAML(source string, data []byte) (*Document, error) {
	var raw map[string]map[string]interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		var problems []ValidationError
		if typeErr, ok := err.(*yaml.TypeError); ok {
			for _, msg := range typeErr.Errors {
				problems = append(problems, ValidationError{File: source, Message: msg, Severity: "error"})
			}
		} else {
			problems = append(problems, ValidationError{File: source, Message: err.Error(), Severity: "error"})
		}
		return nil, &ParseError{Source: source, Errors: problems}
	}

	return documentFromMap(source, FormatYAML, raw)
}
