package config

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
)

// Load reads a tree definition, picking the syntax from the file extension.
func Load(path string) (*Document, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	return Parse(format, path, data)
}

// Parse reads a tree definition in the given syntax. source names the
// document in errors.
func Parse(format Format, source string, data []byte) (*Document, error) {
	switch format {
	case FormatINI:
		return ReadINI(source, data)
	case FormatYAML:
		return ReadYAML(source, data)
	case FormatCUE:
		return ReadCUE(source, data)
	default:
		return nil, fmt.Errorf("unsupported config format: %q", format)
	}
}

// documentFromMap builds a document from decoded sections whose values are
// scalars or lists of scalars.
func documentFromMap(source string, format Format, raw map[string]map[string]interface{}) (*Document, error) {
	doc := NewDocument(source, format)
	var problems []ValidationError

	names := make([]string, 0, len(raw))
	for name := range raw {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		options := make(map[string]string, len(raw[name]))
		for key, value := range raw[name] {
			str, err := scalarString(value)
			if err != nil {
				problems = append(problems, ValidationError{
					File:     source,
					Path:     name + "." + key,
					Message:  err.Error(),
					Severity: "error",
				})
				continue
			}
			options[key] = str
		}
		doc.Add(name, options)
	}

	if len(problems) > 0 {
		return nil, &ParseError{Source: source, Errors: problems}
	}
	return doc, nil
}

// scalarString flattens a decoded value into an option string. Lists are
// joined with spaces, the separator of requires and parts.
func scalarString(value interface{}) (string, error) {
	switch v := value.(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	case bool:
		return strconv.FormatBool(v), nil
	case int:
		return strconv.Itoa(v), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case uint64:
		return strconv.FormatUint(v, 10), nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	case []interface{}:
		items := make([]string, 0, len(v))
		for _, item := range v {
			s, err := scalarString(item)
			if err != nil {
				return "", err
			}
			if _, nested := item.([]interface{}); nested {
				return "", fmt.Errorf("nested lists are not supported")
			}
			items = append(items, s)
		}
		return strings.Join(items, " "), nil
	default:
		return "", fmt.Errorf("unsupported value of type %T", value)
	}
}
