package config

import (
	"github.com/go-ini/ini"
)

// ReadINI parses the section/option format:
//
//	[main]
//	requires = database
//	parts = www
//	         media
//
//	[www]
//	recipe = exec
//	install = systemctl start nginx
//
// Values may continue on indented lines. Items of the DEFAULT section apply
// to every section that does not set them.
func ReadINI(source string, data []byte) (*Document, error) {
	file, err := ini.LoadSources(ini.LoadOptions{
		AllowPythonMultilineValues: true,
		SpaceBeforeInlineComment:   true,
	}, data)
	if err != nil {
		return nil, &ParseError{
			Source: source,
			Errors: []ValidationError{{File: source, Message: err.Error(), Severity: "error"}},
		}
	}

	defaults := file.Section(ini.DefaultSection).KeysHash()
	doc := NewDocument(source, FormatINI)

	for _, section := range file.Sections() {
		if section.Name() == ini.DefaultSection {
			continue
		}
		options := make(map[string]string, len(defaults)+len(section.Keys()))
		for k, v := range defaults {
			options[k] = v
		}
		for _, key := range section.Keys() {
			options[key.Name()] = key.Value()
		}
		doc.Add(section.Name(), options)
	}

	return doc, nil
}
