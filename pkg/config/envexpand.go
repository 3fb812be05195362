package config

import (
	"bytes"
	"os"
	"strings"
	"text/template"
)

// ExpandEnv expands environment variables in config file content using Go
// templates. Uses {{.VAR_NAME}} syntax to avoid collision with $ in regex
// patterns, passwords, and shell snippets that appear in tool and proxy
// configuration values.
//
// Missing variables expand to the empty string. Content without template
// syntax, or with malformed syntax, passes through unchanged.
func ExpandEnv(data []byte) []byte {
	tmpl, err := template.New("config").Option("missingkey=zero").Parse(string(data))
	if err != nil {
		return data
	}

	envMap := make(map[string]string)
	for _, env := range os.Environ() {
		if key, value, ok := strings.Cut(env, "="); ok {
			envMap[key] = value
		}
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, envMap); err != nil {
		return data
	}
	return buf.Bytes()
}
