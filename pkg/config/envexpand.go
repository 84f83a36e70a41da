package config

import (
	"bytes"
	"os"
	"text/template"
)

// ExpandEnv expands environment variables in routing.yaml content using Go
// templates. Uses {{.VAR_NAME}} syntax so literal $ characters in keyword
// phrases and sentinel strings pass through untouched.
//
// Examples:
//   - {{.EXTRA_SENTINEL}} → value of EXTRA_SENTINEL environment variable
//   - "price $100 transfer" → preserved literally ($ not touched)
//
// Missing variables expand to empty string (unless the template is
// malformed). Validation catches required fields that end up empty.
func ExpandEnv(data []byte) []byte {
	tmpl, err := template.New("routing").Option("missingkey=zero").Parse(string(data))
	if err != nil {
		// Content without template syntax (or with stray braces) passes
		// through; the YAML parser produces the clearer error if any.
		return data
	}

	envMap := make(map[string]string)
	for _, env := range os.Environ() {
		// Split only on first = to handle values with = in them
		if idx := bytes.IndexByte([]byte(env), '='); idx > 0 {
			envMap[env[:idx]] = env[idx+1:]
		}
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, envMap); err != nil {
		return data
	}

	return buf.Bytes()
}
