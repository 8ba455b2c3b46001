package config

import (
	"os"
	"strings"

	"github.com/zclconf/go-cty/cty"
)

// GetEnvObject returns the process environment as a cty object, for use as
// env.* in expressions.
func GetEnvObject() cty.Value {
	envMap := make(map[string]cty.Value)

	for _, envVar := range os.Environ() {
		key, value, ok := strings.Cut(envVar, "=")
		if !ok {
			continue
		}
		envMap[sanitizeEnvVarName(key)] = cty.StringVal(value)
	}

	if len(envMap) == 0 {
		return cty.EmptyObjectVal
	}

	return cty.ObjectVal(envMap)
}

// sanitizeEnvVarName maps an environment variable name onto a valid HCL
// identifier by replacing invalid characters with underscores.
func sanitizeEnvVarName(name string) string {
	if name == "" {
		return "_"
	}

	var result strings.Builder
	for i, r := range name {
		if isIdentChar(r, i == 0) {
			result.WriteRune(r)
		} else {
			result.WriteRune('_')
		}
	}
	return result.String()
}

func isIdentChar(r rune, first bool) bool {
	switch {
	case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || r == '_':
		return true
	case first:
		return false
	default:
		return (r >= '0' && r <= '9') || r == '-'
	}
}
