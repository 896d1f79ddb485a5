package rules

import (
	"fmt"
	"regexp"
)

var identifierPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// ValidateContextKey checks that a context variable name can be
// referenced from a condition expression. A key that fails here could
// never influence rule matching, so it is rejected at the request edge
// instead of being silently ignored.
func ValidateContextKey(name string) error {
	if len(name) == 0 {
		return fmt.Errorf("context key cannot be empty")
	}
	if len(name) > 100 {
		return fmt.Errorf("context key length %d exceeds maximum of 100 characters", len(name))
	}
	if !identifierPattern.MatchString(name) {
		return fmt.Errorf("must start with a letter or underscore, followed by letters, digits, or underscores")
	}
	if celReservedWords[name] {
		return fmt.Errorf("cannot use reserved word %q as a context key", name)
	}
	return nil
}

// celReservedWords are names the expression language reserves; they can
// never be declared as variables.
var celReservedWords = map[string]bool{
	"true":  true,
	"false": true,
	"null":  true,

	"if":       true,
	"else":     true,
	"for":      true,
	"while":    true,
	"break":    true,
	"continue": true,
	"return":   true,

	"var":      true,
	"let":      true,
	"const":    true,
	"function": true,

	"in":        true,
	"as":        true,
	"import":    true,
	"package":   true,
	"namespace": true,
	"loop":      true,
	"void":      true,
}
