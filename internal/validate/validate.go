// Package validate rejects tool names and argument strings that could
// escape a plain argument vector. No shell is ever invoked downstream;
// shell metacharacters are rejected anyway.
package validate

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/google/shlex"
)

// toolNameRe is the only shape a tool name may take. Anything else — path
// separators, spaces, shell syntax — is rejected before lookup.
var toolNameRe = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// forbiddenArgChars are the shell metacharacters rejected in argument
// strings: command chaining, pipes, substitution, and redirection.
const forbiddenArgChars = ";&|`$()<>"

// ToolName checks that s is a well-formed tool name.
func ToolName(s string) error {
	if s == "" {
		return fmt.Errorf("tool name is empty")
	}
	if !toolNameRe.MatchString(s) {
		return fmt.Errorf("tool name %q contains invalid characters", s)
	}
	return nil
}

// Args checks an argument string against the metacharacter blacklist and
// splits it into a literal argument vector using shell-word rules: quoting
// and whitespace are honored, nothing is expanded or interpreted. An empty
// string yields an empty vector.
func Args(s string) ([]string, error) {
	if s == "" {
		return nil, nil
	}
	if i := strings.IndexAny(s, forbiddenArgChars); i >= 0 {
		return nil, fmt.Errorf("arguments contain forbidden character %q", s[i])
	}
	tokens, err := shlex.Split(s)
	if err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}
	return tokens, nil
}
