package build

import (
	"fmt"
	"regexp"
)

// directivePattern matches the limit directive as written by the compiler in its
// suggested fix and as found in source files. Spaces around '=' are tolerated.
var directivePattern = regexp.MustCompile(`type_length_limit *= *"([0-9]+)"`)

// ExtractLimit returns the digits of the first type_length_limit directive in the
// error output. ok is false when the output is not a type length limit failure.
func ExtractLimit(stderr string) (limit string, ok bool) {
	m := directivePattern.FindStringSubmatch(stderr)
	if len(m) < 2 {
		return "", false
	}
	return m[1], true
}

// FormatDirective renders the canonical directive text for a limit value
func FormatDirective(limit string) string {
	return fmt.Sprintf(`type_length_limit = "%s"`, limit)
}
