package build

import (
	"fmt"
	"io"
	"os"
)

// ProgressPrefix marks every progress line written to the user
const ProgressPrefix = ">>> "

// Reporter writes human-readable progress lines
type Reporter struct {
	out io.Writer
}

// NewReporter creates a reporter writing to out (nil = stdout)
func NewReporter(out io.Writer) *Reporter {
	if out == nil {
		out = os.Stdout
	}
	return &Reporter{out: out}
}

// Log writes one prefixed line
func (r *Reporter) Log(msg string) {
	fmt.Fprintf(r.out, "%s%s\n", ProgressPrefix, msg)
}

// Logf formats and writes one prefixed line
func (r *Reporter) Logf(format string, args ...interface{}) {
	r.Log(fmt.Sprintf(format, args...))
}
