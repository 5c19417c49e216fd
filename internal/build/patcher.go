package build

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/ternarybob/arbor"
)

const (
	// LibraryRoot is preferred when no explicit target is configured
	LibraryRoot = "src/lib.rs"
	// ProgramRoot is used when the library root does not exist
	ProgramRoot = "src/main.rs"
)

// MissingPolicy controls what the patcher does when the target file has no directive
type MissingPolicy string

const (
	// MissingInsert prepends a crate-level directive to the file
	MissingInsert MissingPolicy = "insert"
	// MissingFail aborts with ErrDirectiveMissing
	MissingFail MissingPolicy = "fail"
	// MissingIgnore leaves the file unchanged
	MissingIgnore MissingPolicy = "ignore"
)

// ParseMissingPolicy validates a policy name. Empty selects MissingInsert.
func ParseMissingPolicy(s string) (MissingPolicy, error) {
	switch MissingPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", MissingInsert:
		return MissingInsert, nil
	case MissingFail:
		return MissingFail, nil
	case MissingIgnore:
		return MissingIgnore, nil
	default:
		return "", fmt.Errorf("invalid on_missing value %q (valid: insert, fail, ignore)", s)
	}
}

// PatchAction describes what a patch did to the target file
type PatchAction string

const (
	PatchReplaced  PatchAction = "replaced"
	PatchInserted  PatchAction = "inserted"
	PatchUnchanged PatchAction = "unchanged" // Directive already carried the limit
	PatchSkipped   PatchAction = "skipped"   // No directive and MissingIgnore
)

// PatchResult reports the outcome of a successful patch
type PatchResult struct {
	Path     string
	Previous string // Digits of the first directive before patching (empty if none)
	Limit    string
	Action   PatchAction
}

// Patcher rewrites the type_length_limit directive in a source file
type Patcher struct {
	// Target overrides library/program root resolution when set
	Target string
	// Dir is the base directory for relative paths (empty = process cwd)
	Dir       string
	OnMissing MissingPolicy
	logger    arbor.ILogger
}

// NewPatcher creates a patcher
func NewPatcher(target, dir string, onMissing MissingPolicy, logger arbor.ILogger) *Patcher {
	if onMissing == "" {
		onMissing = MissingInsert
	}
	return &Patcher{
		Target:    target,
		Dir:       dir,
		OnMissing: onMissing,
		logger:    logger,
	}
}

// ResolveTarget returns the file that will be patched
func (p *Patcher) ResolveTarget() string {
	if p.Target != "" {
		if filepath.IsAbs(p.Target) {
			return p.Target
		}
		return filepath.Join(p.Dir, p.Target)
	}

	lib := filepath.Join(p.Dir, LibraryRoot)
	if _, err := os.Stat(lib); err == nil {
		return lib
	}
	return filepath.Join(p.Dir, ProgramRoot)
}

// Patch replaces every directive in the target file with one carrying limit
// and overwrites the file. The file must already exist.
func (p *Patcher) Patch(limit string) (PatchResult, error) {
	path := p.ResolveTarget()
	result := PatchResult{Path: path, Limit: limit}

	info, err := os.Stat(path)
	if err != nil {
		return result, fmt.Errorf("failed to stat target file %s: %w", path, err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return result, fmt.Errorf("failed to read target file %s: %w", path, err)
	}
	src := decodeLossy(data)

	directive := FormatDirective(limit)
	var out string

	if m := directivePattern.FindStringSubmatch(src); m != nil {
		result.Previous = m[1]
		out = directivePattern.ReplaceAllLiteralString(src, directive)
		if out == src {
			result.Action = PatchUnchanged
		} else {
			result.Action = PatchReplaced
		}
	} else {
		switch p.OnMissing {
		case MissingFail:
			return result, fmt.Errorf("%w: %s", ErrDirectiveMissing, path)
		case MissingIgnore:
			p.logger.Warn().
				Str("path", path).
				Msg("No type_length_limit directive in target file - leaving it unchanged")
			out = src
			result.Action = PatchSkipped
		default:
			p.logger.Warn().
				Str("path", path).
				Str("limit", limit).
				Msg("No type_length_limit directive in target file - inserting one")
			out = "#![" + directive + "]\n" + src
			result.Action = PatchInserted
		}
	}

	if err := os.WriteFile(path, []byte(out), info.Mode().Perm()); err != nil {
		return result, fmt.Errorf("failed to write target file %s: %w", path, err)
	}

	p.logger.Debug().
		Str("path", path).
		Str("previous", result.Previous).
		Str("limit", limit).
		Str("action", string(result.Action)).
		Msg("Patched type_length_limit directive")

	return result, nil
}

// decodeLossy converts data to a string, replacing each maximal invalid
// subsequence with one U+FFFD
func decodeLossy(data []byte) string {
	if utf8.Valid(data) {
		return string(data)
	}
	var b strings.Builder
	b.Grow(len(data))
	for len(data) > 0 {
		r, size := utf8.DecodeRune(data)
		if r == utf8.RuneError && size <= 1 {
			size = invalidSequenceLen(data)
			b.WriteRune(utf8.RuneError)
		} else {
			b.Write(data[:size])
		}
		data = data[size:]
	}
	return b.String()
}

// invalidSequenceLen returns how many leading bytes of p form the start of a
// well-formed sequence that is cut short. Bytes that cannot start a sequence count as 1.
func invalidSequenceLen(p []byte) int {
	lo, hi := byte(0x80), byte(0xBF)
	var need int
	switch b := p[0]; {
	case b >= 0xC2 && b <= 0xDF:
		need = 1
	case b == 0xE0:
		need, lo = 2, 0xA0
	case b >= 0xE1 && b <= 0xEC, b == 0xEE, b == 0xEF:
		need = 2
	case b == 0xED:
		need, hi = 2, 0x9F
	case b == 0xF0:
		need, lo = 3, 0x90
	case b >= 0xF1 && b <= 0xF3:
		need = 3
	case b == 0xF4:
		need, hi = 3, 0x8F
	default:
		return 1
	}

	n := 1
	for i := 1; i <= need && i < len(p); i++ {
		if p[i] < lo || p[i] > hi {
			break
		}
		n++
		lo, hi = 0x80, 0xBF
	}
	return n
}
