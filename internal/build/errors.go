package build

import "errors"

var (
	// ErrSpawn is returned when the build process could not be started at all
	ErrSpawn = errors.New("failed to run build")

	// ErrStderrNotText is returned when the captured error output is not valid UTF-8
	ErrStderrNotText = errors.New("could not read error message as utf-8 string")

	// ErrDirectiveMissing is returned when the target file has no directive and on_missing = "fail"
	ErrDirectiveMissing = errors.New("type_length_limit directive not found in target file")

	// ErrAttemptsExhausted is returned when max_attempts builds ran without reaching a terminal state
	ErrAttemptsExhausted = errors.New("maximum build attempts reached")

	// ErrEmptyInvocation is returned when no build command was supplied
	ErrEmptyInvocation = errors.New("no build command given")
)
