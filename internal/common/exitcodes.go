package common

// Exit codes returned by the fixlimit CLI
const (
	// ExitSuccess covers both a successful build and a build that failed for an unrelated reason
	ExitSuccess = 0

	// ExitFatal indicates an infrastructure failure (spawn, stderr decoding, target file I/O)
	ExitFatal = 1

	// ExitUsage indicates invalid arguments or configuration
	ExitUsage = 2
)
