package common

import (
	"github.com/google/uuid"
)

// NewRunID generates a correlation ID for one fixlimit run
// Format: run_<uuid>
func NewRunID() string {
	return "run_" + uuid.New().String()
}

// NewPatchID generates a unique patch history record ID
// Format: patch_<uuid>
func NewPatchID() string {
	return "patch_" + uuid.New().String()
}
