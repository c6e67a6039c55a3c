package schema

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// NewID generates a prefixed short identifier, e.g. "wf_1a2b3c4d".
func NewID(prefix string) string {
	hex := strings.ReplaceAll(uuid.New().String(), "-", "")
	return fmt.Sprintf("%s_%s", prefix, hex[:8])
}

// NewRunID generates a unique identifier for a single workflow run.
func NewRunID() string {
	return uuid.New().String()
}
