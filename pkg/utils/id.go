package utils

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// GenerateID generates a unique opaque ID
func GenerateID() string {
	return uuid.NewString()
}

// GenerateSessionID generates a design session ID with a timestamp prefix,
// e.g. "design-20260117-101500-1a2b3c4d".
func GenerateSessionID() string {
	timestamp := time.Now().Format("20060102-150405")
	short := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("design-%s-%s", timestamp, short)
}
