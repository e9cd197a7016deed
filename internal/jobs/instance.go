package jobs

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
)

// NewInstanceID builds a stable identifier for this process:
// "{host}-{pid}-{8 random hex}", used to attribute a held lease to the
// process that acquired it.
func NewInstanceID() (string, error) {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown-host"
	}

	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("jobs: generate instance id: %w", err)
	}

	return fmt.Sprintf("%s-%d-%s", host, os.Getpid(), hex.EncodeToString(buf)), nil
}
