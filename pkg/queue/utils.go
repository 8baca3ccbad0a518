package queue

import (
	"os"
	"strings"

	"github.com/google/uuid"
)

// NewWorkerID returns "<hostname>-<8 hex chars>".
func NewWorkerID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker"
	}
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return host + "-" + suffix
}
