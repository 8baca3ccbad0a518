package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"

	"github.com/dsa110/taskq/pkg/queue"
)

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newTable(w io.Writer, header ...string) *tabwriter.Writer {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(header, "\t"))
	return tw
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

func parseID(arg string) (uuid.UUID, error) {
	id, err := uuid.Parse(arg)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid id %q: %w", arg, err)
	}
	return id, nil
}

// readParams accepts inline JSON, "@path" to read a file, or "-" for stdin.
func readParams(arg string, stdin io.Reader) (json.RawMessage, error) {
	var (
		data []byte
		err  error
	)
	switch {
	case arg == "":
		return nil, nil
	case arg == "-":
		data, err = io.ReadAll(stdin)
	case strings.HasPrefix(arg, "@"):
		data, err = os.ReadFile(strings.TrimPrefix(arg, "@"))
	default:
		data = []byte(arg)
	}
	if err != nil {
		return nil, fmt.Errorf("read params: %w", err)
	}
	if !json.Valid(data) {
		return nil, fmt.Errorf("%w: params must be valid JSON", queue.ErrInvalidParams)
	}
	return json.RawMessage(data), nil
}

func parseTaskStatuses(list []string) ([]queue.TaskStatus, error) {
	out := make([]queue.TaskStatus, 0, len(list))
	for _, raw := range list {
		status := queue.TaskStatus(strings.TrimSpace(raw))
		if !status.Valid() {
			return nil, fmt.Errorf("unknown task status %q", raw)
		}
		out = append(out, status)
	}
	return out, nil
}

func parseDeadLetterStatuses(list []string) ([]queue.DeadLetterStatus, error) {
	out := make([]queue.DeadLetterStatus, 0, len(list))
	for _, raw := range list {
		status := queue.DeadLetterStatus(strings.TrimSpace(raw))
		if !slices.Contains(queue.DeadLetterStatuses, status) {
			return nil, fmt.Errorf("unknown dead letter status %q", raw)
		}
		out = append(out, status)
	}
	return out, nil
}
