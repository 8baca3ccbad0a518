package export

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/dsa110/taskq/pkg/monitor"
)

// Format is the serialization of an exported report.
type Format string

const (
	FormatJSON       Format = "json"
	FormatPrometheus Format = "prometheus"
)

func (f Format) extension() string {
	if f == FormatPrometheus {
		return "prom"
	}
	return "json"
}

func (f Format) contentType() string {
	if f == FormatPrometheus {
		return "text/plain; version=0.0.4"
	}
	return "application/json"
}

func (f Format) validate() error {
	switch f {
	case FormatJSON, FormatPrometheus:
		return nil
	}
	return fmt.Errorf("%w: %q", ErrUnknownFormat, string(f))
}

// Encode serializes r in format f.
func Encode(f Format, r *monitor.Report) ([]byte, error) {
	if r == nil {
		return nil, ErrNilReport
	}
	switch f {
	case FormatJSON, "":
		return json.MarshalIndent(r, "", "  ")
	case FormatPrometheus:
		var buf bytes.Buffer
		if err := monitor.WritePrometheus(&buf, r); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, string(f))
}
