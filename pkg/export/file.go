package export

import (
	"context"
	"errors"
	"os"
	"path/filepath"

	"github.com/dsa110/taskq/pkg/monitor"
)

// FileExporter overwrites one local file with the latest report. Writes go to
// a temporary file that is renamed into place, so readers never see a
// partial report.
type FileExporter struct {
	path   string
	format Format
}

func NewFileExporter(path string, format Format) (*FileExporter, error) {
	if path == "" {
		return nil, ErrInvalidConfig
	}
	if format == "" {
		format = FormatJSON
	}
	if err := format.validate(); err != nil {
		return nil, err
	}
	return &FileExporter{path: path, format: format}, nil
}

func (e *FileExporter) Export(ctx context.Context, r *monitor.Report) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := Encode(e.format, r)
	if err != nil {
		return err
	}

	dir := filepath.Dir(e.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Join(ErrFailedToWriteFile, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(e.path)+".*")
	if err != nil {
		return errors.Join(ErrFailedToWriteFile, err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return errors.Join(ErrFailedToWriteFile, err)
	}
	if err := tmp.Close(); err != nil {
		return errors.Join(ErrFailedToWriteFile, err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return errors.Join(ErrFailedToWriteFile, err)
	}
	if err := os.Rename(tmp.Name(), e.path); err != nil {
		return errors.Join(ErrFailedToWriteFile, err)
	}
	return nil
}

func (e *FileExporter) String() string {
	return "file://" + e.path
}
