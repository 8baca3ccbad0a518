package export

import (
	"context"
	"log/slog"

	"github.com/dsa110/taskq/pkg/logger"
	"github.com/dsa110/taskq/pkg/monitor"
)

// Exporter persists a monitor report somewhere outside the process.
type Exporter interface {
	Export(ctx context.Context, r *monitor.Report) error
}

// ExporterFunc adapts a function to Exporter.
type ExporterFunc func(ctx context.Context, r *monitor.Report) error

func (f ExporterFunc) Export(ctx context.Context, r *monitor.Report) error {
	return f(ctx, r)
}

// New returns the exporter selected by cfg. S3 takes precedence over a file
// path when both are set.
func New(ctx context.Context, cfg Config, opts ...S3Option) (Exporter, error) {
	switch {
	case cfg.S3Bucket != "":
		return NewS3Exporter(ctx, cfg, opts...)
	case cfg.FilePath != "":
		return NewFileExporter(cfg.FilePath, cfg.Format)
	default:
		return nil, ErrNotConfigured
	}
}

// Hook returns a callback for monitor.Monitor.Run that exports every report
// and logs failures instead of stopping the loop.
func Hook(exp Exporter, log *slog.Logger) func(context.Context, *monitor.Report) {
	if log == nil {
		log = slog.Default()
	}
	log = log.With(logger.Component("export"))
	return func(ctx context.Context, r *monitor.Report) {
		if err := exp.Export(ctx, r); err != nil {
			log.ErrorContext(ctx, "failed to export report", logger.Error(err))
		}
	}
}
