// Package export writes monitor reports to a local file or an S3 bucket.
//
// A FileExporter keeps a single file up to date, which suits a Prometheus
// node exporter textfile collector when Format is "prometheus". An
// S3Exporter uploads one object per report under a configurable prefix.
//
// Exporters plug into the monitor loop through Hook:
//
//	exp, err := export.New(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	return mon.Run(ctx, cfg.Interval, export.Hook(exp, log))
package export
