// Package logger provides a context-aware wrapper around Go's slog package
// adding functional options for configuration, helper attribute constructors,
// and transparent injection of values stored in context.Context.
//
// The package aims to standardise structured logging across services by
// exposing a single factory, New, that creates a *slog.Logger configured by
// a set of Option functions. These options allow you to:
//
//   • Select an output format (text or json)
//   • Set the minimum log level
//   • Supply default slog.Attr values applied to every record
//   • Register ContextExtractor callbacks that inject attributes pulled from a
//     context value (for example a request id) every time Handle is invoked.
//
// # Architecture
//
// New picks slog.NewTextHandler or slog.NewJSONHandler from the configured
// Format. When extractors are registered the handler is wrapped so that each
// ContextExtractor runs before the record is written.
//
// Workers tag the execution context with WithTask, so anything a task handler
// logs through InfoContext and friends carries the task id, name and queue.
//
// Helper constructors such as Group, Error, TaskID, Queue and WorkerID live in attr.go and
// return commonly-used slog.Attr instances to keep attribute naming consistent
// across the codebase.
//
// # Usage
//
//	import "github.com/dsa110/taskq/pkg/logger"
//
//	func main() {
//	    log := logger.New(
//	        logger.WithDevelopment("taskq"),
//	        logger.WithContextValue("request_id", ctxKeyRequestID),
//	    )
//	    logger.SetAsDefault(log)
//
//	    ctx := context.WithValue(context.Background(), ctxKeyRequestID, "abc-123")
//	    log.InfoContext(ctx, "task completed",
//	        logger.TaskID(task.ID),
//	        logger.Queue(task.Queue),
//	        logger.Duration(time.Since(start)),
//	    )
//	}
//
// # Configuration
//
// The behaviour of New can be tuned with a variety of Option helpers:
//
//   • WithDevelopment / WithStaging / WithProduction: sensible defaults per environment.
//   • WithTextFormatter / WithJSONFormatter: override output format.
//   • WithLevel: set a custom slog.Level.
//   • WithAttr: attach static attributes.
//   • WithContextExtractors / WithContextValue: inject attributes from context.
//
// Commands load a Config from TASKQ_ENV, TASKQ_LOG_LEVEL and TASKQ_LOG_FORMAT
// and pass it to FromConfig.
//
// # Error Handling
//
// Helper functions Error and Errors produce attributes only when the supplied
// error value is non-nil allowing calls like:
//
//	log.Info("operation succeeded", logger.Error(err))
//
// without an additional nil check.
package logger
