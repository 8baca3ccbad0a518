package logger

import "log/slog"

// Config is the environment-driven logging setup shared by every taskq command.
type Config struct {
	Env    string `env:"TASKQ_ENV" envDefault:"production"`
	Level  string `env:"TASKQ_LOG_LEVEL" envDefault:"info"`
	Format Format `env:"TASKQ_LOG_FORMAT" envDefault:"json"`
}

// FromConfig builds a logger for service. Explicit level and format settings
// override the environment defaults; extra options are applied last.
// Records logged with a context from WithTask carry the task group.
func FromConfig(service string, cfg Config, extra ...Option) (*slog.Logger, error) {
	opts := []Option{WithEnvironment(cfg.Env, service), WithContextExtractors(TaskExtractor())}
	if cfg.Level != "" {
		level, err := ParseLevel(cfg.Level)
		if err != nil {
			return nil, err
		}
		opts = append(opts, WithLevel(level))
	}
	switch cfg.Format {
	case "":
	case FormatJSON:
		opts = append(opts, WithJSONFormatter())
	case FormatText:
		opts = append(opts, WithTextFormatter())
	default:
		return nil, ErrInvalidFormat
	}
	return New(append(opts, extra...)...), nil
}
