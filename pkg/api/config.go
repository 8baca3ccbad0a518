package api

import "time"

type Config struct {
	Addr            string        `env:"TASKQ_API_ADDR" envDefault:":8080"`
	ReadTimeout     time.Duration `env:"TASKQ_API_READ_TIMEOUT" envDefault:"30s"`
	WriteTimeout    time.Duration `env:"TASKQ_API_WRITE_TIMEOUT" envDefault:"30s"`
	IdleTimeout     time.Duration `env:"TASKQ_API_IDLE_TIMEOUT" envDefault:"120s"`
	ShutdownTimeout time.Duration `env:"TASKQ_API_SHUTDOWN_TIMEOUT" envDefault:"5s"`
}

// NewServerFromConfig creates a Server from cfg. Zero values keep defaults.
func NewServerFromConfig(cfg Config, opts ...ServerOption) *Server {
	configOpts := make([]ServerOption, 0, 5+len(opts))
	if cfg.Addr != "" {
		configOpts = append(configOpts, WithAddr(cfg.Addr))
	}
	if cfg.ReadTimeout > 0 {
		configOpts = append(configOpts, WithReadTimeout(cfg.ReadTimeout))
	}
	if cfg.WriteTimeout > 0 {
		configOpts = append(configOpts, WithWriteTimeout(cfg.WriteTimeout))
	}
	if cfg.IdleTimeout > 0 {
		configOpts = append(configOpts, WithIdleTimeout(cfg.IdleTimeout))
	}
	if cfg.ShutdownTimeout > 0 {
		configOpts = append(configOpts, WithShutdownTimeout(cfg.ShutdownTimeout))
	}
	return NewServer(append(configOpts, opts...)...)
}
