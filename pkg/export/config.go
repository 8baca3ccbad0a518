package export

import "time"

// Config selects where monitor reports go. When both are set, S3 wins.
type Config struct {
	// FilePath is overwritten atomically on every export.
	FilePath string `env:"TASKQ_EXPORT_FILE"`
	Format   Format `env:"TASKQ_EXPORT_FORMAT" envDefault:"json"`

	S3Bucket         string `env:"TASKQ_EXPORT_S3_BUCKET"`
	S3Region         string `env:"TASKQ_EXPORT_S3_REGION" envDefault:"us-east-1"`
	S3Prefix         string `env:"TASKQ_EXPORT_S3_PREFIX" envDefault:"taskq/reports"`
	S3Endpoint       string `env:"TASKQ_EXPORT_S3_ENDPOINT"`
	S3AccessKeyID    string `env:"TASKQ_EXPORT_S3_ACCESS_KEY_ID"`
	S3SecretKey      string `env:"TASKQ_EXPORT_S3_SECRET_KEY"`
	S3ForcePathStyle bool   `env:"TASKQ_EXPORT_S3_FORCE_PATH_STYLE" envDefault:"false"`

	Interval      time.Duration `env:"TASKQ_EXPORT_INTERVAL" envDefault:"30s"`
	UploadTimeout time.Duration `env:"TASKQ_EXPORT_UPLOAD_TIMEOUT" envDefault:"30s"`
}

// Enabled reports whether any destination is configured.
func (c Config) Enabled() bool {
	return c.FilePath != "" || c.S3Bucket != ""
}
