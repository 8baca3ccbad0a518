// Package config fills env-tagged structs from the process environment, with
// optional .env files loaded first through github.com/joho/godotenv and
// parsing done by github.com/caarlos0/env/v11.
//
// Every taskq component owns its Config struct (queue.Config, pg.Config,
// redis.Config, api.Config and so on); this package only knows how to load
// them. Values already exported in the shell always win over .env files.
//
//	if err := config.LoadEnv("/etc/taskq/taskq.env"); err != nil {
//	    return err
//	}
//	var cfg queue.Config
//	if err := config.Load(&cfg); err != nil {
//	    return err
//	}
//
// Load caches the parsed value per struct type, so long-running services pay
// the parse cost once. Callers that must observe environment changes, such as
// the CLI running several commands in one process, use ForceReloadConfig, and
// tests can clear everything with ResetCache.
//
// Failures are reported through ErrParsingConfig, ErrLoadingEnvFile,
// ErrConfigNotLoaded and ErrNilPointer, all comparable with errors.Is.
package config
