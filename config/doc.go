// Package config loads llmhub configuration from YAML files, .env files and
// the process environment.
//
// Files are resolved in this order: an explicit path passed with
// WithConfigFile, then <name>.yml, config/<name>.yml and config.yml in the
// working directory and up to two parents. A .env file, when found, is
// loaded into the process environment without overriding variables that are
// already set. Environment variables override file values using the
// upper-cased, underscore-separated key path (LOGGING_LEVEL for
// logging.level), optionally behind a prefix set with WithEnvPrefix.
//
// # Usage
//
//	var cfg struct {
//	    Logging logger.Config `mapstructure:"logging"`
//	}
//	err := config.LoadConfig("llmhub", &cfg)
package config
