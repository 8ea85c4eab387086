// Package logger provides structured logging for llmhub using zerolog.
//
// The library never configures global logging on its own. Callers either
// pass a *Logger to the client or install one with SetGlobalLogger; the
// default global logger writes JSON at info level to stderr.
//
// # Configuration
//
//	logging:
//	  level: "debug"
//	  format: "console"
//
// # Usage
//
//	log := logger.WithComponent("llm")
//	log.Info("stream opened", logger.Fields(logger.FieldProvider, "deepseek"))
package logger
