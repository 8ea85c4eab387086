// Package version reports the llmhub build, for the HTTP User-Agent and the
// telemetry service version.
//
// The version and commit can be stamped at build time:
//
//	go build -ldflags "-X github.com/akirco/llmhub/version.Version=1.2.0"
package version
