// Package version holds the pushapi release version.
package version

// Version is overridden at build time with
// -ldflags "-X github.com/hashicorp-forge/pushapi/internal/version.Version=...".
var Version = "0.1.0-dev"
