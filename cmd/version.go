// File: cmd/version.go
package cmd

// Version is stamped at build time via -ldflags "-X ...cmd.Version=".
var Version = "0.3.0-dev"
