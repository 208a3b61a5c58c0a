// Package model defines the domain types and value objects for the
// asiaq-container CLI.
//
// This package contains pure data structures with no external dependencies.
// ImageSpec, Alias, and Mount are transient representations reconstructed
// from Docker image labels and the filesystem at runtime; there are no
// state files.
//
// The package also defines exit codes (ExitCode) and a custom error type
// (CLIError) that carries exit codes for proper OS process exit handling.
package model
