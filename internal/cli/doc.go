// Package cli holds the error types the steward command line maps to exit
// codes, and helpers that classify lower-level errors into them.
package cli
