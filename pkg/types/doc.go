// Package types defines the data structures shared across the load engine:
// execution modes and stages, threshold declarations, and the end-of-run
// summary report.
package types
