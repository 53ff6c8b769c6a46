// Package execution schedules virtual users. Each execution mode decides how
// many VUs run and when they stop; the VU loop shared by all modes runs
// iterations, counts them exactly once and implements graceful stop followed
// by forced cancellation.
package execution
