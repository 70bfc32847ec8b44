// Package logging assembles structured slog loggers and formatting helpers used
// across symdeploy.
//
// It owns the console/JSON handlers, centralizes level and output plumbing,
// and exposes context-aware helpers so coordinator code can tag log lines
// with the helper channel id and the game being deployed. Records produced in
// the elevated helper arrive over IPC and are re-emitted through the same
// handlers with the component set to "helper".
//
// Prefer these constructors over hand-rolled slog setup so every component
// emits records with the same shape.
package logging
