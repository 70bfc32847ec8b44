// Package deploy sequences link and unlink operations through a single
// elevated helper process.
//
// A Coordinator owns at most one helper session. Start asks for consent,
// opens a per-session IPC socket, launches the helper through an
// elevation.Launcher and waits for its initialised handshake. LinkFile and
// UnlinkFile stream requests over the channel without waiting for the
// filesystem work; completions are correlated by operation number and
// collected into the Summary returned by Finalize. Once the outstanding set
// drains, a quit timer keeps the helper around for a short grace period so
// a following burst of work reuses the same consent prompt.
package deploy
