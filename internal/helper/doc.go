// Package helper is the runtime of the elevated process.
//
// The host re-runs its own executable with --run <request file>. RunFile
// decodes the request, dials the host's channel, announces itself with the
// token from the request and hands each incoming operation to the handler
// registered under the request's handler name. Log records are forwarded to
// the host over the same channel.
package helper
