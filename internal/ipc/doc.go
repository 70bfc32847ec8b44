// Package ipc implements the control channel between symdeploy and its
// elevated helper.
//
// The host listens on a unix domain socket named after the session channel
// id; the helper dials it. Messages are JSON objects, one per line, with a
// "type" field selecting one of a closed set of shapes. Each type may only
// travel in one direction and both ends enforce that, so a confused or
// hostile peer is rejected with ErrProtocol instead of being interpreted.
package ipc
