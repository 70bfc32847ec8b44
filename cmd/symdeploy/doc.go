// Package main hosts the symdeploy CLI and the elevated helper entrypoint.
//
// The same executable plays both roles. Invoked normally it loads the
// configuration, drives the deploy coordinator and prints summaries; invoked
// with the hidden --run flag by the elevation launcher it becomes the
// privileged helper, reads the request file and serves link operations for
// the host until told to quit.
package main
