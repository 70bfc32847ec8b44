// Package preflight provides readiness checks for the directories and
// platform capabilities symdeploy depends on.
//
// The CLI "symdeploy support" command runs RunAll and shows each result next
// to the capability gate, so a user can see before deploying whether the
// mods and game directories are reachable and whether this account can
// create symbolic links without the elevated helper.
package preflight
