// Package journal keeps a local SQLite history of deploy and purge runs.
//
// Each run row records the command, game and target directory plus a final
// status. The outcome of every link or unlink the elevated helper performed
// is stored alongside so `symdeploy journal` can show what failed and why
// without re-running the deployment.
package journal
