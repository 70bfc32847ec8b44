// Package elevation crosses the administrator boundary.
//
// A Request names one of the handlers compiled into the helper and carries
// its arguments as individually encoded JSON values, so nothing but data
// crosses into the elevated process. ShellLauncher writes the request to a
// temp file and re-runs the current executable through the Windows "runas"
// verb; on other platforms launching fails with ErrUnsupportedPlatform.
package elevation
