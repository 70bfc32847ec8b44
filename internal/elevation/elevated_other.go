//go:build !windows && !unix

package elevation

func IsElevated() bool {
	return false
}
