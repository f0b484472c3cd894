//go:build !amd64 && !arm64

package regdisplay

// Host returns the architecture table for the build target. Targets without
// a native layout walk recorded images only, for which the amd64 table is
// the interchange default.
func Host() Arch {
	return AMD64()
}
