//go:build arm64

package regdisplay

// Host returns the architecture table for the build target.
func Host() Arch {
	return ARM64()
}
