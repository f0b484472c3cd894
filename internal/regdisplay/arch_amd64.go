//go:build amd64

package regdisplay

// Host returns the architecture table for the build target.
func Host() Arch {
	return AMD64()
}
