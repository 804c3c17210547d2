//go:build !notiming

package eventtimer

// Enabled reports whether the store records anything. Building with the
// notiming tag turns every Store operation into an immediate return.
const Enabled = true
