//go:build notiming

package eventtimer

// Enabled reports whether the store records anything. This build was
// compiled with the notiming tag, so every Store operation is a no-op.
const Enabled = false
