//go:build pmemdebug

package check

// Enabled reports whether checks are compiled in by default.
const Enabled = true
