//go:build !windows

package sevenzip

// setProcessAttrs is a no-op outside Windows; priority classes and affinity
// masks are a Windows scheduling concept.
func setProcessAttrs(pid int, priority, affinity string) {}
