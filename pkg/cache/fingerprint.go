package cache

import "strings"

// Fingerprint derives a stable cache key from an operation name and its
// arguments. The same operation with the same arguments always yields the
// same fingerprint, so it can be used as the memoization identity of a
// request.
func Fingerprint(op string, args ...string) string {
	if len(args) == 0 {
		return op
	}
	var b strings.Builder
	b.Grow(len(op) + len(args)*8)
	b.WriteString(op)
	for _, arg := range args {
		b.WriteByte(':')
		b.WriteString(arg)
	}
	return b.String()
}
