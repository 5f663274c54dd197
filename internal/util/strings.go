package util

// SafeTruncate returns at most the first maxLen bytes of s. Tokens are
// logged through it so that only a prefix ever reaches the logs.
// A negative maxLen yields "".
func SafeTruncate(s string, maxLen int) string {
	if maxLen < 0 {
		return ""
	}
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}
