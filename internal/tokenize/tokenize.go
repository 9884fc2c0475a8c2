// Package tokenize splits annotation text into alignable word tokens.
package tokenize

import "strings"

// Words splits on runs of Unicode whitespace.
func Words(text string) []string {
	return strings.Fields(text)
}

// Contains reports whether token is one of the words of text.
func Contains(text, token string) bool {
	token = strings.TrimSpace(token)
	if token == "" {
		return false
	}
	for _, w := range Words(text) {
		if w == token {
			return true
		}
	}
	return false
}
