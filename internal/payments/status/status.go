// Package status classifies provider payment statuses.
package status

import "strings"

var successTokens = map[string]struct{}{
	"succeeded": {},
	"completed": {},
	"paid":      {},
	"success":   {},
}

func Normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// IsSuccess reports whether s is one of the provider tokens for a captured charge.
func IsSuccess(s string) bool {
	_, ok := successTokens[Normalize(s)]
	return ok
}
