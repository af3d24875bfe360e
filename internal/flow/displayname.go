package flow

import (
	"strings"
	"unicode"
)

// Honorific is the fixed form-of-address prefix Alfred uses.
const Honorific = "Master"

// DisplayName derives a polite form of address from an email address: the
// first token of the local part, capitalized, prefixed with the honorific.
// When no usable token exists the honorific stands alone.
func DisplayName(email string) string {
	local, _, _ := strings.Cut(email, "@")
	name := local
	if i := strings.IndexAny(local, "._"); i >= 0 {
		name = local[:i]
	}
	if name == "" {
		return Honorific
	}
	runes := []rune(name)
	runes[0] = unicode.ToUpper(runes[0])
	return Honorific + " " + string(runes)
}
