// Package slug derives identifiers from display names: lower-case slugs and
// upper-case codes used for SKUs and warehouse codes.
package slug

import (
	"fmt"
	"regexp"
	"strings"
)

var separators = regexp.MustCompile(`[^a-z0-9]+`)

// fold maps accented Latin letters to ASCII. It runs before lower-casing so
// that dotted capital I does not decompose.
var fold = strings.NewReplacer(
	"İ", "i", "ı", "i",
	"Ç", "c", "ç", "c",
	"Ğ", "g", "ğ", "g",
	"Ö", "o", "ö", "o",
	"Ş", "s", "ş", "s",
	"Ü", "u", "ü", "u",
	"Ä", "a", "ä", "a",
	"É", "e", "é", "e",
	"ß", "ss",
	"&", " and ",
)

// Generate returns name as a lower-case, hyphen-separated ASCII slug.
//
//	"Kadın Giyim"      -> "kadin-giyim"
//	"Hello   World!"   -> "hello-world"
func Generate(name string) string {
	s := strings.ToLower(fold.Replace(strings.TrimSpace(name)))
	return strings.Trim(separators.ReplaceAllString(s, "-"), "-")
}

// Code returns the upper-case slug of name. A positive seq is appended
// zero-padded to five digits.
//
//	Code("Wool Sweater", 12) -> "WOOL-SWEATER-00012"
func Code(name string, seq int) string {
	c := strings.ToUpper(Generate(name))
	if seq > 0 {
		c = fmt.Sprintf("%s-%05d", c, seq)
	}
	return c
}
