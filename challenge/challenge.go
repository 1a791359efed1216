// Package challenge recognises anti-bot verification interstitials in
// rendered page content. Detection is a fixed substring scan: a variant
// that carries none of the known markers looks like an ordinary page.
package challenge

import "strings"

// markers are substrings found on the verification pages served by the
// site's edge layer. Order does not matter.
var markers = []string{
	"人間であることを確認",
	"Please stand by, while we are checking your browser",
	"Checking if the site connection is secure",
	"hcaptcha-box",
}

// Detect reports whether html contains any known challenge marker.
func Detect(html string) bool {
	return Match(html) != ""
}

// Match returns the first marker found in html, or "" when none is present.
func Match(html string) string {
	if html == "" {
		return ""
	}
	for _, m := range markers {
		if strings.Contains(html, m) {
			return m
		}
	}
	return ""
}

// Markers returns a copy of the marker list.
func Markers() []string {
	out := make([]string, len(markers))
	copy(out, markers)
	return out
}
