package utils

import "strings"

const defaultBrowserUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/134.0.0.0 Safari/537.36"

// DefaultBrowserUserAgent returns the desktop Chrome UA the offers API expects.
func DefaultBrowserUserAgent() string {
	return defaultBrowserUserAgent
}

// NormalizeBrowserUserAgent keeps ua when it looks like a desktop browser and
// falls back to the default otherwise. The API rejects non-browser agents.
func NormalizeBrowserUserAgent(ua string) string {
	v := strings.TrimSpace(ua)
	if v == "" {
		return defaultBrowserUserAgent
	}
	if looksLikeBrowserUA(v) {
		return v
	}
	return defaultBrowserUserAgent
}

func looksLikeBrowserUA(ua string) bool {
	s := strings.ToLower(ua)
	if !strings.HasPrefix(s, "mozilla/") {
		return false
	}
	return strings.Contains(s, "chrome/") || strings.Contains(s, "firefox/") || strings.Contains(s, "safari/")
}
