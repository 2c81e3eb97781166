// Package blocking classifies fetched pages as anti-automation challenges.
package blocking

import (
	"fmt"
	"regexp"
	"strings"
)

// Error signals that the server actively resisted automated access. It
// aborts the surrounding batch or scan instead of failing the whole run.
type Error struct {
	Reason string
	URL    string
}

func (e *Error) Error() string {
	return fmt.Sprintf("blocking detected: %s (%s)", e.Reason, e.URL)
}

// Size thresholds for the short-page and Cloudflare heuristics.
const (
	shortPageBytes = 5000
	smallPageBytes = 20000
)

var shortPageKeywords = []string{"captcha", "cloudflare", "challenge", "verify"}

var titleKeywords = []string{"captcha", "challenge", "verify", "blocked", "access denied"}

var challengePatterns = []struct {
	re     *regexp.Regexp
	reason string
}{
	{regexp.MustCompile(`cloudflare.*ray.*id`), "Cloudflare protection page"},
	{regexp.MustCompile(`checking.*browser.*before.*accessing`), "Cloudflare challenge"},
	{regexp.MustCompile(`please.*complete.*security.*check`), "Security check required"},
	{regexp.MustCompile(`unusual.*traffic.*detected`), "Unusual traffic detected"},
	{regexp.MustCompile(`access.*denied.*robot`), "Access denied - robot"},
	{regexp.MustCompile(`verify.*you.*are.*human`), "Human verification required"},
	{regexp.MustCompile(`captcha.*challenge`), "CAPTCHA challenge page"},
}

var titleRe = regexp.MustCompile(`<title[^>]*>([^<]+)</title>`)

// Detect reports whether html looks like a CAPTCHA, challenge, or rate-limit
// wall, and a human-readable reason when it does. It is a pure function so it
// can be unit tested against fixture pages; heuristics are checked in order
// and the first match wins.
func Detect(html, url string) (bool, string) {
	lower := strings.ToLower(html)

	if len(html) < shortPageBytes {
		for _, kw := range shortPageKeywords {
			if strings.Contains(lower, kw) {
				return true, "suspiciously short response with blocking keywords"
			}
		}
	}

	for _, p := range challengePatterns {
		if p.re.MatchString(lower) {
			return true, p.reason
		}
	}

	if m := titleRe.FindStringSubmatch(lower); m != nil {
		title := m[1]
		for _, kw := range titleKeywords {
			if strings.Contains(title, kw) {
				if len(title) > 50 {
					title = title[:50]
				}
				return true, "blocking page title: " + title
			}
		}
	}

	if strings.Contains(lower, "cf-ray") && len(html) < smallPageBytes {
		if strings.Contains(lower, "challenge") || strings.Contains(lower, "checking") {
			return true, "Cloudflare challenge page"
		}
	}

	return false, ""
}

// Check wraps Detect, returning a *Error when the page is blocked.
func Check(html, url string) error {
	if blocked, reason := Detect(html, url); blocked {
		return &Error{Reason: reason, URL: url}
	}
	return nil
}
