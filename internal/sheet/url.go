package sheet

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	keyWithGIDRe = regexp.MustCompile(`/d/([a-zA-Z0-9_-]+)/.*gid=(\d+)`)
	keyEditRe    = regexp.MustCompile(`/d/([a-zA-Z0-9_-]+)/edit`)
	bareKeyRe    = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
)

const exportURLFormat = "https://docs.google.com/spreadsheets/d/%s/export?format=csv&gid=%s"

// NormalizeURL turns a spreadsheet link, or a bare document key, into its CSV
// export URL. Unrecognised input is returned unchanged.
func NormalizeURL(raw string) string {
	raw = strings.TrimSpace(raw)

	if strings.Contains(raw, "/export?") {
		return raw
	}
	if m := keyWithGIDRe.FindStringSubmatch(raw); m != nil {
		return fmt.Sprintf(exportURLFormat, m[1], m[2])
	}
	if m := keyEditRe.FindStringSubmatch(raw); m != nil {
		return fmt.Sprintf(exportURLFormat, m[1], "0")
	}
	if bareKeyRe.MatchString(raw) {
		return fmt.Sprintf(exportURLFormat, raw, "0")
	}
	return raw
}
