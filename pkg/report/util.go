package report

import (
	"regexp"
	"strings"
	"time"
)

func unixMilli(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

var unsafeFileChars = regexp.MustCompile(`[<>:"/\\|?*\x00-\x1f]+`)

// sanitizeFilename replaces characters that are not portable in file names.
func sanitizeFilename(name string) string {
	name = strings.TrimSpace(unsafeFileChars.ReplaceAllString(name, "_"))
	name = strings.Trim(name, ".")
	if name == "" {
		return "_"
	}
	return name
}
