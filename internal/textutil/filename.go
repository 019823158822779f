package textutil

import (
	"fmt"
	"strings"
	"unicode"
)

const maxFileNameRunes = 96

var fileNameReplacer = strings.NewReplacer(
	"/", "-",
	"\\", "-",
	":", "-",
	"*", "-",
	"?", "",
	"\"", "",
	"<", "",
	">", "",
	"|", "",
)

// SanitizeFileName replaces characters that are unsafe in file names.
// Separators become dashes, other unsafe characters and control characters
// are dropped, runs of whitespace collapse to one space, and the result is
// capped at a length every common filesystem accepts.
func SanitizeFileName(name string) string {
	name = fileNameReplacer.Replace(name)
	name = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, name)
	name = strings.Join(strings.Fields(name), " ")
	if runes := []rune(name); len(runes) > maxFileNameRunes {
		name = strings.TrimSpace(string(runes[:maxFileNameRunes]))
	}
	return strings.Trim(name, ". ")
}

// VideoFileName names the download for a project's video. The sanitized
// title is used when it has any content left, otherwise project_<id>.
func VideoFileName(title string, projectID int64, ext string) string {
	if ext == "" {
		ext = ".mp4"
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	base := SanitizeFileName(title)
	if base == "" {
		base = fmt.Sprintf("project_%d", projectID)
	}
	return base + ext
}
