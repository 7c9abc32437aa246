package tools

import (
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
)

// maxPassageChars bounds a single passage handed back to the model.
const maxPassageChars = 4000

// CleanText turns backend text into plain markdown. Search snippets and
// scraped discussion posts often carry inline HTML (<b>, <p>, entities);
// anything that looks like markup goes through the HTML converter. On
// conversion failure the trimmed input is returned unchanged.
func CleanText(s string) string {
	s = strings.TrimSpace(s)
	if !looksLikeHTML(s) {
		return s
	}
	md, err := htmltomarkdown.ConvertString(s)
	if err != nil {
		return s
	}
	return strings.TrimSpace(md)
}

// Truncate cuts s to at most n bytes on a rune boundary, marking the cut.
func Truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !isRuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}

func looksLikeHTML(s string) bool {
	if strings.Contains(s, "&") && strings.Contains(s, ";") {
		return true
	}
	i := strings.IndexByte(s, '<')
	return i >= 0 && strings.IndexByte(s[i:], '>') > 0
}

func isRuneStart(b byte) bool { return b&0xC0 != 0x80 }
