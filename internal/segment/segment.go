package segment

import (
	"strings"
)

// DefaultMarkers are the heading words that open a new chapter.
var DefaultMarkers = []string{"Chapter", "Глава"}

// Chapter is one contiguous narrative unit of a document.
type Chapter struct {
	Index int    `json:"index"`
	Title string `json:"title,omitempty"` // Trimmed heading line; empty for text before the first heading.
	Text  string `json:"text"`
}

// Split breaks text into chapters at lines that, once trimmed, start with
// one of the heading markers. Every line keeps a trailing newline. Text
// before the first heading becomes its own chapter. Empty input yields no
// chapters.
func Split(text string, markers ...string) []Chapter {
	if len(markers) == 0 {
		markers = DefaultMarkers
	}

	var chapters []Chapter
	var current strings.Builder
	title := ""

	flush := func() {
		if current.Len() == 0 {
			return
		}
		chapters = append(chapters, Chapter{
			Index: len(chapters),
			Title: title,
			Text:  current.String(),
		})
		current.Reset()
	}

	for _, line := range Lines(text) {
		if isHeading(line, markers) {
			flush()
			title = strings.TrimSpace(line)
		}
		current.WriteString(line)
		current.WriteByte('\n')
	}
	flush()

	return chapters
}

// Titles returns the heading of every chapter, in order.
func Titles(chapters []Chapter) []string {
	titles := make([]string, 0, len(chapters))
	for _, ch := range chapters {
		titles = append(titles, ch.Title)
	}
	return titles
}

func isHeading(line string, markers []string) bool {
	trimmed := strings.TrimSpace(line)
	for _, m := range markers {
		if m != "" && strings.HasPrefix(trimmed, m) {
			return true
		}
	}
	return false
}

// Lines splits on \n, \r\n, \r and form feed. A trailing terminator does
// not produce an extra empty line.
func Lines(text string) []string {
	var out []string
	for len(text) > 0 {
		i := strings.IndexAny(text, "\r\n\f")
		if i < 0 {
			out = append(out, text)
			break
		}
		out = append(out, text[:i])
		n := 1
		if text[i] == '\r' && i+1 < len(text) && text[i+1] == '\n' {
			n = 2
		}
		text = text[i+n:]
	}
	return out
}
