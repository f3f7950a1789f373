package knowledge

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

var (
	blankRunPattern = regexp.MustCompile(`\n{3,}`)
	whitespaceRun   = regexp.MustCompile(`\s+`)
)

// CleanText normalizes extracted document text: every line is trimmed and has
// its internal whitespace squeezed, and runs of blank lines collapse to one.
func CleanText(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		line = whitespaceRun.ReplaceAllString(strings.TrimSpace(line), " ")
		if line == "" && (len(out) == 0 || out[len(out)-1] == "") {
			continue
		}
		out = append(out, line)
	}

	cleaned := blankRunPattern.ReplaceAllString(strings.Join(out, "\n"), "\n\n")
	return strings.TrimSpace(cleaned)
}

// DecodeText returns data as a string, reading it as UTF-8 when valid and as
// Latin-1 otherwise. The second result names the encoding used.
func DecodeText(data []byte) (string, string) {
	data = trimBOM(data)
	if utf8.Valid(data) {
		return string(data), "utf-8"
	}
	decoded, err := charmap.ISO8859_1.NewDecoder().Bytes(data)
	if err != nil {
		return strings.ToValidUTF8(string(data), "�"), "utf-8"
	}
	return string(decoded), "latin-1"
}

func trimBOM(data []byte) []byte {
	if len(data) >= 3 && data[0] == 0xEF && data[1] == 0xBB && data[2] == 0xBF {
		return data[3:]
	}
	return data
}
