// Package helpers holds small text and time utilities shared by the engine and
// the plugins.
package helpers

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/hako/durafmt"
)

// MaxMessageLength keeps "PRIVMSG <target> :<text>" plus the server supplied
// prefix inside the 512 byte protocol limit.
const MaxMessageLength = 400

// WrapText splits input into lines no longer than limit bytes, breaking on
// newlines first and then between words. Words longer than limit are cut on
// a rune boundary.
// Blank lines are dropped.
func WrapText(input string, limit int) []string {
	if limit <= 0 {
		limit = MaxMessageLength
	}

	var result []string
	for _, line := range strings.Split(strings.ReplaceAll(input, "\r", ""), "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}

		var currentLine strings.Builder
		for _, word := range strings.Fields(line) {
			for len(word) > limit {
				if currentLine.Len() > 0 {
					result = append(result, currentLine.String())
					currentLine.Reset()
				}
				cut := limit
				for cut > 0 && !utf8.RuneStart(word[cut]) {
					cut--
				}
				if cut == 0 {
					// A single rune wider than limit.
					_, cut = utf8.DecodeRuneInString(word)
				}
				result = append(result, word[:cut])
				word = word[cut:]
			}

			switch {
			case currentLine.Len() == 0:
				currentLine.WriteString(word)
			case currentLine.Len()+len(word)+1 <= limit:
				currentLine.WriteString(" ")
				currentLine.WriteString(word)
			default:
				result = append(result, currentLine.String())
				currentLine.Reset()
				currentLine.WriteString(word)
			}
		}
		if currentLine.Len() > 0 {
			result = append(result, currentLine.String())
		}
	}

	return result
}

// Since renders the time elapsed since t, keeping the largest units only.
func Since(t time.Time) string {
	if t.IsZero() {
		return "never"
	}

	return durafmt.Parse(time.Since(t).Round(time.Second)).LimitFirstN(3).String()
}
