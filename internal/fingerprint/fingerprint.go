package fingerprint

import (
	"crypto/sha256"
	"fmt"
	"strings"

	"github.com/conorfennell/studyfrog/internal/domain"
)

// Normalize concatenates the content's kind and text fields after cleaning
// each part. It trims whitespace, lowercases, and normalizes line endings for
// each field before joining them.
func Normalize(c domain.Content) string {
	normalizePart := func(part string) string {
		p := strings.ToLower(part)
		p = strings.ReplaceAll(p, "\r\n", "\n")
		p = strings.TrimSpace(p)
		return p
	}

	var parts []string
	switch c.Type {
	case domain.KindFlashcard:
		parts = []string{c.Front, c.Back}
	case domain.KindNote:
		parts = []string{c.Title, c.Text}
	case domain.KindQuestion:
		parts = append([]string{c.Text}, c.Answers...)
	}
	out := []string{strings.ToLower(string(c.Type))}
	for _, p := range parts {
		out = append(out, normalizePart(p))
	}

	// Joined with a newline so "question" and "answer" never become
	// "questionanswer".
	return strings.Join(out, "\n")
}

// Of normalizes content and returns its SHA-256 hash as a hex string.
func Of(c domain.Content) string {
	sum := sha256.Sum256([]byte(Normalize(c)))
	return fmt.Sprintf("%x", sum)
}
