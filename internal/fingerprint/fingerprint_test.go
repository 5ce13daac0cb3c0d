package fingerprint

import (
	"crypto/sha256"
	"fmt"
	"testing"
	"time"

	"github.com/conorfennell/studyfrog/internal/domain"
)

var now = time.Date(2025, 6, 15, 10, 0, 0, 0, time.UTC)

func TestNormalize(t *testing.T) {
	testCases := []struct {
		name     string
		content  domain.Content
		expected string
	}{
		{
			name:     "flashcard",
			content:  domain.NewFlashcard("  What is HTMX? \r\n", "A library for AJAX.", now),
			expected: "flashcard\nwhat is htmx?\na library for ajax.",
		},
		{
			name:     "note",
			content:  domain.NewNote("Primes", "Divisible by 1\r\nand itself", now),
			expected: "note\nprimes\ndivisible by 1\nand itself",
		},
		{
			name:     "question",
			content:  domain.NewQuestion("Pick one", []string{"ANSWER_1", "ANSWER_2"}, now),
			expected: "question\npick one\nanswer_1\nanswer_2",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Normalize(tc.content); got != tc.expected {
				t.Errorf("Expected normalized string to be '%s', but got '%s'", tc.expected, got)
			}
		})
	}
}

func TestOf(t *testing.T) {
	t.Run("generates correct hash", func(t *testing.T) {
		c := domain.NewFlashcard("Q", "A", now)
		expected := fmt.Sprintf("%x", sha256.Sum256([]byte("flashcard\nq\na")))
		if got := Of(c); got != expected {
			t.Errorf("Expected hash '%s', but got '%s'", expected, got)
		}
	})

	t.Run("ignores identity and schedule", func(t *testing.T) {
		a := domain.NewFlashcard("Test", "", now)
		b := domain.NewFlashcard("Test", "", now.Add(time.Hour))
		next := now.AddDate(0, 0, 3)
		b.NextViewOn = &next
		b.Difficulty = "DIFFICULTY_3"
		if Of(a) != Of(b) {
			t.Error("Expected hashes for identical cards to be the same")
		}
	})

	t.Run("normalization produces same hash", func(t *testing.T) {
		a := domain.NewFlashcard("  what is go? ", "A programming language.", now)
		b := domain.NewFlashcard("What Is Go?", "A programming language.", now)
		if Of(a) != Of(b) {
			t.Error("Expected hashes to be the same after normalization, but they were different.")
		}
	})

	t.Run("kind is part of the hash", func(t *testing.T) {
		card := domain.NewFlashcard("Same", "text", now)
		note := domain.NewNote("Same", "text", now)
		if Of(card) == Of(note) {
			t.Error("Expected a flashcard and a note with the same text to differ")
		}
	})
}
