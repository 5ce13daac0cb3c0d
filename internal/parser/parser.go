package parser

import (
	"bufio"
	"io"
	"os"
	"strings"
	"time"

	"github.com/conorfennell/studyfrog/internal/domain"
)

const (
	questionPrefix   = "Q:"
	answerPrefix     = "A:"
	notePrefix       = "N:"
	difficultyPrefix = "D:"
	priorityPrefix   = "P:"
	separator        = "---"
)

type state int

const (
	seeking state = iota
	readingQuestion
	readingAnswer
	readingNote
	readingMeta
)

// Entry is one flashcard or note found in a file. Difficulty and Priority
// hold catalog names such as "hard", not keys.
type Entry struct {
	Kind       domain.Kind
	Front      string
	Back       string
	Title      string
	Text       string
	Difficulty string
	Priority   string
	// Line is the 1-based line the entry starts on.
	Line int
}

// Content returns a transient content item for the entry.
func (e Entry) Content(now time.Time) domain.Content {
	if e.Kind == domain.KindNote {
		return domain.NewNote(e.Title, e.Text, now)
	}
	return domain.NewFlashcard(e.Front, e.Back, now)
}

func (e Entry) empty() bool {
	if e.Kind == domain.KindNote {
		return e.Title == "" && e.Text == ""
	}
	return e.Front == ""
}

// ParseFile reads a file from the given path and extracts all entries.
func ParseFile(path string) ([]Entry, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return Parse(file)
}

// Parse reads from an io.Reader and extracts all entries. A Q: or N: line
// starts a new entry, as does a --- separator.
func Parse(r io.Reader) ([]Entry, error) {
	scanner := bufio.NewScanner(r)
	var entries []Entry
	var current Entry
	var block []string
	currentState := seeking
	lineNo := 0

	flushBlock := func() {
		if len(block) == 0 {
			return
		}
		content := strings.TrimSpace(strings.Join(block, "\n"))
		switch currentState {
		case readingQuestion:
			current.Front = content
		case readingAnswer:
			current.Back = content
		case readingNote:
			title, text, found := strings.Cut(content, "\n")
			if found {
				current.Title, current.Text = strings.TrimSpace(title), strings.TrimSpace(text)
			} else {
				current.Text = content
			}
		}
		block = nil
	}

	finishEntry := func() {
		flushBlock()
		if current.Kind != "" && !current.empty() {
			entries = append(entries, current)
		}
		current = Entry{}
		currentState = seeking
	}

	start := func(kind domain.Kind, s state, rest string) {
		finishEntry()
		current = Entry{Kind: kind, Line: lineNo}
		currentState = s
		block = append(block, rest)
	}

	for scanner.Scan() {
		lineNo++
		line := scanner.Text()

		switch {
		case strings.TrimSpace(line) == separator:
			finishEntry()
		case strings.HasPrefix(line, questionPrefix):
			start(domain.KindFlashcard, readingQuestion, value(line, questionPrefix))
		case strings.HasPrefix(line, notePrefix):
			start(domain.KindNote, readingNote, value(line, notePrefix))
		case strings.HasPrefix(line, answerPrefix) && current.Kind == domain.KindFlashcard:
			flushBlock()
			currentState = readingAnswer
			block = append(block, value(line, answerPrefix))
		case strings.HasPrefix(line, difficultyPrefix) && current.Kind != "":
			flushBlock()
			currentState = readingMeta
			current.Difficulty = strings.ToLower(strings.TrimSpace(value(line, difficultyPrefix)))
		case strings.HasPrefix(line, priorityPrefix) && current.Kind != "":
			flushBlock()
			currentState = readingMeta
			current.Priority = strings.ToLower(strings.TrimSpace(value(line, priorityPrefix)))
		case currentState != seeking && currentState != readingMeta:
			block = append(block, line)
		}
	}

	finishEntry() // Finish the very last entry in the file

	if err := scanner.Err(); err != nil {
		return nil, err
	}

	return entries, nil
}

// value strips a prefix and one following space.
func value(line, prefix string) string {
	return strings.TrimPrefix(line[len(prefix):], " ")
}
