// Package classifier decides whether a code delta looks pasted rather than typed.
//
// The verdict is a heuristic: identical inputs always give the same answer, but false
// positives and negatives are expected.
package classifier

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	// MinPasteLen is the smallest length change that can be a paste.
	MinPasteLen = 10
	// TimeThreshold is the elapsed time at or above which a change counts as typed.
	TimeThreshold = 120 * time.Millisecond
	// NewlineDiff is the newline growth that marks a change as structured.
	NewlineDiff = 2
	// DeclaredPasteWindow bounds how fast a client-declared paste must follow the
	// previous event for the server to confirm it.
	DeclaredPasteWindow = time.Second
)

const maxPlaceholder = 64

var structuredPattern = regexp.MustCompile(`[{}\[\]();,'"=<>+\-\s]{3,}`)

// ErrMalformedInput is wrapped by every ClassificationError.
var ErrMalformedInput = errors.New("classifier: malformed input")

// ClassificationError reports inputs the heuristic cannot reason about.
type ClassificationError struct {
	Reason string
}

func (e *ClassificationError) Error() string {
	return fmt.Sprintf("classifier: %s", e.Reason)
}

func (e *ClassificationError) Unwrap() error { return ErrMalformedInput }

// Snapshot describes editor content at one point in time. Text is only set when raw
// content is available for the current call and must never be retained.
type Snapshot struct {
	Text     string
	HasText  bool
	Length   int
	Newlines int
}

// FromText builds a snapshot around raw content.
func FromText(s string) Snapshot {
	return Snapshot{
		Text:     s,
		HasText:  true,
		Length:   utf8.RuneCountInString(s),
		Newlines: strings.Count(s, "\n"),
	}
}

// Synthetic builds a length-only snapshot.
func Synthetic(length, newlines int) Snapshot {
	return Snapshot{Length: length, Newlines: newlines}
}

// Classify reports whether the change from prev to cur over elapsed looks like a paste.
func Classify(prev, cur Snapshot, elapsed time.Duration) (bool, error) {
	if prev.Length < 0 || cur.Length < 0 {
		return false, &ClassificationError{Reason: "negative content length"}
	}
	if prev.Newlines < 0 || cur.Newlines < 0 {
		return false, &ClassificationError{Reason: "negative newline count"}
	}
	if elapsed < 0 {
		return false, &ClassificationError{Reason: "negative elapsed time"}
	}

	delta := cur.Length - prev.Length
	if delta < 0 {
		delta = -delta
	}
	if delta < MinPasteLen {
		return false, nil
	}
	if elapsed >= TimeThreshold {
		return false, nil
	}

	if cur.Newlines-prev.Newlines >= NewlineDiff {
		return true, nil
	}
	return structuredPattern.MatchString(AddedText(prev, cur)), nil
}

// LooksLikePaste is Classify with classification failures mapped to false.
func LooksLikePaste(prev, cur Snapshot, elapsed time.Duration) bool {
	ok, err := Classify(prev, cur, elapsed)
	if err != nil {
		return false
	}
	return ok
}

// AddedText returns the inserted portion of cur. When cur extends prev that is the suffix
// after prev; when cur does not extend prev it is all of cur. A length-only prev is
// taken as a prefix of its length, so a longer cur yields its characters past that
// length. Without raw content for cur the insertion is a whitespace placeholder of the
// length difference, capped at maxPlaceholder characters.
func AddedText(prev, cur Snapshot) string {
	switch {
	case cur.HasText && prev.HasText:
		if strings.HasPrefix(cur.Text, prev.Text) {
			return cur.Text[len(prev.Text):]
		}
		return cur.Text
	case cur.HasText:
		if runes := []rune(cur.Text); prev.Length >= 0 && prev.Length < len(runes) {
			return string(runes[prev.Length:])
		}
		return cur.Text
	}
	n := cur.Length - prev.Length
	if n < 0 {
		n = -n
	}
	if n > maxPlaceholder {
		n = maxPlaceholder
	}
	return strings.Repeat(" ", n)
}

// ConfirmsDeclaredPaste reports whether a client-declared paste of declaredLen
// characters, arriving elapsed after the previous event, is large and fast enough to be
// recorded as a server-detected paste.
func ConfirmsDeclaredPaste(declaredLen int, elapsed time.Duration) bool {
	window := DeclaredPasteWindow
	if TimeThreshold > window {
		window = TimeThreshold
	}
	return declaredLen >= MinPasteLen && elapsed >= 0 && elapsed < window
}
