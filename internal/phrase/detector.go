// Package phrase finds activation phrases in freshly composed text.
package phrase

import (
	"context"
	"strings"
	"unicode"
	"unicode/utf8"

	"go.uber.org/zap"
)

// MinLength is the shortest phrase, in characters, the detector will match.
const MinLength = 3

// Candidate is an activation phrase the user may type for a tag.
type Candidate struct {
	TagID  string
	Phrase string
}

// Match is a detected phrase. Start and End are byte offsets into the
// scanned text.
type Match struct {
	TagID  string
	Phrase string
	Start  int
	End    int
}

// LoginStarter begins a login for tagID with the detected phrase.
type LoginStarter interface {
	StartLogin(ctx context.Context, tagID string, phrase []byte) error
}

// Detector scans text for candidate phrases.
type Detector struct {
	logger *zap.Logger
}

func NewDetector(logger *zap.Logger) *Detector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Detector{logger: logger}
}

// Scan reports the best exact, case-sensitive occurrence of a candidate in
// text. An occurrence only counts if it is not glued to letters or digits
// on either side, so a phrase never fires as part of a longer word. The
// longest matching phrase wins; ties go to the earliest occurrence.
func (d *Detector) Scan(text string, candidates []Candidate) (Match, bool) {
	var best Match
	found := false
	for _, c := range candidates {
		if utf8.RuneCountInString(c.Phrase) < MinLength {
			continue
		}
		start, ok := find(text, c.Phrase)
		if !ok {
			continue
		}
		m := Match{TagID: c.TagID, Phrase: c.Phrase, Start: start, End: start + len(c.Phrase)}
		if !found || len(m.Phrase) > len(best.Phrase) || (len(m.Phrase) == len(best.Phrase) && m.Start < best.Start) {
			best = m
			found = true
		}
	}
	return best, found
}

// ScanAndLogin runs Scan and, on a match, starts the login for the tag.
func (d *Detector) ScanAndLogin(ctx context.Context, text string, candidates []Candidate, starter LoginStarter) (Match, bool, error) {
	m, ok := d.Scan(text, candidates)
	if !ok {
		return Match{}, false, nil
	}
	d.logger.Debug("activation phrase detected", zap.String("tag_id", m.TagID))
	if err := starter.StartLogin(ctx, m.TagID, []byte(m.Phrase)); err != nil {
		return m, true, err
	}
	return m, true, nil
}

// find returns the first bounded occurrence of phrase in text.
func find(text, phrase string) (int, bool) {
	off := 0
	for off <= len(text)-len(phrase) {
		i := strings.Index(text[off:], phrase)
		if i < 0 {
			return 0, false
		}
		start := off + i
		end := start + len(phrase)
		if bounded(text, start, end) {
			return start, true
		}
		_, size := utf8.DecodeRuneInString(text[start:])
		off = start + size
	}
	return 0, false
}

func bounded(text string, start, end int) bool {
	if start > 0 {
		r, _ := utf8.DecodeLastRuneInString(text[:start])
		if isWordRune(r) {
			return false
		}
	}
	if end < len(text) {
		r, _ := utf8.DecodeRuneInString(text[end:])
		if isWordRune(r) {
			return false
		}
	}
	return true
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}
