package phrase

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atinyakov/tagkeeper/internal/errs"
)

func TestScan(t *testing.T) {
	candidates := []Candidate{
		{TagID: "t1", Phrase: "open sesame"},
		{TagID: "t2", Phrase: "sesame"},
		{TagID: "t3", Phrase: "ab"},
		{TagID: "t4", Phrase: "blue moon"},
	}
	tests := []struct {
		name    string
		text    string
		wantTag string
		wantOK  bool
	}{
		{"exact phrase", "today I said open sesame to the door", "t1", true},
		{"whole text", "open sesame", "t1", true},
		{"longest wins", "sesame and then open sesame", "t1", true},
		{"shorter alone", "just sesame.", "t2", true},
		{"case sensitive", "Open Sesame", "", false},
		{"prefix of phrase", "open sesa", "", false},
		{"inside a word", "opensesameseeds", "", false},
		{"glued suffix", "open sesame2", "", false},
		{"punctuation bounds", "(blue moon)", "t4", true},
		{"short phrase never fires", "ab ab ab", "", false},
		{"empty text", "", "", false},
		{"later bounded occurrence", "sesameX sesame", "t2", true},
		{"unicode neighbours", "ésesame", "", false},
	}
	d := NewDetector(nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, ok := d.Scan(tt.text, candidates)
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.Equal(t, tt.wantTag, m.TagID)
				assert.Equal(t, m.Phrase, tt.text[m.Start:m.End])
			}
		})
	}
}

func TestScan_EarliestOnTie(t *testing.T) {
	d := NewDetector(nil)
	m, ok := d.Scan("big moon, then red moon", []Candidate{
		{TagID: "red", Phrase: "red moon"},
		{TagID: "big", Phrase: "big moon"},
	})
	require.True(t, ok)
	assert.Equal(t, "big", m.TagID)
	assert.Equal(t, 0, m.Start)
}

type starterFunc func(ctx context.Context, tagID string, phrase []byte) error

func (f starterFunc) StartLogin(ctx context.Context, tagID string, phrase []byte) error {
	return f(ctx, tagID, phrase)
}

func TestScanAndLogin(t *testing.T) {
	d := NewDetector(nil)
	candidates := []Candidate{{TagID: "t1", Phrase: "open sesame"}}

	var gotTag, gotPhrase string
	starter := starterFunc(func(_ context.Context, tagID string, phrase []byte) error {
		gotTag, gotPhrase = tagID, string(phrase)
		return nil
	})

	m, ok, err := d.ScanAndLogin(context.Background(), "say open sesame", candidates, starter)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "t1", m.TagID)
	assert.Equal(t, "t1", gotTag)
	assert.Equal(t, "open sesame", gotPhrase)

	called := false
	_, ok, err = d.ScanAndLogin(context.Background(), "nothing here", candidates, starterFunc(func(context.Context, string, []byte) error {
		called = true
		return nil
	}))
	require.NoError(t, err)
	assert.False(t, ok)
	assert.False(t, called)

	boom := errors.New("boom")
	_, ok, err = d.ScanAndLogin(context.Background(), "open sesame", candidates, starterFunc(func(context.Context, string, []byte) error {
		return boom
	}))
	assert.True(t, ok)
	assert.ErrorIs(t, err, boom)
}

func TestValidateActivationPhrase(t *testing.T) {
	assert.NoError(t, ValidateActivationPhrase("open sesame"))

	err := ValidateActivationPhrase("the")
	assert.ErrorIs(t, err, errs.ErrInvalidInput)
	assert.ErrorIs(t, err, errs.ErrDisallowedPhrase)

	err = ValidateActivationPhrase("The")
	assert.ErrorIs(t, err, errs.ErrDisallowedPhrase)

	err = ValidateActivationPhrase("ab")
	assert.ErrorIs(t, err, errs.ErrInvalidInput)
	assert.NotErrorIs(t, err, errs.ErrDisallowedPhrase)

	assert.ErrorIs(t, ValidateActivationPhrase("    "), errs.ErrInvalidInput)
	assert.ErrorIs(t, ValidateActivationPhrase(string(make([]rune, 101))), errs.ErrInvalidInput)
}
