package phrase

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/atinyakov/tagkeeper/internal/errs"
)

const MaxLength = 100

// UnrecoverablePhraseWarning must be shown before a secret tag is created.
const UnrecoverablePhraseWarning = "Your activation phrase cannot be recovered or reset. " +
	"If you forget it, the tag and everything encrypted with it are lost for good."

// commonWords would fire on ordinary writing.
var commonWords = map[string]struct{}{}

func init() {
	for _, w := range strings.Fields(`
		the and for are but not you all any can had her was one our out day get has him his how
		man new now old see two way who boy did its let put say she too use yes no ok hey hi
		that this with have from they will would there their what about which when make like
		time just know take into year your good some could them than then look only come over
		think also back after work first well even want because these give most very
		hello love life home today tomorrow yesterday night morning journal diary entry note
		secret private password
	`) {
		commonWords[w] = struct{}{}
	}
}

// ValidateActivationPhrase checks a phrase chosen at tag creation: 3 to 100
// characters and not a single common word.
func ValidateActivationPhrase(p string) error {
	n := utf8.RuneCountInString(p)
	if n < MinLength || n > MaxLength {
		return fmt.Errorf("%w: activation phrase must be %d to %d characters", errs.ErrInvalidInput, MinLength, MaxLength)
	}
	if strings.TrimSpace(p) == "" {
		return fmt.Errorf("%w: activation phrase is blank", errs.ErrInvalidInput)
	}
	if _, ok := commonWords[strings.ToLower(strings.TrimSpace(p))]; ok {
		return fmt.Errorf("%w: %w", errs.ErrInvalidInput, errs.ErrDisallowedPhrase)
	}
	return nil
}
