package main

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/atinyakov/tagkeeper/internal/errs"
	"github.com/atinyakov/tagkeeper/internal/phrase"
)

func TestShell_Unwatch(t *testing.T) {
	s := &shell{candidates: []phrase.Candidate{
		{TagID: "a", Phrase: "blue harbor"},
		{TagID: "b", Phrase: "quiet lantern"},
		{TagID: "a", Phrase: "blue harbor again"},
	}}
	s.unwatch("a")
	assert.Equal(t, []phrase.Candidate{{TagID: "b", Phrase: "quiet lantern"}}, s.candidates)
}

func TestDescribe(t *testing.T) {
	cases := map[error]string{
		fmt.Errorf("login: %w", errs.ErrAuthenticationFailed): "wrong phrase or unknown tag",
		errs.ErrSessionNotActive:                             "tag is not unlocked",
		errs.ErrNetworkUnavailable:                           "server unreachable",
		errs.ErrRateLimited:                                  "too many attempts, try again later",
		errs.ErrDuplicateName:                                errs.ErrDuplicateName.Error(),
	}
	for err, want := range cases {
		assert.Equal(t, want, describe(err))
	}
}

func TestOfflineAPI(t *testing.T) {
	_, err := offlineAPI{}.ListSecretTags(context.Background())
	assert.ErrorIs(t, err, errs.ErrNetworkUnavailable)
	assert.ErrorIs(t, offlineAPI{}.DeleteSecretTag(context.Background(), "tag-1"), errs.ErrNetworkUnavailable)
}
