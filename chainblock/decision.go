package chainblock

import (
	"fmt"

	"github.com/redblock-app/chainblock/keyword"
	"github.com/redblock-app/chainblock/models"
)

// WhatToDoGivenUser decides the verb for one candidate. The order of the
// checks matters: relationship categories win over the purpose's default.
//
// bio may be nil. When it has patterns, candidates whose profile text
// matches none of them are skipped.
func WhatToDoGivenUser(req *models.SessionRequest, c *models.Candidate, bio *keyword.Matcher) (models.Verb, error) {
	if c.Following == nil || c.FollowedBy == nil {
		return "", fmt.Errorf("%w: %s", ErrMalformedCandidate, c.DID)
	}
	isMyFollowing := *c.Following || c.FollowRequestSent
	isMyFollower := *c.FollowedBy
	opts := &req.Options

	if isMyFollower && isMyFollowing {
		return models.VerbSkip, nil
	}
	// lockpicker candidates are all followers; only mutuals are spared
	if isMyFollower && req.Purpose != models.PurposeLockPicker {
		return opts.MyFollowers, nil
	}
	if isMyFollowing {
		return opts.MyFollowings, nil
	}
	if req.Purpose == models.PurposeUnChainBlock && opts.MutualBlocked != nil && c.BlockedBy {
		return *opts.MutualBlocked, nil
	}
	if !bio.Empty() {
		if _, ok := bio.MatchAny(c.Description, c.DisplayName, c.Handle); !ok {
			return models.VerbSkip, nil
		}
	}

	verb, err := req.Purpose.DefaultVerb()
	if err != nil {
		return "", err
	}
	if isAlreadyDone(c, verb, opts.MuteEvenAlreadyBlocking) {
		return models.VerbAlreadyDone, nil
	}
	return verb, nil
}

// isAlreadyDone is false whenever the block/mute state is unknown.
func isAlreadyDone(c *models.Candidate, verb models.Verb, muteEvenAlreadyBlocking bool) bool {
	if c.Blocking == nil || c.Muting == nil {
		return false
	}
	blocking, muting := *c.Blocking, *c.Muting
	switch verb {
	case models.VerbBlock:
		return blocking
	case models.VerbUnBlock:
		return !blocking
	case models.VerbMute:
		return muting || (blocking && !muteEvenAlreadyBlocking)
	case models.VerbUnMute:
		return !muting
	}
	return false
}
