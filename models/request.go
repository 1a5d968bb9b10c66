package models

import (
	"errors"
	"fmt"
	"slices"

	"github.com/redblock-app/chainblock/keyword"
)

type TargetType string

const (
	TargetFollower      TargetType = "follower"
	TargetTweetReaction TargetType = "tweet_reaction"
	TargetImport        TargetType = "import"
	TargetUserSearch    TargetType = "user_search"
	TargetLockPicker    TargetType = "lockpicker"
)

// Which side of a user's social graph to walk.
type FollowKind string

const (
	FollowKindFollowers       FollowKind = "followers"
	FollowKindFollows         FollowKind = "follows"
	FollowKindMutualFollowers FollowKind = "mutual-followers"
)

type UserRef struct {
	DID    string `json:"did"`
	Handle string `json:"handle,omitempty"`
	// follower/follows counts, as known when the request was built
	FollowersCount *int64 `json:"followersCount,omitempty"`
	FollowsCount   *int64 `json:"followsCount,omitempty"`
}

type PostRef struct {
	URI         string `json:"uri"`
	CID         string `json:"cid,omitempty"`
	LikeCount   *int64 `json:"likeCount,omitempty"`
	RepostCount *int64 `json:"repostCount,omitempty"`
}

// Target is a tagged union on Type; only the fields for that type are set.
type Target struct {
	Type TargetType `json:"type"`

	// follower, lockpicker
	User *UserRef   `json:"user,omitempty"`
	List FollowKind `json:"list,omitempty"`

	// tweet_reaction
	Post             *PostRef `json:"post,omitempty"`
	IncludeReposters bool     `json:"includeReposters,omitempty"`
	IncludeLikers    bool     `json:"includeLikers,omitempty"`

	// import
	DIDs []string `json:"dids,omitempty"`

	// user_search
	Query string `json:"query,omitempty"`
}

type Options struct {
	MyFollowers  Verb `json:"myFollowers"`
	MyFollowings Verb `json:"myFollowings"`
	// only meaningful for unchainblock; nil means "not defined"
	MutualBlocked *Verb `json:"mutualBlocked,omitempty"`

	// when false, Mute against an already-blocked account is AlreadyDone
	MuteEvenAlreadyBlocking bool `json:"muteEvenAlreadyBlocking,omitempty"`

	// bio-block: when non-empty, only accounts whose profile text matches
	// one of these are acted on
	BioKeywords []keyword.Pattern `json:"bioKeywords,omitempty"`
}

type SessionRequest struct {
	Purpose Purpose `json:"purpose"`
	Target  Target  `json:"target"`
	Options Options `json:"options"`
}

func verbPtr(v Verb) *Verb {
	return &v
}

// Defaults for new requests: spare every relationship category.
func DefaultFollowerOptions() Options {
	return Options{
		MyFollowers:   VerbSkip,
		MyFollowings:  VerbSkip,
		MutualBlocked: verbPtr(VerbSkip),
	}
}

func DefaultReactionOptions() Options {
	return Options{
		MyFollowers:  VerbSkip,
		MyFollowings: VerbSkip,
	}
}

var ErrInvalidRequest = errors.New("invalid session request")

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidRequest, fmt.Sprintf(format, args...))
}

// Validate checks that the target payload matches its type, and that the
// purpose and options make sense for it.
func (r *SessionRequest) Validate() error {
	if _, err := r.Purpose.DefaultVerb(); err != nil {
		return invalid("%s", err)
	}
	if !r.Options.MyFollowers.ValidOption() {
		return invalid("myFollowers verb %q", r.Options.MyFollowers)
	}
	if !r.Options.MyFollowings.ValidOption() {
		return invalid("myFollowings verb %q", r.Options.MyFollowings)
	}
	if r.Options.MutualBlocked != nil && !r.Options.MutualBlocked.ValidOption() {
		return invalid("mutualBlocked verb %q", *r.Options.MutualBlocked)
	}
	if _, err := keyword.NewMatcher(r.Options.BioKeywords); err != nil {
		return invalid("%s", err)
	}

	t := &r.Target
	switch t.Type {
	case TargetFollower:
		if t.User == nil || !ValidDID(t.User.DID) {
			return invalid("follower target needs a user DID")
		}
		switch t.List {
		case FollowKindFollowers, FollowKindFollows, FollowKindMutualFollowers:
		default:
			return invalid("unknown follow list %q", t.List)
		}
		if r.Purpose == PurposeLockPicker {
			return invalid("lockpicker purpose needs a lockpicker target")
		}
	case TargetTweetReaction:
		if t.Post == nil {
			return invalid("tweet_reaction target needs a post")
		}
		if _, err := ParsePostReference(t.Post.URI); err != nil {
			return invalid("%s", err)
		}
		if !t.IncludeReposters && !t.IncludeLikers {
			return invalid("tweet_reaction target needs reposters and/or likers")
		}
		// accounts which blocked us (or which we blocked) don't show up in
		// reaction lists, so undoing via reactions isn't possible
		if r.Purpose != PurposeChainBlock && r.Purpose != PurposeChainMute {
			return invalid("tweet_reaction target only supports chainblock and chainmute")
		}
	case TargetImport:
		if len(t.DIDs) == 0 {
			return invalid("import target needs at least one DID")
		}
		for _, did := range t.DIDs {
			if !ValidDID(did) {
				return invalid("import target has invalid DID %q", did)
			}
		}
		if r.Purpose == PurposeLockPicker {
			return invalid("lockpicker purpose needs a lockpicker target")
		}
	case TargetUserSearch:
		if t.Query == "" {
			return invalid("user_search target needs a query")
		}
		if r.Purpose == PurposeLockPicker {
			return invalid("lockpicker purpose needs a lockpicker target")
		}
	case TargetLockPicker:
		if t.User == nil || !ValidDID(t.User.DID) {
			return invalid("lockpicker target needs the operator DID")
		}
		if r.Purpose != PurposeLockPicker {
			return invalid("lockpicker target only supports lockpicker purpose")
		}
	default:
		return invalid("unknown target type %q", t.Type)
	}
	return nil
}

// Clone returns a deep copy.
func (r *SessionRequest) Clone() *SessionRequest {
	out := *r
	if r.Target.User != nil {
		u := *r.Target.User
		out.Target.User = &u
	}
	if r.Target.Post != nil {
		p := *r.Target.Post
		out.Target.Post = &p
	}
	out.Target.DIDs = slices.Clone(r.Target.DIDs)
	if r.Options.MutualBlocked != nil {
		out.Options.MutualBlocked = verbPtr(*r.Options.MutualBlocked)
	}
	out.Options.BioKeywords = slices.Clone(r.Options.BioKeywords)
	return &out
}

// CountOfUsersToProcess is the best upper bound on the number of candidates
// known from the request alone, or nil.
func (r *SessionRequest) CountOfUsersToProcess() *int {
	t := &r.Target
	var n int64
	switch t.Type {
	case TargetFollower, TargetLockPicker:
		if t.User == nil {
			return nil
		}
		switch t.List {
		case FollowKindFollows:
			if t.User.FollowsCount == nil {
				return nil
			}
			n = *t.User.FollowsCount
		case FollowKindMutualFollowers:
			// unknown until the lists are walked
			return nil
		default:
			if t.User.FollowersCount == nil {
				return nil
			}
			n = *t.User.FollowersCount
		}
	case TargetTweetReaction:
		if t.Post == nil {
			return nil
		}
		known := false
		if t.IncludeReposters && t.Post.RepostCount != nil {
			n += *t.Post.RepostCount
			known = true
		}
		if t.IncludeLikers && t.Post.LikeCount != nil {
			n += *t.Post.LikeCount
			known = true
		}
		if !known {
			return nil
		}
	case TargetImport:
		n = int64(len(t.DIDs))
	default:
		return nil
	}
	v := int(n)
	return &v
}

// Subject names what the target points at: a DID, a post URI or a search
// query. Import targets have no single subject.
func (t *Target) Subject() string {
	switch t.Type {
	case TargetFollower, TargetLockPicker:
		if t.User != nil {
			return t.User.DID
		}
	case TargetTweetReaction:
		if t.Post != nil {
			return t.Post.URI
		}
	case TargetUserSearch:
		return t.Query
	case TargetImport:
		return fmt.Sprintf("%d accounts", len(t.DIDs))
	}
	return ""
}
