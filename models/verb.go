package models

import (
	"fmt"
)

// Verb is the action decided for a single candidate account.
type Verb string

const (
	VerbSkip    Verb = "Skip"
	VerbBlock   Verb = "Block"
	VerbUnBlock Verb = "UnBlock"
	VerbMute    Verb = "Mute"
	VerbUnMute  Verb = "UnMute"

	// Decision-only result: the candidate is already in the state the verb
	// would produce. Never valid as an option value.
	VerbAlreadyDone Verb = "AlreadyDone"
)

// The verbs which count as a "success" when performed.
var VerbsSomething = []Verb{VerbBlock, VerbUnBlock, VerbMute, VerbUnMute}

// IsSomething reports whether v is an actual action (not Skip or AlreadyDone).
func (v Verb) IsSomething() bool {
	switch v {
	case VerbBlock, VerbUnBlock, VerbMute, VerbUnMute:
		return true
	}
	return false
}

// ValidOption reports whether v can be used as a per-category option.
func (v Verb) ValidOption() bool {
	return v == VerbSkip || v.IsSomething()
}

func ParseVerb(raw string) (Verb, error) {
	v := Verb(raw)
	if !v.ValidOption() {
		return "", fmt.Errorf("unknown verb: %q", raw)
	}
	return v, nil
}

// Purpose is the overall intent of a session, which selects the default verb.
type Purpose string

const (
	PurposeChainBlock   Purpose = "chainblock"
	PurposeUnChainBlock Purpose = "unchainblock"
	PurposeChainMute    Purpose = "chainmute"
	PurposeUnChainMute  Purpose = "unchainmute"
	// removes the operator's own non-mutual followers
	PurposeLockPicker Purpose = "lockpicker"
)

// DefaultVerb is the verb applied to candidates which don't fall in any
// relationship category.
func (p Purpose) DefaultVerb() (Verb, error) {
	switch p {
	case PurposeChainBlock, PurposeLockPicker:
		return VerbBlock, nil
	case PurposeUnChainBlock:
		return VerbUnBlock, nil
	case PurposeChainMute:
		return VerbMute, nil
	case PurposeUnChainMute:
		return VerbUnMute, nil
	}
	return "", fmt.Errorf("unknown purpose: %q", string(p))
}

func ParsePurpose(raw string) (Purpose, error) {
	p := Purpose(raw)
	if _, err := p.DefaultVerb(); err != nil {
		return "", err
	}
	return p, nil
}
