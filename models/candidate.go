package models

import (
	appbsky "github.com/redblock-app/chainblock/api/bsky"
)

// Candidate is an account returned by a scraper page, along with its
// relationship to the operator ("viewer"). Relationship flags are nil when
// the API didn't include them.
type Candidate struct {
	DID         string `json:"did"`
	Handle      string `json:"handle"`
	DisplayName string `json:"displayName,omitempty"`
	Description string `json:"description,omitempty"`

	// operator follows the candidate
	Following *bool `json:"following,omitempty"`
	// candidate follows the operator
	FollowedBy *bool `json:"followedBy,omitempty"`
	// always false on atproto (no follow approval); kept for request parity
	FollowRequestSent bool  `json:"followRequestSent,omitempty"`
	Blocking          *bool `json:"blocking,omitempty"`
	Muting            *bool `json:"muting,omitempty"`
	BlockedBy         bool  `json:"blockedBy,omitempty"`

	// AT-URI of the operator's block record, when Blocking
	BlockingURI string `json:"blockingUri,omitempty"`
}

func boolPtr(b bool) *bool {
	return &b
}

// CandidateFromProfileView converts an AppView profile. Without viewer state
// (eg, an unauthenticated request) the relationship flags stay nil.
func CandidateFromProfileView(pv *appbsky.ActorDefs_ProfileView) *Candidate {
	c := &Candidate{
		DID:    pv.Did,
		Handle: pv.Handle,
	}
	if pv.DisplayName != nil {
		c.DisplayName = *pv.DisplayName
	}
	if pv.Description != nil {
		c.Description = *pv.Description
	}
	if v := pv.Viewer; v != nil {
		c.Following = boolPtr(v.Following != nil)
		c.FollowedBy = boolPtr(v.FollowedBy != nil)
		c.Blocking = boolPtr(v.Blocking != nil)
		c.Muting = boolPtr(v.Muted != nil && *v.Muted)
		c.BlockedBy = v.BlockedBy != nil && *v.BlockedBy
		if v.Blocking != nil {
			c.BlockingURI = *v.Blocking
		}
	}
	return c
}

func (c *Candidate) IsFollowing() bool {
	return c.Following != nil && *c.Following
}

func (c *Candidate) IsFollowedBy() bool {
	return c.FollowedBy != nil && *c.FollowedBy
}
