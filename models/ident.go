package models

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	didRegex    = regexp.MustCompile(`^did:[a-z]+:[a-zA-Z0-9._:%-]*[a-zA-Z0-9._-]$`)
	handleRegex = regexp.MustCompile(`^([a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?\.)+[a-zA-Z]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?$`)
	aturiRegex  = regexp.MustCompile(`^at:\/\/(?P<authority>[a-zA-Z0-9._:%-]+)(\/(?P<collection>[a-zA-Z0-9-.]+)(\/(?P<rkey>[a-zA-Z0-9_~.:-]{1,512}))?)?$`)
	// https://bsky.app/profile/<actor>/post/<rkey>
	postURLRegex = regexp.MustCompile(`^https:\/\/bsky\.app\/profile\/([a-zA-Z0-9._:%-]+)\/post\/([a-zA-Z0-9_~.:-]{1,512})\/?$`)
)

func ValidDID(raw string) bool {
	return len(raw) <= 2*1024 && didRegex.MatchString(raw)
}

func ValidHandle(raw string) bool {
	return len(raw) <= 253 && handleRegex.MatchString(raw)
}

// ATURI is a parsed at:// URI. Only the forms used for records are supported
// (no query or fragment).
type ATURI struct {
	Authority  string
	Collection string
	RecordKey  string
}

func ParseATURI(raw string) (*ATURI, error) {
	if len(raw) > 8192 {
		return nil, fmt.Errorf("AT-URI is too long")
	}
	parts := aturiRegex.FindStringSubmatch(raw)
	if parts == nil {
		return nil, fmt.Errorf("AT-URI syntax didn't validate via regex: %q", raw)
	}
	u := &ATURI{
		Authority:  parts[1],
		Collection: parts[3],
		RecordKey:  parts[5],
	}
	if !ValidDID(u.Authority) && !ValidHandle(u.Authority) {
		return nil, fmt.Errorf("AT-URI authority is not a DID or handle: %q", u.Authority)
	}
	return u, nil
}

func (u *ATURI) String() string {
	var b strings.Builder
	b.WriteString("at://")
	b.WriteString(u.Authority)
	if u.Collection != "" {
		b.WriteString("/" + u.Collection)
		if u.RecordKey != "" {
			b.WriteString("/" + u.RecordKey)
		}
	}
	return b.String()
}

// ParsePostReference accepts either an AT-URI for an app.bsky.feed.post
// record, or a bsky.app web URL for a post. The authority may be a handle,
// which callers need to resolve before using the URI against most endpoints.
func ParsePostReference(raw string) (*ATURI, error) {
	if m := postURLRegex.FindStringSubmatch(raw); m != nil {
		return ParseATURI(fmt.Sprintf("at://%s/app.bsky.feed.post/%s", m[1], m[2]))
	}
	u, err := ParseATURI(raw)
	if err != nil {
		return nil, err
	}
	if u.Collection != "app.bsky.feed.post" || u.RecordKey == "" {
		return nil, fmt.Errorf("not a post record URI: %q", raw)
	}
	return u, nil
}
