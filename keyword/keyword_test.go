package keyword

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	assert := assert.New(t)

	fixtures := []struct {
		text string
		out  string
	}{
		{text: "", out: ""},
		{text: "Gdańsk", out: "gdansk"},
		{text: "CAFÉ Owner", out: "cafe owner"},
	}

	for _, fix := range fixtures {
		assert.Equal(fix.out, Normalize(fix.text))
	}
}

func TestMatcher(t *testing.T) {
	assert := assert.New(t)

	m, err := NewMatcher([]Pattern{
		{Word: "crypto", Enabled: true},
		{Word: `\bnft\b`, Regexp: true, Enabled: true},
		{Word: "disabled", Enabled: false},
		{Word: "  ", Enabled: true},
	})
	require.NoError(t, err)
	assert.False(m.Empty())

	p, ok := m.Match("Building the future of CRYPTO")
	assert.True(ok)
	assert.Equal("crypto", p.Word)

	p, ok = m.Match("NFT drops daily")
	assert.True(ok)
	assert.True(p.Regexp)

	_, ok = m.Match("nfts are words too")
	assert.False(ok)

	_, ok = m.Match("this one is disabled")
	assert.False(ok)

	p, ok = m.MatchAny("", "just a name", "crypto.bsky.social")
	assert.True(ok)
	assert.Equal("crypto", p.Word)
}

func TestMatcherInvalidRegexp(t *testing.T) {
	_, err := NewMatcher([]Pattern{{Word: "(unclosed", Regexp: true, Enabled: true}})
	assert.Error(t, err)
}

func TestEmptyMatcher(t *testing.T) {
	assert := assert.New(t)

	var nilMatcher *Matcher
	assert.True(nilMatcher.Empty())
	_, ok := nilMatcher.Match("anything")
	assert.False(ok)

	m, err := NewMatcher(nil)
	assert.NoError(err)
	assert.True(m.Empty())
}
