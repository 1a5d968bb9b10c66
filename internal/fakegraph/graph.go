// Package fakegraph is an in-memory social graph served over a subset of the
// app.bsky / com.atproto XRPC endpoints, for tests.
//
// Access tokens are the viewer's DID, so clients for several accounts can
// talk to the same graph.
package fakegraph

import (
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/brianvoe/gofakeit/v6"
)

const DefaultPassword = "hunter2"

type Profile struct {
	DID         string
	Handle      string
	DisplayName string
	Description string
}

type Post struct {
	URI       string
	CID       string
	Author    string
	Likers    []string
	Reposters []string
}

type Graph struct {
	mu sync.Mutex

	order    []string
	profiles map[string]*Profile
	// actor -> accounts following actor, in follow order
	followers map[string][]string
	// actor -> accounts actor follows, in follow order
	follows map[string][]string
	// blocker -> subject -> block record rkey
	blocks map[string]map[string]string
	mutes  map[string]map[string]bool
	posts  map[string]*Post

	throttled   map[string]int
	calls       map[string]int
	failSubject map[string]bool
	nextRkey    int

	// PageSize caps the page length regardless of the requested limit
	PageSize int
}

func New() *Graph {
	return &Graph{
		profiles:    make(map[string]*Profile),
		followers:   make(map[string][]string),
		follows:     make(map[string][]string),
		blocks:      make(map[string]map[string]string),
		mutes:       make(map[string]map[string]bool),
		posts:       make(map[string]*Post),
		throttled:   make(map[string]int),
		calls:       make(map[string]int),
		failSubject: make(map[string]bool),
		PageSize:    100,
	}
}

func (g *Graph) AddProfile(p Profile) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.profiles[p.DID]; !ok {
		g.order = append(g.order, p.DID)
	}
	cp := p
	g.profiles[p.DID] = &cp
}

// Populate adds n generated accounts and returns their DIDs.
func (g *Graph) Populate(faker *gofakeit.Faker, n int) []string {
	dids := make([]string, 0, n)
	for i := range n {
		name := strings.Map(func(r rune) rune {
			if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
				return r
			}
			return -1
		}, strings.ToLower(faker.Username()))
		p := Profile{
			DID:         fmt.Sprintf("did:plc:%s%d", strings.ToLower(faker.LetterN(16)), i),
			Handle:      fmt.Sprintf("%s%d.test", name, i),
			DisplayName: faker.Name(),
			Description: faker.HipsterSentence(8),
		}
		g.AddProfile(p)
		dids = append(dids, p.DID)
	}
	return dids
}

func (g *Graph) Follow(from, to string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if slices.Contains(g.follows[from], to) {
		return
	}
	g.follows[from] = append(g.follows[from], to)
	g.followers[to] = append(g.followers[to], from)
}

func (g *Graph) Block(from, to string) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.blockLocked(from, to)
}

func (g *Graph) blockLocked(from, to string) string {
	if rkey, ok := g.blocks[from][to]; ok {
		return rkey
	}
	if g.blocks[from] == nil {
		g.blocks[from] = make(map[string]string)
	}
	g.nextRkey++
	rkey := fmt.Sprintf("3kfake%06d", g.nextRkey)
	g.blocks[from][to] = rkey
	return rkey
}

func (g *Graph) Mute(from, to string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.mutes[from] == nil {
		g.mutes[from] = make(map[string]bool)
	}
	g.mutes[from][to] = true
}

func (g *Graph) AddPost(p Post) {
	g.mu.Lock()
	defer g.mu.Unlock()
	cp := p
	g.posts[p.URI] = &cp
}

func (g *Graph) IsBlocking(from, to string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.blocks[from][to]
	return ok
}

func (g *Graph) IsMuting(from, to string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.mutes[from][to]
}

// BlockCount is the number of accounts blocked by from.
func (g *Graph) BlockCount(from string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.blocks[from])
}

// Throttle makes the next n calls to method fail with HTTP 429.
func (g *Graph) Throttle(method string, n int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.throttled[method] += n
}

// FailWritesFor makes every write against subject fail.
func (g *Graph) FailWritesFor(subject string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failSubject[subject] = true
}

// Calls is the number of requests received for method, including throttled ones.
func (g *Graph) Calls(method string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls[method]
}

func (g *Graph) resolve(actor string) *Profile {
	if p, ok := g.profiles[actor]; ok {
		return p
	}
	for _, p := range g.profiles {
		if p.Handle == actor {
			return p
		}
	}
	return nil
}
