package blocker

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/redblock-app/chainblock/internal/fakegraph"
	"github.com/redblock-app/chainblock/models"
	"github.com/redblock-app/chainblock/xrpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// jitterWriter finishes writes out of order and fails for chosen accounts.
type jitterWriter struct {
	mu    sync.Mutex
	calls []string
	fail  map[string]bool
}

func (w *jitterWriter) do(verb models.Verb, c *models.Candidate) error {
	time.Sleep(time.Duration(rand.Intn(5)) * time.Millisecond)
	w.mu.Lock()
	defer w.mu.Unlock()
	w.calls = append(w.calls, string(verb)+":"+c.DID)
	if w.fail[c.DID] {
		return fmt.Errorf("refused")
	}
	return nil
}

func (w *jitterWriter) Block(ctx context.Context, c *models.Candidate) error {
	return w.do(models.VerbBlock, c)
}
func (w *jitterWriter) UnBlock(ctx context.Context, c *models.Candidate) error {
	return w.do(models.VerbUnBlock, c)
}
func (w *jitterWriter) Mute(ctx context.Context, c *models.Candidate) error {
	return w.do(models.VerbMute, c)
}
func (w *jitterWriter) UnMute(ctx context.Context, c *models.Candidate) error {
	return w.do(models.VerbUnMute, c)
}

type countingRecorder struct {
	counts map[models.Verb]int
}

func (r *countingRecorder) Record(ctx context.Context, verb models.Verb) error {
	r.counts[verb]++
	return nil
}

type outcome struct {
	did  string
	verb models.Verb
	ok   bool
}

func newRecordingBlocker(w Writer, rec Recorder, delay time.Duration) (*Blocker, *[]outcome) {
	var outcomes []outcome
	b := New(Config{
		Writer:   w,
		Recorder: rec,
		Delay:    delay,
		OnSuccess: func(c *models.Candidate, verb models.Verb) {
			outcomes = append(outcomes, outcome{c.DID, verb, true})
		},
		OnError: func(c *models.Candidate, verb models.Verb, err error) {
			outcomes = append(outcomes, outcome{c.DID, verb, false})
		},
	})
	return b, &outcomes
}

func TestFlushIfNeededThreshold(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	w := &jitterWriter{}
	b, outcomes := newRecordingBlocker(w, nil, 0)
	for i := range DefaultBatchSize - 1 {
		b.Add(models.VerbBlock, &models.Candidate{DID: fmt.Sprintf("did:plc:%d", i)})
		b.FlushIfNeeded(ctx)
	}
	assert.Equal(DefaultBatchSize-1, b.Pending())
	assert.Empty(*outcomes)

	b.Add(models.VerbBlock, &models.Candidate{DID: "did:plc:last"})
	b.FlushIfNeeded(ctx)
	assert.Equal(0, b.Pending())
	assert.Len(*outcomes, DefaultBatchSize)
}

func TestCallbacksInEnqueueOrder(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	w := &jitterWriter{fail: map[string]bool{"did:plc:3": true, "did:plc:7": true}}
	rec := &countingRecorder{counts: make(map[models.Verb]int)}
	b, outcomes := newRecordingBlocker(w, rec, 0)

	verbs := []models.Verb{models.VerbBlock, models.VerbMute, models.VerbUnBlock, models.VerbUnMute}
	var expected []outcome
	for i := range 10 {
		did := fmt.Sprintf("did:plc:%d", i)
		verb := verbs[i%len(verbs)]
		b.Add(verb, &models.Candidate{DID: did})
		expected = append(expected, outcome{did, verb, !w.fail[did]})
	}
	// non-actions never reach the writer
	b.Add(models.VerbSkip, &models.Candidate{DID: "did:plc:skip"})
	b.Flush(ctx)

	assert.Equal(expected, *outcomes)
	assert.Len(w.calls, 10)
	// successful Block and Mute only: indices 0,1,4,5,8,9 minus failures (none there)
	assert.Equal(3, rec.counts[models.VerbBlock])
	assert.Equal(3, rec.counts[models.VerbMute])
	assert.Equal(0, rec.counts[models.VerbUnBlock])
	assert.Equal(0, rec.counts[models.VerbUnMute])

	// empty flush is a no-op
	b.Flush(ctx)
	assert.Len(*outcomes, 10)
}

func TestDelaySpacesWrites(t *testing.T) {
	ctx := context.Background()
	w := &jitterWriter{}
	b, outcomes := newRecordingBlocker(w, nil, 20*time.Millisecond)

	for i := range 4 {
		b.Add(models.VerbMute, &models.Candidate{DID: fmt.Sprintf("did:plc:%d", i)})
	}
	start := time.Now()
	b.Flush(ctx)
	// first write is immediate, the other three wait their turn
	assert.GreaterOrEqual(t, time.Since(start), 55*time.Millisecond)
	assert.Len(t, *outcomes, 4)
}

func TestCancelledFlushReportsErrors(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	b, outcomes := newRecordingBlocker(&jitterWriter{}, nil, time.Hour)
	b.Add(models.VerbBlock, &models.Candidate{DID: "did:plc:a"})
	b.Add(models.VerbBlock, &models.Candidate{DID: "did:plc:b"})
	b.Flush(ctx)

	require.Len(t, *outcomes, 2)
	for _, o := range *outcomes {
		assert.False(t, o.ok)
	}
}

func fakeClient(t *testing.T, n int) (*fakegraph.Graph, []string, *xrpc.Client) {
	g := fakegraph.New()
	dids := g.Populate(gofakeit.New(7), n)
	srv := fakegraph.NewServer(g)
	t.Cleanup(srv.Close)
	return g, dids, &xrpc.Client{
		Host:   srv.URL,
		Auth:   &xrpc.AuthInfo{AccessJwt: dids[0], Did: dids[0]},
		Client: xrpc.RobustHTTPClient(nil),
	}
}

func TestXRPCWriter(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	g, dids, c := fakeClient(t, 4)
	me := dids[0]
	g.FailWritesFor(dids[3])
	w := &XRPCWriter{Client: c}

	cand := &models.Candidate{DID: dids[1]}
	require.NoError(t, w.Block(ctx, cand))
	assert.True(g.IsBlocking(me, dids[1]))
	assert.NotEmpty(cand.BlockingURI)

	require.NoError(t, w.UnBlock(ctx, cand))
	assert.False(g.IsBlocking(me, dids[1]))
	assert.Error(w.UnBlock(ctx, cand))

	require.NoError(t, w.Mute(ctx, &models.Candidate{DID: dids[2]}))
	assert.True(g.IsMuting(me, dids[2]))
	require.NoError(t, w.UnMute(ctx, &models.Candidate{DID: dids[2]}))
	assert.False(g.IsMuting(me, dids[2]))

	assert.Error(w.Block(ctx, &models.Candidate{DID: dids[3]}))
	assert.False(g.IsBlocking(me, dids[3]))

	anon := &XRPCWriter{Client: &xrpc.Client{Host: c.Host}}
	assert.Error(anon.Block(ctx, &models.Candidate{DID: dids[1]}))
}

func TestBatchWriterThroughBlocker(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	g, dids, c := fakeClient(t, 8)
	me := dids[0]
	b, outcomes := newRecordingBlocker(NewBatchWriter(c), nil, 0)

	for _, did := range dids[1:6] {
		b.Add(models.VerbBlock, &models.Candidate{DID: did})
	}
	b.Add(models.VerbMute, &models.Candidate{DID: dids[6]})
	b.Flush(ctx)

	require.Len(t, *outcomes, 6)
	for _, o := range *outcomes {
		assert.True(o.ok)
	}
	assert.Equal(5, g.BlockCount(me))
	assert.True(g.IsMuting(me, dids[6]))
	assert.Equal(1, g.Calls("com.atproto.repo.applyWrites"))
	assert.Equal(0, g.Calls("com.atproto.repo.createRecord"))

	// batches are atomic: one bad account fails the whole group
	g.FailWritesFor(dids[7])
	rkey := g.Block(me, dids[7])
	b.Add(models.VerbUnBlock, &models.Candidate{DID: dids[1], BlockingURI: "at://" + me + "/app.bsky.graph.block/" + g.Block(me, dids[1])})
	b.Add(models.VerbUnBlock, &models.Candidate{DID: dids[7], BlockingURI: "at://" + me + "/app.bsky.graph.block/" + rkey})
	b.Flush(ctx)

	require.Len(t, *outcomes, 8)
	assert.False((*outcomes)[6].ok)
	assert.False((*outcomes)[7].ok)
	assert.True(g.IsBlocking(me, dids[1]))
}

func TestDryRunWriter(t *testing.T) {
	ctx := context.Background()
	b, outcomes := newRecordingBlocker(&DryRunWriter{}, nil, 0)
	b.Add(models.VerbBlock, &models.Candidate{DID: "did:plc:a"})
	b.Add(models.VerbUnMute, &models.Candidate{DID: "did:plc:b"})
	b.Flush(ctx)
	assert.Equal(t, []outcome{{"did:plc:a", models.VerbBlock, true}, {"did:plc:b", models.VerbUnMute, true}}, *outcomes)
}
