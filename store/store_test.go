package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/redblock-app/chainblock/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStore(t *testing.T) *Store {
	db, err := Open("sqlite://"+filepath.Join(t.TempDir(), "history", "test.sqlite"), nil)
	require.NoError(t, err)
	s, err := New(db, nil)
	require.NoError(t, err)
	return s
}

func finishedInfo(id string, status models.Status, blocks int) *models.SessionInfo {
	p := models.NewProgress()
	p.Success[models.VerbBlock] = blocks
	p.Skipped = 2
	p.Scraped = blocks + 2
	total := blocks + 2
	p.Total = &total
	return &models.SessionInfo{
		SessionID: id,
		Request: &models.SessionRequest{
			Purpose: models.PurposeChainBlock,
			Target: models.Target{
				Type: models.TargetFollower,
				User: &models.UserRef{DID: "did:plc:target"},
				List: models.FollowKindFollowers,
			},
			Options: models.DefaultFollowerOptions(),
		},
		Progress:  p,
		Confirmed: true,
		Status:    status,
	}
}

func TestOpenRejectsUnknownURL(t *testing.T) {
	_, err := Open("mysql://localhost/db", nil)
	assert.Error(t, err)
}

func TestSaveAndList(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	s := testStore(t)

	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, info := range []*models.SessionInfo{
		finishedInfo("session/1", models.StatusCompleted, 5),
		finishedInfo("session/2", models.StatusStopped, 3),
		finishedInfo("session/1", models.StatusCompleted, 1),
	} {
		rec, err := RecordFromInfo("did:plc:me", info, "", base.Add(time.Duration(i)*time.Minute))
		require.NoError(t, err)
		require.NoError(t, s.Save(ctx, rec))
	}
	other, err := RecordFromInfo("did:plc:other", finishedInfo("session/3", models.StatusError, 0), "boom", base)
	require.NoError(t, err)
	require.NoError(t, s.Save(ctx, other))

	recs, err := s.List(ctx, ListOptions{Operator: "did:plc:me"})
	require.NoError(t, err)
	require.Len(t, recs, 3)
	// newest first
	assert.Equal(1, recs[0].Success)
	assert.Equal("session/2", recs[1].SessionID)
	assert.Equal("stopped", recs[1].Status)
	assert.Equal("did:plc:target", recs[0].Subject)
	assert.Equal("follower", recs[0].TargetType)
	require.NotNil(t, recs[0].Total)
	assert.Equal(3, *recs[0].Total)

	recs, err = s.List(ctx, ListOptions{SessionID: "session/1"})
	require.NoError(t, err)
	assert.Len(recs, 2)

	recs, err = s.List(ctx, ListOptions{Status: "error"})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal("boom", recs[0].ErrorMsg)

	recs, err = s.List(ctx, ListOptions{Since: base.Add(time.Minute)})
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal("session/1", recs[0].SessionID)
	assert.Equal("session/2", recs[1].SessionID)

	recs, err = s.List(ctx, ListOptions{Limit: 1})
	require.NoError(t, err)
	assert.Len(recs, 1)

	total, err := s.Totals(ctx, "did:plc:me")
	require.NoError(t, err)
	assert.Equal(int64(9), total)
	total, err = s.Totals(ctx, "did:plc:nobody")
	require.NoError(t, err)
	assert.Equal(int64(0), total)
}

func TestDecodeRequest(t *testing.T) {
	info := finishedInfo("session/9", models.StatusCompleted, 1)
	rec, err := RecordFromInfo("did:plc:me", info, "", time.Now())
	require.NoError(t, err)

	req, err := rec.DecodeRequest()
	require.NoError(t, err)
	assert.Equal(t, info.Request, req)

	_, err = RecordFromInfo("did:plc:me", &models.SessionInfo{SessionID: "session/x"}, "", time.Now())
	assert.Error(t, err)
}
