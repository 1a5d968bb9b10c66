package blocker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	comatproto "github.com/redblock-app/chainblock/api/atproto"
	appbsky "github.com/redblock-app/chainblock/api/bsky"
	"github.com/redblock-app/chainblock/models"
	"github.com/redblock-app/chainblock/xrpc"
)

type Writer interface {
	Block(ctx context.Context, c *models.Candidate) error
	UnBlock(ctx context.Context, c *models.Candidate) error
	Mute(ctx context.Context, c *models.Candidate) error
	UnMute(ctx context.Context, c *models.Candidate) error
}

// BulkWriter can perform many actions of one verb in a single, atomic
// request.
type BulkWriter interface {
	Writer
	SupportsBulk(verb models.Verb) bool
	WriteBulk(ctx context.Context, verb models.Verb, cands []*models.Candidate) error
}

// Apply dispatches verb to the matching Writer method.
func Apply(ctx context.Context, w Writer, verb models.Verb, c *models.Candidate) error {
	switch verb {
	case models.VerbBlock:
		return w.Block(ctx, c)
	case models.VerbUnBlock:
		return w.UnBlock(ctx, c)
	case models.VerbMute:
		return w.Mute(ctx, c)
	case models.VerbUnMute:
		return w.UnMute(ctx, c)
	}
	return fmt.Errorf("not an action verb: %q", verb)
}

const datetimeLayout = "2006-01-02T15:04:05.999Z"

func datetimeNow() string {
	return time.Now().UTC().Format(datetimeLayout)
}

// XRPCWriter blocks by creating app.bsky.graph.block records in the
// operator's repo, and mutes through the AppView.
type XRPCWriter struct {
	Client *xrpc.Client
}

func (w *XRPCWriter) repo() (string, error) {
	if w.Client.Auth == nil || w.Client.Auth.Did == "" {
		return "", fmt.Errorf("writes need an authenticated client")
	}
	return w.Client.Auth.Did, nil
}

func (w *XRPCWriter) Block(ctx context.Context, c *models.Candidate) error {
	repo, err := w.repo()
	if err != nil {
		return err
	}
	out, err := comatproto.RepoCreateRecord(ctx, w.Client, &comatproto.RepoCreateRecord_Input{
		Collection: appbsky.GraphBlockNSID,
		Repo:       repo,
		Record:     appbsky.NewGraphBlock(c.DID, datetimeNow()),
	})
	if err != nil {
		return fmt.Errorf("creating block record: %w", err)
	}
	c.BlockingURI = out.Uri
	return nil
}

// blockRkey is the record key of the operator's existing block of c.
func blockRkey(c *models.Candidate) (string, error) {
	if c.BlockingURI == "" {
		return "", fmt.Errorf("no block record known for %s", c.DID)
	}
	u, err := models.ParseATURI(c.BlockingURI)
	if err != nil {
		return "", err
	}
	if u.Collection != appbsky.GraphBlockNSID || u.RecordKey == "" {
		return "", fmt.Errorf("not a block record: %s", c.BlockingURI)
	}
	return u.RecordKey, nil
}

func (w *XRPCWriter) UnBlock(ctx context.Context, c *models.Candidate) error {
	repo, err := w.repo()
	if err != nil {
		return err
	}
	rkey, err := blockRkey(c)
	if err != nil {
		return err
	}
	if err := comatproto.RepoDeleteRecord(ctx, w.Client, &comatproto.RepoDeleteRecord_Input{
		Collection: appbsky.GraphBlockNSID,
		Repo:       repo,
		Rkey:       rkey,
	}); err != nil {
		return fmt.Errorf("deleting block record: %w", err)
	}
	c.BlockingURI = ""
	return nil
}

func (w *XRPCWriter) Mute(ctx context.Context, c *models.Candidate) error {
	return appbsky.GraphMuteActor(ctx, w.Client, &appbsky.GraphMuteActor_Input{Actor: c.DID})
}

func (w *XRPCWriter) UnMute(ctx context.Context, c *models.Candidate) error {
	return appbsky.GraphUnmuteActor(ctx, w.Client, &appbsky.GraphUnmuteActor_Input{Actor: c.DID})
}

// BatchWriter creates and deletes block records through applyWrites, one
// request per batch. Mutes still go one at a time.
type BatchWriter struct {
	XRPCWriter
}

func NewBatchWriter(c *xrpc.Client) *BatchWriter {
	return &BatchWriter{XRPCWriter{Client: c}}
}

func (w *BatchWriter) SupportsBulk(verb models.Verb) bool {
	return verb == models.VerbBlock || verb == models.VerbUnBlock
}

func (w *BatchWriter) WriteBulk(ctx context.Context, verb models.Verb, cands []*models.Candidate) error {
	repo, err := w.repo()
	if err != nil {
		return err
	}
	for start := 0; start < len(cands); start += comatproto.RepoApplyWritesMaxWrites {
		chunk := cands[start:min(start+comatproto.RepoApplyWritesMaxWrites, len(cands))]
		writes := make([]*comatproto.RepoApplyWrites_Input_Writes_Elem, 0, len(chunk))
		for _, c := range chunk {
			switch verb {
			case models.VerbBlock:
				writes = append(writes, &comatproto.RepoApplyWrites_Input_Writes_Elem{
					RepoApplyWrites_Create: &comatproto.RepoApplyWrites_Create{
						Collection: appbsky.GraphBlockNSID,
						Value:      appbsky.NewGraphBlock(c.DID, datetimeNow()),
					},
				})
			case models.VerbUnBlock:
				rkey, err := blockRkey(c)
				if err != nil {
					return err
				}
				writes = append(writes, &comatproto.RepoApplyWrites_Input_Writes_Elem{
					RepoApplyWrites_Delete: &comatproto.RepoApplyWrites_Delete{
						Collection: appbsky.GraphBlockNSID,
						Rkey:       rkey,
					},
				})
			default:
				return fmt.Errorf("bulk writes don't support %q", verb)
			}
		}
		if _, err := comatproto.RepoApplyWrites(ctx, w.Client, &comatproto.RepoApplyWrites_Input{
			Repo:   repo,
			Writes: writes,
		}); err != nil {
			return fmt.Errorf("applying %d writes: %w", len(writes), err)
		}
	}
	return nil
}

// DryRunWriter logs what would be done and succeeds.
type DryRunWriter struct {
	Logger *slog.Logger
}

func (w *DryRunWriter) log(verb models.Verb, c *models.Candidate) error {
	logger := w.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("dry run", "verb", verb, "did", c.DID, "handle", c.Handle)
	return nil
}

func (w *DryRunWriter) Block(ctx context.Context, c *models.Candidate) error {
	return w.log(models.VerbBlock, c)
}

func (w *DryRunWriter) UnBlock(ctx context.Context, c *models.Candidate) error {
	return w.log(models.VerbUnBlock, c)
}

func (w *DryRunWriter) Mute(ctx context.Context, c *models.Candidate) error {
	return w.log(models.VerbMute, c)
}

func (w *DryRunWriter) UnMute(ctx context.Context, c *models.Candidate) error {
	return w.log(models.VerbUnMute, c)
}
