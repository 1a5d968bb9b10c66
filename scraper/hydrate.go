package scraper

import (
	"context"

	appbsky "github.com/redblock-app/chainblock/api/bsky"
	"github.com/redblock-app/chainblock/models"
	"github.com/redblock-app/chainblock/xrpc"
)

const getProfilesMethod = "app.bsky.actor.getProfiles"

// methodError attributes err to a method other than the pager's own.
type methodError struct {
	method string
	err    error
}

func (e *methodError) Error() string {
	return e.err.Error()
}

func (e *methodError) Unwrap() error {
	return e.err
}

// fetchProfiles looks up dids as c's account, in getProfiles-sized chunks.
// Accounts the AppView doesn't know are left out.
func fetchProfiles(ctx context.Context, c *xrpc.Client, dids []string) ([]*models.Candidate, error) {
	out := make([]*models.Candidate, 0, len(dids))
	for i := 0; i < len(dids); i += appbsky.ActorGetProfilesMaxActors {
		chunk := dids[i:min(i+appbsky.ActorGetProfilesMaxActors, len(dids))]
		resp, err := appbsky.ActorGetProfiles(ctx, c, chunk)
		if err != nil {
			return nil, &methodError{method: getProfilesMethod, err: err}
		}
		for _, pv := range resp.Profiles {
			out = append(out, models.CandidateFromProfileView(pv.ToProfileView()))
		}
	}
	return out, nil
}

// hydrate replaces relationship state read by another account with the
// operator's own view of the same accounts.
func hydrate(ctx context.Context, operator *xrpc.Client, users []*models.Candidate) ([]*models.Candidate, error) {
	if len(users) == 0 {
		return users, nil
	}
	hydrations.Inc()
	dids := make([]string, len(users))
	for i, u := range users {
		dids[i] = u.DID
	}
	return fetchProfiles(ctx, operator, dids)
}
