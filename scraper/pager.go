package scraper

import (
	"context"

	"github.com/redblock-app/chainblock/models"
)

type fetchFunc func(ctx context.Context, cursor string) ([]*models.Candidate, string, error)

// pager walks one cursor-paginated list. The cursor moves only after a
// successful fetch.
type pager struct {
	method string
	fetch  fetchFunc
	cursor string
	done   bool
}

func (p *pager) next(ctx context.Context) Result {
	if p.done {
		return Done{}
	}
	users, next, err := p.fetch(ctx, p.cursor)
	if err != nil {
		return errorResult(p.method, err)
	}
	pagesFetched.WithLabelValues(p.method).Inc()
	// a repeated cursor would loop forever
	if next == "" || next == p.cursor {
		p.done = true
	}
	p.cursor = next
	if len(users) == 0 && p.done {
		return Done{}
	}
	return Page{Users: users}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
