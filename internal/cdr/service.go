package cdr

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	DefaultLimit = 20
	MaxLimit     = 100
	// MaxPage keeps (page-1)*limit far from int overflow.
	MaxPage = 1_000_000
)

// Query is the raw read request as received from the API.
type Query struct {
	Page        int
	Limit       int
	Src         string
	Dst         string
	Disposition string
	ActionType  string
	DateFrom    string
	DateTo      string
}

// Service is the read path over stored records.
type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service { return &Service{repo: repo} }

func (s *Service) Get(ctx context.Context, uniqueID string) (Record, error) {
	if strings.TrimSpace(uniqueID) == "" {
		return Record{}, ErrNotFound
	}
	return s.repo.Get(ctx, uniqueID)
}

// Search runs a filtered, paginated query. Page starts at 1 and is clamped to
// MaxPage; Limit is clamped to MaxLimit.
func (s *Service) Search(ctx context.Context, q Query) (QueryResult, error) {
	if s.repo == nil {
		return QueryResult{}, errors.New("cdr: repository not configured")
	}
	page, limit := q.Page, q.Limit
	if page < 1 {
		page = 1
	}
	if page > MaxPage {
		page = MaxPage
	}
	if limit < 1 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}

	f := Filter{
		Src:         strings.TrimSpace(q.Src),
		Dst:         strings.TrimSpace(q.Dst),
		Disposition: strings.ToUpper(strings.TrimSpace(q.Disposition)),
		ActionType:  strings.TrimSpace(q.ActionType),
	}
	var err error
	if f.From, err = parseBound(q.DateFrom, false); err != nil {
		return QueryResult{}, err
	}
	if f.To, err = parseBound(q.DateTo, true); err != nil {
		return QueryResult{}, err
	}
	if !f.From.IsZero() && !f.To.IsZero() && !f.To.After(f.From) {
		return QueryResult{}, fmt.Errorf("%w: dateTo must be after dateFrom", ErrInvalidQuery)
	}

	recs, total, disp, err := s.repo.Query(ctx, f, limit, (page-1)*limit)
	if err != nil {
		return QueryResult{}, err
	}

	pages := 0
	if total > 0 {
		pages = (total + limit - 1) / limit
	}
	return QueryResult{
		Records:      recs,
		Pagination:   Pagination{Page: page, Limit: limit, Total: total, Pages: pages},
		Dispositions: disp,
	}, nil
}

// parseBound accepts a date or a timestamp. A bare date used as an upper
// bound covers the whole day.
func parseBound(v string, upper bool) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse("2006-01-02", v); err == nil {
		if upper {
			return truncateDay(t).Add(24 * time.Hour), nil
		}
		return t.UTC(), nil
	}
	t, err := parseTime(v)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: date %q", ErrInvalidQuery, v)
	}
	return t, nil
}
