package access

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"vendoraccess.org/internal/audit"
	"vendoraccess.org/internal/obs"
)

// SweepResult summarizes one expiry pass.
type SweepResult struct {
	Grants   int `json:"grants"`
	Tokens   int `json:"tokens"`
	Sessions int `json:"sessions"`
}

// SweepExpired expires active grants past their validity end, cascading to
// their tokens and sessions, then expires idle sessions. Running it
// concurrently is safe: a grant another worker already expired is skipped.
func (s *Service) SweepExpired(ctx context.Context) (SweepResult, error) {
	now := s.clock()
	due, err := s.store.ListGrants(ctx, GrantFilter{Status: GrantActive, ActiveBefore: &now})
	if err != nil {
		return SweepResult{}, classify("list expiring grants", err)
	}

	var (
		mu  sync.Mutex
		res SweepResult
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.sweepWorkers)
	for _, grant := range due {
		g.Go(func() error {
			c, err := s.store.ExpireGrant(gctx, grant.ID, grant.Version, now)
			if errors.Is(err, ErrVersionConflict) || errors.Is(err, ErrNotFound) {
				return nil
			}
			if err != nil {
				return classify("expire grant", err)
			}
			mu.Lock()
			res.Grants++
			res.Tokens += c.Tokens
			res.Sessions += c.Sessions
			mu.Unlock()
			s.log(ctx, audit.Entry{
				Action:   audit.ActionGrantExpire,
				Severity: audit.SeverityLow,
				Outcome:  "expired",
				VendorID: grant.VendorID,
				GrantID:  grant.ID,
				Metadata: map[string]string{
					"tokens":   fmt.Sprint(c.Tokens),
					"sessions": fmt.Sprint(c.Sessions),
				},
			})
			return nil
		})
	}
	werr := g.Wait()
	if res.Grants > 0 {
		s.cache.invalidate()
	}
	if werr != nil {
		return res, werr
	}

	n, err := s.store.ExpireSessions(ctx, now)
	if err != nil {
		return res, classify("expire sessions", err)
	}
	if n > 0 {
		s.log(ctx, audit.Entry{
			Action:   audit.ActionSessionExpire,
			Severity: audit.SeverityInfo,
			Outcome:  "expired",
			Metadata: map[string]string{"sessions": fmt.Sprint(n)},
		})
	}
	res.Sessions += n
	obs.ObserveSweep(res.Grants, n)
	return res, nil
}

// RunSweeper calls SweepExpired every interval until ctx is done.
func (s *Service) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			res, err := s.SweepExpired(ctx)
			if err != nil {
				obs.LogEvent("error", "expiry_sweep_failed", map[string]any{"error": err})
				continue
			}
			if res.Grants > 0 || res.Sessions > 0 {
				obs.LogEvent("info", "expiry_sweep", map[string]any{
					"grants":   res.Grants,
					"tokens":   res.Tokens,
					"sessions": res.Sessions,
				})
			}
		}
	}
}
