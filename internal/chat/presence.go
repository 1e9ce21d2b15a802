package chat

import (
	"context"
	"encoding/json"
	"log/slog"
	"slices"
)

// PresenceSync keeps the roster snapshot. Fetches run in the background and
// their results are applied on the dispatch goroutine.
type PresenceSync struct {
	ctx    context.Context
	roomID string
	source RosterSource
	pres   Presentation
	log    *slog.Logger
	post   func(func())

	members []Member
	issued  uint64
	applied uint64
}

// Members returns a copy of the last applied roster.
func (p *PresenceSync) Members() []Member {
	return slices.Clone(p.members)
}

// Refresh starts a roster fetch.
func (p *PresenceSync) Refresh() {
	p.issued++
	gen := p.issued
	go func() {
		raw, err := p.source.FetchMembers(p.ctx, p.roomID)
		p.post(func() { p.apply(gen, raw, err) })
	}()
}

func (p *PresenceSync) apply(gen uint64, raw json.RawMessage, fetchErr error) {
	if gen <= p.applied {
		p.log.Debug("discarding stale roster", "generation", gen, "applied", p.applied)
		return
	}
	if fetchErr != nil {
		p.log.Warn("roster fetch failed", "room", p.roomID, "error", fetchErr)
		return
	}
	members, present, err := ParseRoster(raw)
	if err != nil {
		p.log.Warn("roster fetch failed", "room", p.roomID, "error", err)
		return
	}
	if !present {
		p.log.Debug("roster response without members", "room", p.roomID)
		return
	}
	p.applied = gen
	p.members = members
	p.pres.UpdateRoster(slices.Clone(members))
}
