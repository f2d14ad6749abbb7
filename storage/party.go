package storage

import (
	"context"

	"github.com/rnrlcrm/tradedesk/domain/party"
)

// SaveParty upserts a party record. Partner management is an external
// collaborator in production (see domain/party); InMemoryGateway's copy
// exists so tests and local composition roots can exercise the matching
// engine without a live partner service.
func (g *InMemoryGateway) SaveParty(ctx context.Context, p party.Party) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.parties == nil {
		g.parties = make(map[string]party.Party)
	}
	g.parties[p.ID] = p
	return nil
}

// GetParty implements matching.PartyLookup.
func (g *InMemoryGateway) GetParty(ctx context.Context, id string) (party.Party, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	p, ok := g.parties[id]
	if !ok {
		return party.Party{}, ErrNotFound
	}
	return p, nil
}
