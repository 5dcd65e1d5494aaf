package session

import (
	"sort"

	"github.com/ipfs/go-cid"
	"github.com/libp2p/go-libp2p/core/peer"
)

// comparePeers is the tunable tie-break policy spec.md §4.7's open
// question leaves to implementations: "mixes previously-gave-HAVE with
// lowest-outstanding-wants... MAY tune the tie-break weighting". This
// implementation fixes the two-key ordering the spec states (HAVE
// first, then fewest in-flight) and breaks remaining ties by peer ID so
// the ranking is deterministic for tests.
func comparePeers(c *Coordinator, target cid.Cid) func(a, b peer.ID) bool {
	return func(a, b peer.ID) bool {
		aHave := c.ledgerFor(a).RecentlyHad(target)
		bHave := c.ledgerFor(b).RecentlyHad(target)
		if aHave != bHave {
			return aHave
		}

		c.mu.Lock()
		aLoad, bLoad := c.inflight[a], c.inflight[b]
		c.mu.Unlock()
		if aLoad != bLoad {
			return aLoad < bLoad
		}

		return a < b
	}
}

// rankPeers orders candidates by comparePeers, deduplicating as it
// goes (a peer seeded both from the connected set and from discovery
// should only be tried once per fanOut pass).
func rankPeers(candidates []peer.ID, c *Coordinator, target cid.Cid) []peer.ID {
	seen := map[peer.ID]struct{}{}
	uniq := make([]peer.ID, 0, len(candidates))
	for _, p := range candidates {
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		uniq = append(uniq, p)
	}

	less := comparePeers(c, target)
	sort.Slice(uniq, func(i, j int) bool { return less(uniq[i], uniq[j]) })
	return uniq
}
