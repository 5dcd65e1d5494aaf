package ipns

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/ipfs/boxo/ipns"
	"github.com/ipfs/go-cid"
	ic "github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"

	"corenode/corerr"
	"corenode/internal/clock"
)

// Default* mirror helia-ipns/src/constants.rs's DEFAULT_LIFETIME_MS,
// DEFAULT_TTL_NS, DEFAULT_REPUBLISH_INTERVAL_MS,
// DEFAULT_REPUBLISH_CONCURRENCY and REPUBLISH_THRESHOLD_MS /
// MAX_RECURSIVE_DEPTH.
const (
	DefaultLifetime            = 48 * time.Hour
	DefaultTTL                 = 5 * time.Minute
	DefaultRepublishInterval   = 1 * time.Hour
	DefaultRepublishConcurrency = 5
	RepublishThreshold         = 4 * time.Hour
	MaxRecursiveDepth          = 32
)

// PublishOptions configures System.Publish, per spec.md §4.13.
type PublishOptions struct {
	Lifetime time.Duration
	Offline  bool
	TTL      time.Duration
}

func (o PublishOptions) normalized() PublishOptions {
	if o.Lifetime <= 0 {
		o.Lifetime = DefaultLifetime
	}
	if o.TTL <= 0 {
		o.TTL = DefaultTTL
	}
	return o
}

// ResolveOptions configures System.Resolve, per spec.md §4.13.
type ResolveOptions struct {
	Offline  bool
	NoCache  bool
	MaxDepth int
	Timeout  time.Duration
}

func (o ResolveOptions) normalized() ResolveOptions {
	if o.MaxDepth <= 0 {
		o.MaxDepth = MaxRecursiveDepth
	}
	return o
}

// PublishResult is returned by System.Publish.
type PublishResult struct {
	Record    *ipns.Record
	PublicKey ic.PubKey
}

// ResolveResult is returned by System.Resolve.
type ResolveResult struct {
	Cid    cid.Cid
	Path   string
	Record *ipns.Record
}

// System is the C13 publish/resolve orchestrator: a keystore, a local
// record store, a set of Routers, and a resolve cache, plus an optional
// background republish loop. Grounded on helia-ipns/src/lib.rs's Ipns
// trait (publish/resolve/resolve_peer_id/unpublish/start/stop).
type System struct {
	keystore *Keystore
	store    LocalStore
	routers  []Router
	cache    *resolveCache
	clock    *clock.Clock

	republishInterval    time.Duration
	republishConcurrency int

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewSystem builds a System over the given keystore, local store and
// routers (which should include a LocalRouter wrapping the same store,
// and typically a DHTRouter). Record validity, republish scheduling and
// cache expiry are all measured against an internal clock.Clock so
// tests can pin or advance time instead of sleeping; WithClock
// overrides the real-time default.
func NewSystem(keystore *Keystore, store LocalStore, routers []Router) *System {
	return &System{
		keystore:             keystore,
		store:                store,
		routers:              routers,
		cache:                newResolveCache(),
		clock:                clock.New(),
		republishInterval:    DefaultRepublishInterval,
		republishConcurrency: DefaultRepublishConcurrency,
		stopCh:               make(chan struct{}),
	}
}

// WithClock overrides s's clock, for deterministic tests of validity
// expiry and republish scheduling.
func (s *System) WithClock(c *clock.Clock) *System {
	s.clock = c
	return s
}

// Publish implements spec.md §4.13's Publish.
func (s *System) Publish(ctx context.Context, keyName string, value cid.Cid, opts PublishOptions) (*PublishResult, error) {
	opts = opts.normalized()

	sk, err := s.keystore.GetOrCreate(keyName)
	if err != nil {
		return nil, err
	}
	pub := sk.GetPublic()
	pid, err := peer.IDFromPublicKey(pub)
	if err != nil {
		return nil, corerr.Wrap(corerr.InvalidRecord, keyName, err)
	}
	name := NameFromPeer(pid)
	routingKey := string(name.RoutingKey())

	prior, ok, err := s.store.GetByKeyName(ctx, keyName)
	if err != nil {
		return nil, err
	}
	var sequence uint64
	if ok {
		sequence = prior.Sequence + 1
	}

	now := s.clock.Now()
	validity := now.Add(opts.Lifetime)

	rec, err := Sign(sk, value, sequence, validity, opts.TTL)
	if err != nil {
		return nil, err
	}
	raw, err := Marshal(rec)
	if err != nil {
		return nil, err
	}

	republishAfter := now.Add(s.republishInterval)
	if ceiling := validity.Add(-RepublishThreshold); republishAfter.After(ceiling) {
		republishAfter = ceiling
	}

	if err := s.store.Put(ctx, StoredRecord{
		KeyName:        keyName,
		RoutingKey:     routingKey,
		Raw:            raw,
		Sequence:       sequence,
		RepublishAfter: republishAfter,
	}); err != nil {
		return nil, err
	}

	if !opts.Offline {
		s.publishToRouters(ctx, []byte(routingKey), raw)
	}

	return &PublishResult{Record: rec, PublicKey: pub}, nil
}

func (s *System) publishToRouters(ctx context.Context, routingKey, raw []byte) {
	var wg sync.WaitGroup
	for _, r := range s.routers {
		r := r
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := r.Put(ctx, routingKey, raw); err != nil {
				log.Printf("ipns: router %s put failed: %v", r.Name(), err)
			}
		}()
	}
	wg.Wait()
}

// Unpublish removes keyName's local record. It does not attempt to
// retract already-published copies from routers.
func (s *System) Unpublish(ctx context.Context, keyName string) error {
	return s.store.Delete(ctx, keyName)
}

// Resolve implements spec.md §4.13's Resolve, given the raw identity
// bytes of an IPNS name (a peer ID's bytes).
func (s *System) Resolve(ctx context.Context, identity []byte, opts ResolveOptions) (*ResolveResult, error) {
	pid, err := peer.IDFromBytes(identity)
	if err != nil {
		return nil, corerr.Wrap(corerr.InvalidRecord, "identity", err)
	}
	return s.ResolvePeerID(ctx, pid, opts)
}

// ResolvePeerID resolves the IPNS name owned by pid.
func (s *System) ResolvePeerID(ctx context.Context, pid peer.ID, opts ResolveOptions) (*ResolveResult, error) {
	opts = opts.normalized()
	return s.resolve(ctx, NameFromPeer(pid), opts.MaxDepth, opts)
}

func (s *System) resolve(ctx context.Context, name Name, depth int, opts ResolveOptions) (*ResolveResult, error) {
	if depth <= 0 {
		return nil, corerr.New(corerr.RecursionLimit, name.String())
	}

	routingKey := string(name.RoutingKey())
	now := s.clock.Now()

	if !opts.NoCache {
		if cached, ok := s.cache.get(routingKey, now); ok {
			c, err := cid.Decode(cached.cid)
			if err != nil {
				return nil, err
			}
			rec, err := Unmarshal(cached.raw)
			if err != nil {
				return nil, err
			}
			return &ResolveResult{Cid: c, Path: cached.path, Record: rec}, nil
		}
	}

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	candidates, failures := s.queryAll(ctx, name, routingKey, opts)

	var valid []*ipns.Record
	for _, raw := range candidates {
		rec, err := Unmarshal(raw)
		if err != nil {
			failures++
			continue
		}
		if err := Validate(rec, name); err != nil {
			failures++
			continue
		}
		valid = append(valid, rec)
	}

	if len(valid) == 0 {
		if failures == 0 {
			return nil, corerr.New(corerr.NotFound, name.String())
		}
		return nil, corerr.New(corerr.RecordsFailedValidation, name.String())
	}

	best, err := SelectBest(valid)
	if err != nil {
		return nil, err
	}

	ttl, err := best.TTL()
	if err != nil {
		ttl = DefaultTTL
	}

	value, err := best.Value()
	if err != nil {
		return nil, corerr.Wrap(corerr.InvalidRecord, name.String(), err)
	}
	rawBest, err := Marshal(best)
	if err != nil {
		return nil, err
	}

	ident, p, isIPNS, err := parseValue(value.String())
	if err != nil {
		return nil, err
	}

	if isIPNS {
		nextID, err := peer.Decode(ident)
		if err != nil {
			return nil, corerr.Wrap(corerr.InvalidRecord, ident, err)
		}
		return s.resolve(ctx, NameFromPeer(nextID), depth-1, opts)
	}

	c, err := cid.Decode(ident)
	if err != nil {
		return nil, corerr.Wrap(corerr.InvalidRecord, ident, err)
	}
	s.cache.put(routingKey, cachedResolution{cid: c.String(), path: p, raw: rawBest}, ttl, now)
	return &ResolveResult{Cid: c, Path: p, Record: best}, nil
}

// queryAll fans the get out over every router plus the local store
// concurrently, collecting whatever candidates arrive before ctx ends.
// failures counts router/store errors other than a NotFound miss, so
// resolve can distinguish a cold miss (NOT_FOUND) from candidates that
// all failed validation (RECORDS_FAILED_VALIDATION).
func (s *System) queryAll(ctx context.Context, name Name, routingKey string, opts ResolveOptions) ([][]byte, int) {
	type result struct {
		raw []byte
		err error
	}

	results := make(chan result, len(s.routers)+1)
	var wg sync.WaitGroup

	query := func(get func() ([]byte, error)) {
		defer wg.Done()
		raw, err := get()
		results <- result{raw: raw, err: err}
	}

	wg.Add(1)
	go query(func() ([]byte, error) {
		rec, ok, err := s.store.Get(ctx, routingKey)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, corerr.New(corerr.NotFound, routingKey)
		}
		return rec.Raw, nil
	})

	if !opts.Offline {
		for _, r := range s.routers {
			r := r
			wg.Add(1)
			go query(func() ([]byte, error) {
				return r.Get(ctx, []byte(routingKey))
			})
		}
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	var candidates [][]byte
	failures := 0
	for res := range results {
		if res.err != nil {
			if !corerr.Is(res.err, corerr.NotFound) {
				failures++
			}
			continue
		}
		candidates = append(candidates, res.raw)
	}
	return candidates, failures
}

// parseValue splits an IPNS record's value ("/ipfs/<cid>[/sub/path]" or
// "/ipns/<identity>[/sub/path]") into its identifier and remaining
// path. Plain strings.HasPrefix/IndexByte parsing, not a third-party
// path parser: the value is always exactly two well-known prefixes
// plus a slash-delimited tail, underneath whatever boxo/path itself
// already validated when the record was signed.
func parseValue(value string) (identifier string, remainder string, isIPNS bool, err error) {
	const ipfsPrefix = "/ipfs/"
	const ipnsPrefix = "/ipns/"

	var prefix string
	switch {
	case strings.HasPrefix(value, ipfsPrefix):
		prefix = ipfsPrefix
	case strings.HasPrefix(value, ipnsPrefix):
		prefix = ipnsPrefix
		isIPNS = true
	default:
		return "", "", false, corerr.New(corerr.InvalidRecord, fmt.Sprintf("unrecognized value %q", value))
	}

	rest := value[len(prefix):]
	if slash := strings.IndexByte(rest, '/'); slash >= 0 {
		return rest[:slash], rest[slash:], isIPNS, nil
	}
	return rest, "", isIPNS, nil
}
