package ipns

import (
	"time"

	"github.com/ipfs/boxo/ipns"
	"github.com/ipfs/boxo/path"
	"github.com/ipfs/go-cid"
	ic "github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"

	"corenode/corerr"
)

func toIPFSPath(c cid.Cid) (path.Path, error) {
	return path.FromCid(c), nil
}

// MaxRecordSize is spec.md §4.12's 10 KiB cap on a marshaled record.
const MaxRecordSize = 10 * 1024

// Name identifies an IPNS record's subject: the peer whose keypair
// signs it. RoutingKey is what publish/resolve actually put and get
// from routers.
type Name = ipns.Name

// NameFromPeer derives a Name from a peer ID, mirroring
// helia-ipns/src/keys.rs's routing_key_from_peer_id.
func NameFromPeer(p peer.ID) Name {
	return ipns.NameFromPeer(p)
}

// Sign builds and signs a new IPNS record pointing at value, per
// spec.md §4.12: the DAG-CBOR data payload is built and signed by
// ipns.NewRecord itself (boxo's record codec), over (value, sequence,
// validity, ttl).
func Sign(sk ic.PrivKey, value cid.Cid, sequence uint64, validity time.Time, ttl time.Duration) (*ipns.Record, error) {
	p, err := toIPFSPath(value)
	if err != nil {
		return nil, err
	}
	rec, err := ipns.NewRecord(sk, p, sequence, validity, ttl)
	if err != nil {
		return nil, corerr.Wrap(corerr.InvalidRecord, "sign", err)
	}
	return rec, nil
}

// Marshal serializes rec, rejecting anything over MaxRecordSize per
// spec.md §4.12.
func Marshal(rec *ipns.Record) ([]byte, error) {
	raw, err := rec.Marshal()
	if err != nil {
		return nil, corerr.Wrap(corerr.InvalidRecord, "marshal", err)
	}
	if len(raw) > MaxRecordSize {
		return nil, corerr.New(corerr.InvalidRecord, "record exceeds 10 KiB")
	}
	return raw, nil
}

// Unmarshal parses raw record bytes, rejecting anything over
// MaxRecordSize before even attempting to decode it.
func Unmarshal(raw []byte) (*ipns.Record, error) {
	if len(raw) > MaxRecordSize {
		return nil, corerr.New(corerr.InvalidRecord, "record exceeds 10 KiB")
	}
	rec, err := ipns.UnmarshalRecord(raw)
	if err != nil {
		return nil, corerr.Wrap(corerr.InvalidRecord, "unmarshal", err)
	}
	return rec, nil
}

// Validate implements spec.md §4.12's validation steps 2-5: recover the
// public key (embedded, or from name if derivable), verify the
// signature, and check the record's own fields (including validity
// expiry against the local clock) all via boxo's ipns.Validate /
// ipns.ValidateWithName, which implement exactly this sequence against
// the same wire format Sign/Marshal above produce.
func Validate(rec *ipns.Record, name Name) error {
	if err := ipns.ValidateWithName(rec, name); err != nil {
		return corerr.Wrap(corerr.InvalidRecord, name.String(), err)
	}
	return nil
}

// SelectBest implements spec.md §4.12's best-record selection: highest
// sequence, ties broken by later validity, further ties by longer then
// lexicographically-greater signature bytes. ipns.Compare implements
// exactly this ordering (boxo's own "best record" rule, which this
// repo's candidate-record merge logic in orchestrator.go's resolve needs to be
// deterministic and commutative across differently-ordered router
// responses).
func SelectBest(candidates []*ipns.Record) (*ipns.Record, error) {
	if len(candidates) == 0 {
		return nil, corerr.New(corerr.NotFound, "no candidate records")
	}
	best := candidates[0]
	for _, c := range candidates[1:] {
		cmp, err := ipns.Compare(best, c)
		if err != nil {
			return nil, corerr.Wrap(corerr.InvalidRecord, "compare", err)
		}
		if cmp < 0 {
			best = c
		}
	}
	return best, nil
}
