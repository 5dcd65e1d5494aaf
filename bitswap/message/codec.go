package message

import (
	"fmt"
	"io"

	pb "github.com/ipfs/boxo/bitswap/message/pb"
	"github.com/libp2p/go-libp2p/core/protocol"
	varint "github.com/multiformats/go-varint"

	"corenode/corerr"
)

// WriteTo encodes m as a varint-length-prefixed protobuf frame and
// writes it to w, negotiated for protocol version v. Returns an error
// without writing anything if m carries block presences but v predates
// them (v1.0.0).
func (m *Message) WriteTo(w io.Writer, v protocol.ID) (int64, error) {
	allowPresence := SupportsBlockPresence(v)
	if err := validateVersion(allowPresence, m); err != nil {
		return 0, err
	}

	proto := m.ToProto(allowPresence)
	size := proto.Size()
	if size > MaxMessageSize {
		return 0, corerr.New(corerr.Protocol, fmt.Sprintf("message size %d exceeds %d byte cap", size, MaxMessageSize))
	}

	data, err := proto.Marshal()
	if err != nil {
		return 0, fmt.Errorf("bitswap message: marshal: %w", err)
	}

	prefixBuf := varint.ToUvarint(uint64(len(data)))
	n1, err := w.Write(prefixBuf)
	if err != nil {
		return int64(n1), err
	}
	n2, err := w.Write(data)
	return int64(n1 + n2), err
}

// ReadFrom reads one varint-length-prefixed frame from r and decodes it.
// A frame whose declared length exceeds MaxMessageSize is rejected
// without reading its body, per spec.md §4.4.
func ReadFrom(r io.Reader) (*Message, error) {
	length, err := varint.ReadUvarint(byteReader{r})
	if err != nil {
		return nil, fmt.Errorf("bitswap message: read length prefix: %w", err)
	}
	if length > uint64(MaxMessageSize) {
		return nil, corerr.New(corerr.Protocol, fmt.Sprintf("frame size %d exceeds %d byte cap", length, MaxMessageSize))
	}

	buf := make([]byte, length)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("bitswap message: read body: %w", err)
	}

	var proto pb.Message
	if err := proto.Unmarshal(buf); err != nil {
		return nil, corerr.Wrap(corerr.Protocol, "unmarshal", err)
	}

	return FromProto(&proto)
}

// byteReader adapts an io.Reader to io.ByteReader for varint.ReadUvarint,
// one byte at a time. Bitswap streams are buffered upstream (yamux/mplex
// framing already batches reads), so this is not a hot-path concern.
type byteReader struct {
	io.Reader
}

func (b byteReader) ReadByte() (byte, error) {
	var buf [1]byte
	_, err := io.ReadFull(b.Reader, buf[:])
	return buf[0], err
}
