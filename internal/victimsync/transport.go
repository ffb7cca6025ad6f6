package victimsync

import (
	"sync"

	"github.com/klauspost/compress/zstd"

	"github.com/dreamware/edgecache/internal/wire"
)

// Codec zstd-compresses VictimSyncset wire bytes for transport. The
// dedup/delta structure of the syncset itself is a
// tested bit-level invariant and is never altered here; Codec only shrinks
// the already-framed bytes before they cross a neighbor link, the way a
// transport layer compresses any other payload.
type Codec struct {
	encMu sync.Mutex
	enc   *zstd.Encoder
	dec   *zstd.Decoder
}

// NewCodec builds a reusable encoder/decoder pair. The zero value is not
// usable; always construct through NewCodec.
func NewCodec() (*Codec, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, err
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		return nil, err
	}
	return &Codec{enc: enc, dec: dec}, nil
}

// EncodeForWire frames msg and zstd-compresses the result.
func (c *Codec) EncodeForWire(msg wire.VictimSyncset) ([]byte, error) {
	raw, err := msg.Encode()
	if err != nil {
		return nil, err
	}
	c.encMu.Lock()
	defer c.encMu.Unlock()
	return c.enc.EncodeAll(raw, nil), nil
}

// DecodeFromWire reverses EncodeForWire.
func (c *Codec) DecodeFromWire(compressed []byte) (wire.VictimSyncset, error) {
	raw, err := c.dec.DecodeAll(compressed, nil)
	if err != nil {
		return wire.VictimSyncset{}, err
	}
	return wire.DecodeVictimSyncset(raw)
}

// Close releases the encoder/decoder's background resources.
func (c *Codec) Close() {
	c.enc.Close()
	c.dec.Close()
}
