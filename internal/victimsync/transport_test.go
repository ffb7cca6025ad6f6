package victimsync

import (
	"testing"

	"github.com/dreamware/edgecache/internal/wire"
)

func TestCodecEncodeDecodeRoundTrip(t *testing.T) {
	codec, err := NewCodec()
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}
	defer codec.Close()

	msg := wire.VictimSyncset{
		SeqNum:   3,
		Complete: true,
		Entries: []wire.VictimSyncsetEntry{
			{Key: []byte("k1"), Info: vd(1, 5)},
		},
	}

	compressed, err := codec.EncodeForWire(msg)
	if err != nil {
		t.Fatalf("EncodeForWire: %v", err)
	}
	got, err := codec.DecodeFromWire(compressed)
	if err != nil {
		t.Fatalf("DecodeFromWire: %v", err)
	}
	if got.SeqNum != msg.SeqNum || !got.Complete || len(got.Entries) != 1 {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}
