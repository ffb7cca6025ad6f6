package wire

import (
	"bytes"
	"encoding/binary"
	"io"
)

// VictimDirinfo is a per-key record of the beacon edge for that key plus
// the complete dirinfo set of neighbors caching it, as tracked locally by
// VictimTracker. Dirinfos here are always the complete form.
type VictimDirinfo struct {
	BeaconEdgeIndex uint32
	Dirinfos        DirinfoSet
}

// VictimSyncsetEntry pairs a key with its VictimDirinfo record inside a
// VictimSyncset batch.
type VictimSyncsetEntry struct {
	Key  []byte
	Info VictimDirinfo
}

// VictimSyncset is a per-neighbor outbound/inbound batch of VictimDirinfo
// records: a monotonically increasing sequence number,
// a complete-or-delta flag, and an enforce-complete flag that forces the
// receiver's next outbound message to request (and the sender to answer
// with) a full resync.
//
// When Complete is false, Entries holds only the keys added or changed
// since the prior syncset and RemovedKeys holds the keys dropped from it;
// the full batch is the previous complete state with RemovedKeys deleted
// and Entries applied on top. When Complete is true, Entries is the full batch and
// RemovedKeys is always empty.
type VictimSyncset struct {
	SeqNum          uint64
	EnforceComplete bool
	Complete        bool
	Entries         []VictimSyncsetEntry
	RemovedKeys     [][]byte
}

// Encode serializes the syncset: seqnum(u64) enforce_complete(u8)
// complete(u8) entryCount(u32), then per entry keyLen(u32)+key
// beaconEdgeIndex(u32) dirinfoLen(u32)+dirinfo-bytes, followed by
// removedCount(u32) and removedKeyLen(u32)+key per removed key.
func (v VictimSyncset) Encode() ([]byte, error) {
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, v.SeqNum); err != nil {
		return nil, err
	}
	if err := buf.WriteByte(boolByte(v.EnforceComplete)); err != nil {
		return nil, err
	}
	if err := buf.WriteByte(boolByte(v.Complete)); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.LittleEndian, uint32(len(v.Entries))); err != nil {
		return nil, err
	}
	for _, e := range v.Entries {
		if err := binary.Write(&buf, binary.LittleEndian, uint32(len(e.Key))); err != nil {
			return nil, err
		}
		buf.Write(e.Key)
		if err := binary.Write(&buf, binary.LittleEndian, e.Info.BeaconEdgeIndex); err != nil {
			return nil, err
		}
		diBytes, err := e.Info.Dirinfos.Encode()
		if err != nil {
			return nil, err
		}
		if err := binary.Write(&buf, binary.LittleEndian, uint32(len(diBytes))); err != nil {
			return nil, err
		}
		buf.Write(diBytes)
	}
	if err := binary.Write(&buf, binary.LittleEndian, uint32(len(v.RemovedKeys))); err != nil {
		return nil, err
	}
	for _, k := range v.RemovedKeys {
		if err := binary.Write(&buf, binary.LittleEndian, uint32(len(k))); err != nil {
			return nil, err
		}
		buf.Write(k)
	}
	return buf.Bytes(), nil
}

// DecodeVictimSyncset is the inverse of VictimSyncset.Encode.
func DecodeVictimSyncset(data []byte) (VictimSyncset, error) {
	r := bytes.NewReader(data)
	var v VictimSyncset
	if err := binary.Read(r, binary.LittleEndian, &v.SeqNum); err != nil {
		return v, err
	}
	eb, err := r.ReadByte()
	if err != nil {
		return v, err
	}
	v.EnforceComplete = eb != 0
	cb, err := r.ReadByte()
	if err != nil {
		return v, err
	}
	v.Complete = cb != 0

	var count uint32
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return v, err
	}
	v.Entries = make([]VictimSyncsetEntry, count)
	for i := range v.Entries {
		var keyLen uint32
		if err := binary.Read(r, binary.LittleEndian, &keyLen); err != nil {
			return v, err
		}
		key := make([]byte, keyLen)
		if _, err := io.ReadFull(r, key); err != nil {
			return v, err
		}
		var beaconIdx uint32
		if err := binary.Read(r, binary.LittleEndian, &beaconIdx); err != nil {
			return v, err
		}
		var diLen uint32
		if err := binary.Read(r, binary.LittleEndian, &diLen); err != nil {
			return v, err
		}
		diBytes := make([]byte, diLen)
		if _, err := io.ReadFull(r, diBytes); err != nil {
			return v, err
		}
		dirinfos, err := DecodeDirinfoSet(diBytes)
		if err != nil {
			return v, err
		}
		v.Entries[i] = VictimSyncsetEntry{
			Key:  key,
			Info: VictimDirinfo{BeaconEdgeIndex: beaconIdx, Dirinfos: dirinfos},
		}
	}

	var removedCount uint32
	if err := binary.Read(r, binary.LittleEndian, &removedCount); err != nil {
		return v, err
	}
	v.RemovedKeys = make([][]byte, removedCount)
	for i := range v.RemovedKeys {
		var keyLen uint32
		if err := binary.Read(r, binary.LittleEndian, &keyLen); err != nil {
			return v, err
		}
		key := make([]byte, keyLen)
		if _, err := io.ReadFull(r, key); err != nil {
			return v, err
		}
		v.RemovedKeys[i] = key
	}
	return v, nil
}

// CompressVictimSyncset builds the delta form of a victim syncset given the
// previously installed complete batch (keyed by string key) and the new
// complete batch to advertise. If previous is nil the result is always a
// complete syncset (nothing to delta against).
func CompressVictimSyncset(seqNum uint64, enforceComplete bool, previous, current map[string]VictimDirinfo) VictimSyncset {
	if previous == nil {
		return completeVictimSyncset(seqNum, enforceComplete, current)
	}

	v := VictimSyncset{SeqNum: seqNum, EnforceComplete: enforceComplete, Complete: false}
	for k, info := range current {
		prev, existed := previous[k]
		if !existed || !sameVictimDirinfo(prev, info) {
			v.Entries = append(v.Entries, VictimSyncsetEntry{Key: []byte(k), Info: info})
		}
	}
	for k := range previous {
		if _, ok := current[k]; !ok {
			v.RemovedKeys = append(v.RemovedKeys, []byte(k))
		}
	}
	return v
}

func completeVictimSyncset(seqNum uint64, enforceComplete bool, current map[string]VictimDirinfo) VictimSyncset {
	v := VictimSyncset{SeqNum: seqNum, EnforceComplete: enforceComplete, Complete: true}
	for k, info := range current {
		v.Entries = append(v.Entries, VictimSyncsetEntry{Key: []byte(k), Info: info})
	}
	return v
}

func sameVictimDirinfo(a, b VictimDirinfo) bool {
	if a.BeaconEdgeIndex != b.BeaconEdgeIndex {
		return false
	}
	if len(a.Dirinfos.Items) != len(b.Dirinfos.Items) {
		return false
	}
	seen := make(map[DirectoryInfo]bool, len(a.Dirinfos.Items))
	for _, it := range a.Dirinfos.Items {
		seen[it] = true
	}
	for _, it := range b.Dirinfos.Items {
		if !seen[it] {
			return false
		}
	}
	return true
}

// Recover applies the syncset to the previously installed complete batch,
// returning the new complete batch. If v.Complete is true, previous is
// ignored and the entries themselves are the complete batch.
func (v VictimSyncset) Recover(previous map[string]VictimDirinfo) map[string]VictimDirinfo {
	out := make(map[string]VictimDirinfo, len(previous)+len(v.Entries))
	if !v.Complete {
		for k, info := range previous {
			out[k] = info
		}
	}
	for _, rk := range v.RemovedKeys {
		delete(out, string(rk))
	}
	for _, e := range v.Entries {
		out[string(e.Key)] = e.Info
	}
	return out
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}
