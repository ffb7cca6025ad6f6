package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// DirinfoSet is an ordered set of DirectoryInfo values, used by the victim
// synchronization channel to carry a neighbor's complete or
// delta-compressed set of eviction-candidate owners. Dirinfo sets
// stored locally by the victim tracker are always complete; DirinfoSet
// additionally supports the compressed wire form.
//
// Framing: one bitmap byte (0 = complete; bit0 = new-delta present;
// bit1 = stale-delta present; bit2 alone = delta with no changes), then
// either a complete set (u32 count + count x DirectoryInfo) or one or
// two delta sets using the same count-prefixed encoding (added first if
// present, then removed). The bit2 sentinel keeps an empty delta
// distinguishable from a complete set, which also starts with no delta
// bits set.
type DirinfoSet struct {
	// Complete is true when this set stands on its own; false when Added/
	// Removed must be applied against a previously agreed-upon set.
	Complete bool
	Items    []DirectoryInfo // valid when Complete

	Added   []DirectoryInfo // new-delta: present in current, absent from previous
	Removed []DirectoryInfo // stale-delta: present in previous, absent from current
}

const (
	bitmapNewDelta   = 0x1
	bitmapStaleDelta = 0x2
	bitmapEmptyDelta = 0x4
)

func writeDirectoryInfoSlice(buf *bytes.Buffer, items []DirectoryInfo) error {
	if err := binary.Write(buf, binary.LittleEndian, uint32(len(items))); err != nil {
		return err
	}
	for _, it := range items {
		if err := binary.Write(buf, binary.LittleEndian, uint32(it)); err != nil {
			return err
		}
	}
	return nil
}

func readDirectoryInfoSlice(r io.Reader) ([]DirectoryInfo, error) {
	var count uint32
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return nil, err
	}
	items := make([]DirectoryInfo, count)
	for i := range items {
		var v uint32
		if err := binary.Read(r, binary.LittleEndian, &v); err != nil {
			return nil, err
		}
		items[i] = DirectoryInfo(v)
	}
	return items, nil
}

// Encode serializes the set per the bitmap framing above.
func (s DirinfoSet) Encode() ([]byte, error) {
	var buf bytes.Buffer
	if s.Complete {
		buf.WriteByte(0)
		if err := writeDirectoryInfoSlice(&buf, s.Items); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}

	var bitmap uint8
	if s.Added != nil {
		bitmap |= bitmapNewDelta
	}
	if s.Removed != nil {
		bitmap |= bitmapStaleDelta
	}
	if bitmap == 0 {
		// A delta that changes nothing would otherwise be
		// indistinguishable from a complete set's zero bitmap.
		buf.WriteByte(bitmapEmptyDelta)
		return buf.Bytes(), nil
	}
	buf.WriteByte(bitmap)
	if bitmap&bitmapNewDelta != 0 {
		if err := writeDirectoryInfoSlice(&buf, s.Added); err != nil {
			return nil, err
		}
	}
	if bitmap&bitmapStaleDelta != 0 {
		if err := writeDirectoryInfoSlice(&buf, s.Removed); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// DecodeDirinfoSet is the inverse of DirinfoSet.Encode.
func DecodeDirinfoSet(data []byte) (DirinfoSet, error) {
	r := bytes.NewReader(data)
	var bitmap uint8
	if err := binary.Read(r, binary.LittleEndian, &bitmap); err != nil {
		return DirinfoSet{}, err
	}
	if bitmap == 0 {
		items, err := readDirectoryInfoSlice(r)
		if err != nil {
			return DirinfoSet{}, err
		}
		return DirinfoSet{Complete: true, Items: items}, nil
	}
	if bitmap == bitmapEmptyDelta {
		return DirinfoSet{}, nil
	}
	out := DirinfoSet{}
	if bitmap&bitmapNewDelta != 0 {
		added, err := readDirectoryInfoSlice(r)
		if err != nil {
			return DirinfoSet{}, err
		}
		out.Added = added
	}
	if bitmap&bitmapStaleDelta != 0 {
		removed, err := readDirectoryInfoSlice(r)
		if err != nil {
			return DirinfoSet{}, err
		}
		out.Removed = removed
	}
	return out, nil
}

// Compress computes the delta from previous to current: items present in
// current but not previous become Added; items present in previous but not
// current become Removed. If previous is nil, Compress returns a complete
// set instead (there is nothing to diff against).
func Compress(current, previous []DirectoryInfo) DirinfoSet {
	if previous == nil {
		return DirinfoSet{Complete: true, Items: append([]DirectoryInfo(nil), current...)}
	}

	prevSet := make(map[DirectoryInfo]struct{}, len(previous))
	for _, p := range previous {
		prevSet[p] = struct{}{}
	}
	curSet := make(map[DirectoryInfo]struct{}, len(current))
	for _, c := range current {
		curSet[c] = struct{}{}
	}

	var added, removed []DirectoryInfo
	for _, c := range current {
		if _, ok := prevSet[c]; !ok {
			added = append(added, c)
		}
	}
	for _, p := range previous {
		if _, ok := curSet[p]; !ok {
			removed = append(removed, p)
		}
	}
	return DirinfoSet{Added: added, Removed: removed}
}

// Recover applies s to previous and returns the reconstructed complete set.
// If s is already complete, it is returned as-is. Recover requires s to
// have been produced (directly or transitively) as Compress(current,
// previous) for the exact previous given here, so that
// Compress(current, previous).Recover(previous) == current.
func (s DirinfoSet) Recover(previous []DirectoryInfo) ([]DirectoryInfo, error) {
	if s.Complete {
		return append([]DirectoryInfo(nil), s.Items...), nil
	}

	removed := make(map[DirectoryInfo]struct{}, len(s.Removed))
	for _, r := range s.Removed {
		removed[r] = struct{}{}
	}
	added := make(map[DirectoryInfo]struct{}, len(s.Added))
	for _, a := range s.Added {
		added[a] = struct{}{}
		if _, dup := removed[a]; dup {
			return nil, fmt.Errorf("wire: dirinfo %d present in both added and removed delta", a)
		}
	}

	result := make([]DirectoryInfo, 0, len(previous)+len(s.Added))
	for _, p := range previous {
		if _, gone := removed[p]; gone {
			continue
		}
		result = append(result, p)
	}
	for _, a := range s.Added {
		result = append(result, a)
	}
	return result, nil
}
