package cache

// RangeData is the payload of a range trie node.
//
// Populated distinguishes a node whose member list was computed (possibly empty)
// from a placeholder created while linking the left branch. Parent names the
// nearest coarser key that holds an explicit collection covering this node.
type RangeData struct {
	Data      []int64 `msgpack:"d"`
	Populated bool    `msgpack:"p"`
	Parent    string  `msgpack:"r,omitempty"`
}

// NewRangeData returns a populated node holding ids.
func NewRangeData(ids []int64, parent string) RangeData {
	if ids == nil {
		ids = []int64{}
	}
	return RangeData{Data: ids, Populated: true, Parent: parent}
}

// PendingRangeData returns a node whose members are not known yet.
func PendingRangeData(parent string) RangeData {
	return RangeData{Parent: parent}
}

// WithParent returns a copy of d linked to parent.
func (d RangeData) WithParent(parent string) RangeData {
	d.Parent = parent
	return d
}

// WithData returns a populated copy of d holding ids.
func (d RangeData) WithData(ids []int64) RangeData {
	return NewRangeData(ids, d.Parent)
}
