package merging

import (
	"encoding/binary"
	"math"

	"github.com/google/uuid"
)

var keyNamespace = uuid.NewSHA1(uuid.NameSpaceOID, []byte("github.com/notargets/SpikeKernel/merging"))

// KeyBuilder accumulates everything that decides whether two groups can share
// generated code. Every item is length prefixed so adjacent strings can't
// collide.
type KeyBuilder struct {
	buf []byte
}

func NewKeyBuilder(kind string) *KeyBuilder {
	return new(KeyBuilder).String(kind)
}

func (k *KeyBuilder) String(s string) *KeyBuilder {
	k.buf = binary.LittleEndian.AppendUint64(k.buf, uint64(len(s)))
	k.buf = append(k.buf, s...)
	return k
}

func (k *KeyBuilder) Strings(ss ...string) *KeyBuilder {
	k.Int(len(ss))
	for _, s := range ss {
		k.String(s)
	}
	return k
}

func (k *KeyBuilder) Int(v int) *KeyBuilder {
	k.buf = binary.LittleEndian.AppendUint64(k.buf, uint64(int64(v)))
	return k
}

func (k *KeyBuilder) Bool(b bool) *KeyBuilder {
	if b {
		k.buf = append(k.buf, 1)
	} else {
		k.buf = append(k.buf, 0)
	}
	return k
}

func (k *KeyBuilder) Float(v float64) *KeyBuilder {
	k.buf = binary.LittleEndian.AppendUint64(k.buf, math.Float64bits(v))
	return k
}

// Key digests the accumulated bytes
func (k *KeyBuilder) Key() string {
	return uuid.NewSHA1(keyNamespace, k.buf).String()
}

// Merge partitions groups by key. Classes and their members keep the order
// in which they first appear and classes are indexed from zero.
func Merge[G Named](typeName string, groups []G, key func(g G) string) []*MergedGroup[G] {
	var (
		order   []string
		classes = make(map[string][]G)
	)
	for _, g := range groups {
		k := key(g)
		if _, ok := classes[k]; !ok {
			order = append(order, k)
		}
		classes[k] = append(classes[k], g)
	}
	merged := make([]*MergedGroup[G], len(order))
	for i, k := range order {
		merged[i] = NewMergedGroup(typeName, i, classes[k])
	}
	return merged
}

// Filter keeps the groups for which keep returns true
func Filter[G any](groups []G, keep func(g G) bool) []G {
	var out []G
	for _, g := range groups {
		if keep(g) {
			out = append(out, g)
		}
	}
	return out
}
