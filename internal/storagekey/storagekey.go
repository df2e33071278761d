// Package storagekey derives the fixed-width keys that identify queues and
// apps inside a partition's storage files.
package storagekey

import (
	"encoding/binary"
	"encoding/hex"
	"hash/fnv"
	"strings"
)

// KeyLength is the wire width of a storage key.
const KeyLength = 4

// Key is a fixed-width identifier derived from a URI or app id by
// hash-then-truncate. Uniqueness is enforced by the caller within its scope
// (queue keys within a partition, app keys within a queue); on collision the
// caller rehashes with a salt.
type Key [KeyLength]byte

var NullKey Key

func (k Key) IsNull() bool { return k == NullKey }

func (k Key) Hex() string { return strings.ToUpper(hex.EncodeToString(k[:])) }

func (k Key) Bytes() []byte { return append([]byte(nil), k[:]...) }

func FromBytes(b []byte) Key {
	var k Key
	copy(k[:], b)
	return k
}

// ForName hashes name and truncates to the key width.
func ForName(name string) Key {
	return ForNameSalted(name, 0)
}

// ForNameSalted folds a salt into the hash, used to resolve collisions with
// a monotonic counter.
func ForNameSalted(name string, salt uint64) Key {
	h := fnv.New64a()
	_, _ = h.Write([]byte(name))
	if salt != 0 {
		var s [8]byte
		binary.BigEndian.PutUint64(s[:], salt)
		_, _ = h.Write(s[:])
	}
	var k Key
	binary.BigEndian.PutUint32(k[:], uint32(h.Sum64()))
	return k
}
