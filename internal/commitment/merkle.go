package commitment

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/mr-tron/base58"
)

const (
	leafPrefix byte = 0x00
	nodePrefix byte = 0x01

	// AddressLen is the raw length of a base58 wallet address.
	AddressLen = 32
)

// Hash is a SHA-256 digest. It encodes as 0x-prefixed hex.
type Hash [sha256.Size]byte

// EmptyRoot is the root of a tree with no leaves: SHA-256 of the empty string.
var EmptyRoot = Hash(sha256.Sum256(nil))

func (h Hash) String() string {
	return "0x" + hex.EncodeToString(h[:])
}

func (h Hash) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

func (h *Hash) UnmarshalText(text []byte) error {
	parsed, err := ParseHash(string(text))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

// ParseHash decodes a hex hash with or without the 0x prefix.
func ParseHash(s string) (Hash, error) {
	var h Hash
	raw, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return h, fmt.Errorf("invalid hash %q: %w", s, err)
	}
	if len(raw) != len(h) {
		return h, fmt.Errorf("invalid hash %q: want %d bytes, got %d", s, len(h), len(raw))
	}
	copy(h[:], raw)
	return h, nil
}

// AccountBytes is the account a leaf commits to: the 32 raw bytes of the
// base58 address when one is set, otherwise the UTF-8 user ID.
func AccountBytes(userID, address string) ([]byte, error) {
	if address == "" {
		if userID == "" {
			return nil, fmt.Errorf("leaf needs a user id or an address")
		}
		return []byte(userID), nil
	}
	raw, err := base58.Decode(address)
	if err != nil {
		return nil, fmt.Errorf("invalid address %q: %w", address, err)
	}
	if len(raw) != AddressLen {
		return nil, fmt.Errorf("invalid address %q: want %d bytes, got %d", address, AddressLen, len(raw))
	}
	return raw, nil
}

// LeafHash is SHA-256(0x00 || u16be(len(account)) || account || u64be(amount)).
func LeafHash(account []byte, amountUnits int64) Hash {
	buf := make([]byte, 0, 1+2+len(account)+8)
	buf = append(buf, leafPrefix)
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(account)))
	buf = append(buf, account...)
	buf = binary.BigEndian.AppendUint64(buf, uint64(amountUnits))
	return sha256.Sum256(buf)
}

// hashPair is SHA-256(0x01 || min(a,b) || max(a,b)); sibling order never matters.
func hashPair(a, b Hash) Hash {
	if bytes.Compare(a[:], b[:]) > 0 {
		a, b = b, a
	}
	buf := make([]byte, 0, 1+2*sha256.Size)
	buf = append(buf, nodePrefix)
	buf = append(buf, a[:]...)
	buf = append(buf, b[:]...)
	return sha256.Sum256(buf)
}

// tree holds every level from the sorted leaves (level 0) up to the root.
type tree struct {
	levels [][]Hash
}

func newTree(leaves []Hash) *tree {
	sorted := append([]Hash(nil), leaves...)
	sort.Slice(sorted, func(i, j int) bool {
		return bytes.Compare(sorted[i][:], sorted[j][:]) < 0
	})

	t := &tree{levels: [][]Hash{sorted}}
	for level := sorted; len(level) > 1; {
		next := make([]Hash, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			if i+1 < len(level) {
				next = append(next, hashPair(level[i], level[i+1]))
			} else {
				// odd node is promoted unchanged
				next = append(next, level[i])
			}
		}
		t.levels = append(t.levels, next)
		level = next
	}
	return t
}

func (t *tree) root() Hash {
	top := t.levels[len(t.levels)-1]
	if len(top) == 0 {
		return EmptyRoot
	}
	return top[0]
}

// proof returns the sibling path, leaf to root, for the leaf at sorted index idx.
func (t *tree) proof(idx int) []Hash {
	var path []Hash
	for _, level := range t.levels[:len(t.levels)-1] {
		if sibling := idx ^ 1; sibling < len(level) {
			path = append(path, level[sibling])
		}
		idx /= 2
	}
	return path
}

func (t *tree) index(leaf Hash) int {
	level := t.levels[0]
	i := sort.Search(len(level), func(i int) bool {
		return bytes.Compare(level[i][:], leaf[:]) >= 0
	})
	if i < len(level) && level[i] == leaf {
		return i
	}
	return -1
}

// Verify recomputes the root from a leaf hash and its proof.
func Verify(leaf Hash, proof []Hash, root Hash) bool {
	h := leaf
	for _, sibling := range proof {
		h = hashPair(h, sibling)
	}
	return h == root
}
