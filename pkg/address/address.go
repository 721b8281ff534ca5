// Package address defines the 256-bit identifiers shared by records and
// peers, and the XOR distance metric that orders them.
package address

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"slices"

	"golang.org/x/crypto/blake2b"
)

// Size is the length of an Address in bytes.
const Size = 32

// ErrInvalidLength is returned when decoding an address of the wrong size.
var ErrInvalidLength = errors.New("address: invalid length")

// Address is a point in the XOR keyspace. Records are stored under an
// Address and peers are placed at one.
type Address [Size]byte // A

// PeerID identifies a peer. Its keyspace position is the PeerID bytes
// interpreted as an Address.
type PeerID [Size]byte // A

// FromContent derives a content address from raw bytes.
func FromContent(data []byte) Address { // A
	return Address(blake2b.Sum256(data))
}

// FromParts derives an address from several byte slices, each length
// prefixed so that distinct splits never collide.
func FromParts(parts ...[]byte) Address { // A
	h, _ := blake2b.New256(nil)
	var lenBuf [4]byte
	for _, p := range parts {
		n := len(p)
		lenBuf[0] = byte(n >> 24)
		lenBuf[1] = byte(n >> 16)
		lenBuf[2] = byte(n >> 8)
		lenBuf[3] = byte(n)
		h.Write(lenBuf[:])
		h.Write(p)
	}
	var out Address
	copy(out[:], h.Sum(nil))
	return out
}

// FromBytes copies a 32 byte slice into an Address.
func FromBytes(b []byte) (Address, error) { // A
	if len(b) != Size {
		return Address{}, fmt.Errorf("%w: %d", ErrInvalidLength, len(b))
	}
	var a Address
	copy(a[:], b)
	return a, nil
}

// ParseHex decodes the hex form produced by Address.String.
func ParseHex(s string) (Address, error) { // A
	b, err := hex.DecodeString(s)
	if err != nil {
		return Address{}, fmt.Errorf("address: decode hex: %w", err)
	}
	return FromBytes(b)
}

func (a Address) String() string { // A
	return hex.EncodeToString(a[:])
}

// Short returns the first eight hex characters, for logging.
func (a Address) Short() string { // A
	return hex.EncodeToString(a[:4])
}

// IsZero reports whether a is the all-zero address.
func (a Address) IsZero() bool { // A
	return a == Address{}
}

// Distance returns the XOR distance between a and b.
func (a Address) Distance(b Address) Address { // A
	var d Address
	for i := range a {
		d[i] = a[i] ^ b[i]
	}
	return d
}

// PeerIDFromBytes copies a 32 byte slice into a PeerID.
func PeerIDFromBytes(b []byte) (PeerID, error) { // A
	a, err := FromBytes(b)
	return PeerID(a), err
}

// PeerIDFromKey derives a PeerID from a public key.
func PeerIDFromKey(pub []byte) PeerID { // A
	return PeerID(FromParts([]byte("peer"), pub))
}

// Address returns the keyspace position of the peer.
func (p PeerID) Address() Address { // A
	return Address(p)
}

func (p PeerID) String() string { // A
	return hex.EncodeToString(p[:])
}

// Short returns the first eight hex characters, for logging.
func (p PeerID) Short() string { // A
	return hex.EncodeToString(p[:4])
}

// IsZero reports whether p is unset.
func (p PeerID) IsZero() bool { // A
	return p == PeerID{}
}

// CompareDistance orders a and b by their XOR distance to target. It
// returns a negative number when a is closer.
func CompareDistance(target, a, b Address) int { // A
	da := a.Distance(target)
	db := b.Distance(target)
	return bytes.Compare(da[:], db[:])
}

// SortPeersByAddress returns up to n peers ordered by ascending XOR
// distance to target. The input slice is not modified.
func SortPeersByAddress(
	peers []PeerID,
	target Address,
	n int,
) []PeerID { // A
	sorted := slices.Clone(peers)
	slices.SortFunc(sorted, func(a, b PeerID) int {
		return CompareDistance(target, a.Address(), b.Address())
	})
	sorted = slices.Compact(sorted)
	if n >= 0 && len(sorted) > n {
		sorted = sorted[:n]
	}
	return sorted
}

// ContainsPeer reports whether peers holds p.
func ContainsPeer(peers []PeerID, p PeerID) bool { // A
	return slices.Contains(peers, p)
}
