// Package register implements the mutable register: a Merkle-DAG of
// signed entries where every write names the heads it supersedes.
// Concurrent writes leave several heads, and reading returns all of them.
package register

import (
	"bytes"
	"crypto/ed25519"
	"errors"
	"fmt"
	"slices"

	"github.com/i5heu/ouroboros-mesh/pkg/address"
	"github.com/i5heu/ouroboros-mesh/pkg/keys"
	"github.com/i5heu/ouroboros-mesh/pkg/record"
)

var (
	// ErrAccessDenied is returned when the signer may not write.
	ErrAccessDenied = errors.New("register: access denied")
	// ErrMissingParents is returned when an entry names unknown parents.
	ErrMissingParents = errors.New("register: entry parents not present")
	// ErrAddressMismatch is returned for an op addressed to another register.
	ErrAddressMismatch = errors.New("register: op for a different register")
)

// EntryHash identifies an entry by its value and parents.
type EntryHash = address.Address

// Entry is one node of the register DAG.
type Entry struct { // A
	Value   []byte
	Parents []EntryHash
}

// Hash derives the entry identity. Parents are hashed in sorted order.
func (e Entry) Hash() EntryHash { // A
	return address.FromContent(e.marshal())
}

func (e Entry) marshal() []byte { // A
	parents := slices.Clone(e.Parents)
	sortHashes(parents)
	var b record.Builder
	for _, p := range parents {
		b.Bytes(1, p[:])
	}
	b.Bytes(2, e.Value)
	return b.Out()
}

func unmarshalEntry(data []byte) (Entry, error) { // A
	var e Entry
	err := record.Fields(data, func(f record.Field) error {
		if err := f.WantBytes(); err != nil {
			return err
		}
		switch f.Num {
		case 1:
			h, err := address.FromBytes(f.Bytes)
			if err != nil {
				return err
			}
			e.Parents = append(e.Parents, h)
		case 2:
			e.Value = f.CloneBytes()
		}
		return nil
	})
	return e, err
}

// Permissions decides who besides the owner may write.
type Permissions struct { // A
	AnyoneCanWrite bool
	Writers        []ed25519.PublicKey
}

// CanWrite reports whether who may append to a register owned by owner.
func (p Permissions) CanWrite(owner, who ed25519.PublicKey) bool { // A
	if owner.Equal(who) || p.AnyoneCanWrite {
		return true
	}
	for _, w := range p.Writers {
		if w.Equal(who) {
			return true
		}
	}
	return false
}

func (p Permissions) marshal() []byte { // A
	var b record.Builder
	b.Bool(1, p.AnyoneCanWrite)
	for _, w := range p.Writers {
		b.Bytes(2, w)
	}
	return b.Out()
}

func unmarshalPermissions(data []byte) (Permissions, error) { // A
	var p Permissions
	err := record.Fields(data, func(f record.Field) error {
		switch f.Num {
		case 1:
			if err := f.WantVarint(); err != nil {
				return err
			}
			p.AnyoneCanWrite = f.Varint != 0
		case 2:
			if err := f.WantBytes(); err != nil {
				return err
			}
			p.Writers = append(p.Writers, ed25519.PublicKey(f.CloneBytes()))
		}
		return nil
	})
	return p, err
}

// Address derives the network address of the register named name and
// owned by owner.
func Address(name address.Address, owner ed25519.PublicKey) address.Address { // A
	return address.FromParts([]byte("register"), name[:], owner)
}

// Register is the in-memory DAG. It is not safe for concurrent use.
type Register struct { // A
	name    address.Address
	owner   ed25519.PublicKey
	perms   Permissions
	entries map[EntryHash]Entry
	ops     map[EntryHash]Op
}

// New creates an empty register.
func New(
	owner ed25519.PublicKey,
	name address.Address,
	perms Permissions,
) *Register { // A
	return &Register{
		name:    name,
		owner:   owner,
		perms:   perms,
		entries: make(map[EntryHash]Entry),
		ops:     make(map[EntryHash]Op),
	}
}

func (r *Register) Address() address.Address { // A
	return Address(r.name, r.owner)
}

func (r *Register) Name() address.Address { return r.name } // A

func (r *Register) Owner() ed25519.PublicKey { return r.owner } // A

func (r *Register) Permissions() Permissions { return r.perms } // A

// Size is the number of entries ever written.
func (r *Register) Size() int { // A
	return len(r.entries)
}

// Read returns the current heads: entries no other entry names as a
// parent. The result is ordered by entry hash.
func (r *Register) Read() []Entry { // A
	superseded := make(map[EntryHash]struct{}, len(r.entries))
	for _, e := range r.entries {
		for _, p := range e.Parents {
			superseded[p] = struct{}{}
		}
	}
	heads := make([]EntryHash, 0, len(r.entries))
	for h := range r.entries {
		if _, ok := superseded[h]; !ok {
			heads = append(heads, h)
		}
	}
	sortHashes(heads)
	out := make([]Entry, 0, len(heads))
	for _, h := range heads {
		out = append(out, r.entries[h])
	}
	return out
}

// HeadHashes returns the hashes of the current heads.
func (r *Register) HeadHashes() []EntryHash { // A
	heads := r.Read()
	out := make([]EntryHash, len(heads))
	for i, e := range heads {
		out[i] = e.Hash()
	}
	return out
}

// Write appends value as a child of parents, signed by signer.
func (r *Register) Write(
	value []byte,
	parents []EntryHash,
	signer keys.Signer,
) (EntryHash, Op, error) { // A
	if !r.perms.CanWrite(r.owner, signer.PublicKey()) {
		return EntryHash{}, Op{}, ErrAccessDenied
	}
	entry := Entry{Value: value, Parents: slices.Clone(parents)}
	sortHashes(entry.Parents)
	op, err := signOp(r.Address(), entry, signer)
	if err != nil {
		return EntryHash{}, Op{}, err
	}
	if err := r.Apply(op); err != nil {
		return EntryHash{}, Op{}, err
	}
	return entry.Hash(), op, nil
}

// Apply verifies op and adds its entry. Applying a known op is a no-op.
func (r *Register) Apply(op Op) error { // A
	if op.Register != r.Address() {
		return ErrAddressMismatch
	}
	if !r.perms.CanWrite(r.owner, op.Source) {
		return ErrAccessDenied
	}
	if err := op.Verify(); err != nil {
		return err
	}
	h := op.Entry.Hash()
	if _, ok := r.entries[h]; ok {
		return nil
	}
	for _, p := range op.Entry.Parents {
		if _, ok := r.entries[p]; !ok {
			return fmt.Errorf("%w: %s", ErrMissingParents, p.Short())
		}
	}
	r.entries[h] = op.Entry
	r.ops[h] = op
	return nil
}

// Ops returns every applied op ordered by entry hash.
func (r *Register) Ops() []Op { // A
	hashes := make([]EntryHash, 0, len(r.ops))
	for h := range r.ops {
		hashes = append(hashes, h)
	}
	sortHashes(hashes)
	out := make([]Op, len(hashes))
	for i, h := range hashes {
		out[i] = r.ops[h]
	}
	return out
}

func sortHashes(h []EntryHash) { // A
	slices.SortFunc(h, func(a, b EntryHash) int {
		return bytes.Compare(a[:], b[:])
	})
}
