// Package record implements the framing shared by every stored value: a
// fixed two byte header naming the record kind, followed by the kind's
// payload.
package record

import "fmt"

// Kind tags a framed record with the payload it carries.
type Kind uint8 // A

const (
	KindChunk Kind = iota
	KindChunkWithPayment
	KindSpend
	KindRegister
	KindRegisterWithPayment
	KindScratchpad
	KindScratchpadWithPayment
)

// Kinds lists every defined kind in tag order.
var Kinds = []Kind{ // A
	KindChunk,
	KindChunkWithPayment,
	KindSpend,
	KindRegister,
	KindRegisterWithPayment,
	KindScratchpad,
	KindScratchpadWithPayment,
}

var kindNames = map[Kind]string{ // A
	KindChunk:                 "Chunk",
	KindChunkWithPayment:      "ChunkWithPayment",
	KindSpend:                 "Spend",
	KindRegister:              "Register",
	KindRegisterWithPayment:   "RegisterWithPayment",
	KindScratchpad:            "Scratchpad",
	KindScratchpadWithPayment: "ScratchpadWithPayment",
}

func (k Kind) String() string { // A
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Unknown(%d)", uint8(k))
}

// Valid reports whether k is one of the defined kinds.
func (k Kind) Valid() bool { // A
	_, ok := kindNames[k]
	return ok
}

// HasPayment reports whether the payload bundles a storage payment.
func (k Kind) HasPayment() bool { // A
	switch k {
	case KindChunkWithPayment, KindRegisterWithPayment,
		KindScratchpadWithPayment:
		return true
	}
	return false
}

// Stored returns the kind a peer keeps on disk once any payment has been
// unwrapped.
func (k Kind) Stored() Kind { // A
	switch k {
	case KindChunkWithPayment:
		return KindChunk
	case KindRegisterWithPayment:
		return KindRegister
	case KindScratchpadWithPayment:
		return KindScratchpad
	}
	return k
}

// IsChunk reports whether k stores immutable chunk content.
func (k Kind) IsChunk() bool { // A
	return k == KindChunk || k == KindChunkWithPayment
}
