package interfaces

import (
	"context"

	"github.com/i5heu/ouroboros-mesh/pkg/address"
	"github.com/i5heu/ouroboros-mesh/pkg/model"
	"github.com/i5heu/ouroboros-mesh/pkg/spend"
)

// Wallet holds spendable cash notes and signs transactions. Key
// derivation and local bookkeeping live behind this interface.
type Wallet interface { // A
	// UnwrapTransfer returns the redemptions addressed to this wallet.
	UnwrapTransfer(t spend.Transfer) ([]spend.CashNoteRedemption, error)
	// Deposit adds verified cash notes to the wallet.
	Deposit(notes []spend.CashNote) error
	// CreateTransaction signs spends paying amount to recipient.
	CreateTransaction(
		recipient spend.UniquePubkey,
		amount uint64,
		reason []byte,
	) (spend.SignedTransaction, error)
	// ProcessTransaction marks the inputs of tx spent and books change.
	ProcessTransaction(tx spend.SignedTransaction) error
	// AddPendingSpends remembers spends not yet confirmed on the network.
	AddPendingSpends(spends []spend.SignedSpend)
	PendingSpends() []spend.SignedSpend
	ClearPendingSpends()
}

// Payer obtains storage payments. The returned payment names the payee
// peer that must receive the paid record.
type Payer interface { // A
	Pay(ctx context.Context, addr address.Address, size int) (model.Payment, error)
}
