package client

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/i5heu/ouroboros-mesh/internal/testutil"
	"github.com/i5heu/ouroboros-mesh/internal/testutil/simnet"
	"github.com/i5heu/ouroboros-mesh/pkg/address"
	"github.com/i5heu/ouroboros-mesh/pkg/interfaces"
	"github.com/i5heu/ouroboros-mesh/pkg/keys"
	"github.com/i5heu/ouroboros-mesh/pkg/model"
	"github.com/i5heu/ouroboros-mesh/pkg/network"
	"github.com/i5heu/ouroboros-mesh/pkg/spend"
)

const testCloseGroup = 3

type testEnv struct { // A
	client *Client
	net    *simnet.Net
	view   interfaces.PeerView
	payer  *closestPayer
}

// newTestEnv connects a client that is not itself a peer to six
// simulated peers.
func newTestEnv(t *testing.T) *testEnv { // A
	t.Helper()
	sn := simnet.New(testCloseGroup)
	sn.AddPeers(t.Name(), 6)
	view := sn.View(address.PeerID(address.FromContent([]byte("client of " + t.Name()))))

	net, err := network.New(network.Config{
		CloseGroupSize:     testCloseGroup,
		PersistentAttempts: 2,
		RetryDelay:         time.Millisecond,
		MaxRetryDelay:      time.Millisecond,
	}, view, sn, testutil.Logger())
	require.NoError(t, err)

	c, err := New(net, Config{}, testutil.Logger())
	require.NoError(t, err)
	return &testEnv{client: c, net: sn, view: view, payer: &closestPayer{view: view}}
}

// closestPayer pays the peer closest to the paid address.
type closestPayer struct { // A
	view interfaces.PeerView

	mu    sync.Mutex
	payee map[address.Address]address.PeerID
}

func (p *closestPayer) Pay(ctx context.Context, addr address.Address, size int) (model.Payment, error) { // A
	peers, err := p.view.ClosestPeers(ctx, addr, false)
	if err != nil {
		return model.Payment{}, err
	}
	if len(peers) == 0 {
		return model.Payment{}, errors.New("no peer to pay")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.payee == nil {
		p.payee = make(map[address.Address]address.PeerID)
	}
	p.payee[addr] = peers[0]
	return model.Payment{Payee: peers[0], Amount: uint64(size), Proof: []byte("quote")}, nil
}

func (p *closestPayer) payeeOf(addr address.Address) address.PeerID { // A
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.payee[addr]
}

// testWallet is a minimal wallet spending one whole note per
// transaction.
type testWallet struct { // A
	mu      sync.Mutex
	keys    map[spend.UniquePubkey]*keys.KeyPair
	notes   []spend.CashNote
	pending []spend.SignedSpend
}

func newTestWallet() *testWallet { // A
	return &testWallet{keys: make(map[spend.UniquePubkey]*keys.KeyPair)}
}

func (w *testWallet) newKey(t *testing.T) spend.UniquePubkey { // A
	t.Helper()
	kp, err := keys.Generate()
	require.NoError(t, err)
	u, err := spend.PubkeyOf(kp.PublicKey())
	require.NoError(t, err)
	w.mu.Lock()
	w.keys[u] = kp
	w.mu.Unlock()
	return u
}

// fund gives the wallet a note created by an unpublished parent spend.
func (w *testWallet) fund(t *testing.T, amount uint64) spend.CashNote { // A
	t.Helper()
	note := spend.CashNote{
		UniquePubkey: w.newKey(t),
		Amount:       amount,
		ParentSpend:  address.FromContent([]byte("genesis " + t.Name())),
	}
	require.NoError(t, w.Deposit([]spend.CashNote{note}))
	return note
}

func (w *testWallet) balance() uint64 { // A
	w.mu.Lock()
	defer w.mu.Unlock()
	var sum uint64
	for _, n := range w.notes {
		sum += n.Amount
	}
	return sum
}

func (w *testWallet) UnwrapTransfer(t spend.Transfer) ([]spend.CashNoteRedemption, error) { // A
	w.mu.Lock()
	defer w.mu.Unlock()
	var out []spend.CashNoteRedemption
	for _, r := range t.Redemptions {
		if _, ok := w.keys[r.UniquePubkey]; ok {
			out = append(out, r)
		}
	}
	return out, nil
}

func (w *testWallet) Deposit(notes []spend.CashNote) error { // A
	w.mu.Lock()
	defer w.mu.Unlock()
	w.notes = append(w.notes, notes...)
	return nil
}

func (w *testWallet) CreateTransaction(
	recipient spend.UniquePubkey,
	amount uint64,
	reason []byte,
) (spend.SignedTransaction, error) { // A
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, note := range w.notes {
		if note.Amount < amount {
			continue
		}
		kp, err := keys.Generate()
		if err != nil {
			return spend.SignedTransaction{}, err
		}
		change, err := spend.PubkeyOf(kp.PublicKey())
		if err != nil {
			return spend.SignedTransaction{}, err
		}
		w.keys[change] = kp

		s := spend.Spend{
			UniquePubkey: note.UniquePubkey,
			Amount:       note.Amount,
			Reason:       reason,
			Parents:      []address.Address{note.ParentSpend},
			Outputs: []spend.Output{
				{UniquePubkey: recipient, Amount: amount},
				{UniquePubkey: change, Amount: note.Amount - amount},
			},
		}
		signed, err := spend.Sign(s, w.keys[note.UniquePubkey])
		if err != nil {
			return spend.SignedTransaction{}, err
		}
		out := spend.CashNote{UniquePubkey: recipient, Amount: amount, ParentSpend: note.Address()}
		changeNote := spend.CashNote{UniquePubkey: change, Amount: note.Amount - amount, ParentSpend: note.Address()}
		return spend.SignedTransaction{
			Spends:          []spend.SignedSpend{signed},
			OutputCashNotes: []spend.CashNote{out, changeNote},
			ChangeCashNote:  &changeNote,
		}, nil
	}
	return spend.SignedTransaction{}, errors.New("insufficient funds")
}

func (w *testWallet) ProcessTransaction(tx spend.SignedTransaction) error { // A
	w.mu.Lock()
	defer w.mu.Unlock()
	spent := make(map[spend.UniquePubkey]bool)
	for _, s := range tx.Spends {
		spent[s.UniquePubkey()] = true
	}
	kept := w.notes[:0]
	for _, n := range w.notes {
		if !spent[n.UniquePubkey] {
			kept = append(kept, n)
		}
	}
	w.notes = kept
	if tx.ChangeCashNote != nil {
		w.notes = append(w.notes, *tx.ChangeCashNote)
	}
	return nil
}

func (w *testWallet) AddPendingSpends(spends []spend.SignedSpend) { // A
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pending = append(w.pending, spends...)
}

func (w *testWallet) PendingSpends() []spend.SignedSpend { // A
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]spend.SignedSpend(nil), w.pending...)
}

func (w *testWallet) ClearPendingSpends() { // A
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pending = nil
}

var _ interfaces.Wallet = (*testWallet)(nil)

func TestNewValidates(t *testing.T) { // A
	t.Parallel()
	_, err := New(nil, Config{}, testutil.Logger())
	require.Error(t, err)

	env := newTestEnv(t)
	_, err = New(env.client.net, Config{}, nil)
	require.Error(t, err)
	require.Equal(t, DefaultUploadConcurrency, env.client.cfg.UploadConcurrency)
}
