package replication

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/i5heu/ouroboros-mesh/pkg/address"
	"github.com/i5heu/ouroboros-mesh/pkg/interfaces"
	"github.com/i5heu/ouroboros-mesh/pkg/model"
	"github.com/i5heu/ouroboros-mesh/pkg/network"
	"github.com/i5heu/ouroboros-mesh/pkg/record"
	"github.com/i5heu/ouroboros-mesh/pkg/register"
	"github.com/i5heu/ouroboros-mesh/pkg/spend"
	workerpool "github.com/i5heu/ouroboros-mesh/pkg/workerPool"
)

var (
	errKeyMismatch = errors.New("holder answered with a record for another key")
	errUnmergeable = errors.New("diverging copies cannot be merged")
)

// QuorumGetter is the network read used when the announcing holder
// cannot serve a key.
type QuorumGetter interface { // A
	Get(ctx context.Context, key address.Address, cfg network.GetConfig) (record.Record, error)
}

// FetchSource tells where a fetched record came from.
type FetchSource uint8 // A

const (
	SourceNone FetchSource = iota
	SourceHolder
	SourceNetwork
)

func (s FetchSource) String() string { // A
	switch s {
	case SourceHolder:
		return "holder"
	case SourceNetwork:
		return "network"
	}
	return "none"
}

// FetchResult is the outcome of one (holder, key) pull.
type FetchResult struct { // A
	Holder address.PeerID
	Key    address.Address
	Source FetchSource
	Err    error
}

// FetcherConfig wires a Fetcher.
type FetcherConfig struct { // A
	Self     address.PeerID
	Store    interfaces.RecordStore
	Client   interfaces.PeerClient
	Network  QuorumGetter
	Acceptor interfaces.RecordAcceptor
	Pool     *workerpool.WorkerPool
	Logger   *slog.Logger
}

// Fetcher pulls records announced by other peers. A key is queued at
// most once until its fetch completes.
type Fetcher struct { // A
	cfg FetcherConfig
	log *slog.Logger

	mu       sync.Mutex
	pending  map[address.Address]address.PeerID
	order    []address.Address
	inFlight map[address.Address]struct{}
}

func NewFetcher(cfg FetcherConfig) (*Fetcher, error) { // A
	switch {
	case cfg.Store == nil, cfg.Client == nil, cfg.Network == nil, cfg.Acceptor == nil:
		return nil, errors.New("replication: fetcher needs store, client, network and acceptor")
	case cfg.Pool == nil:
		return nil, errors.New("replication: fetcher needs a worker pool")
	case cfg.Logger == nil:
		return nil, errors.New("replication: logger is required")
	}
	return &Fetcher{
		cfg:      cfg,
		log:      cfg.Logger,
		pending:  make(map[address.Address]address.PeerID),
		inFlight: make(map[address.Address]struct{}),
	}, nil
}

// Enqueue records the announced keys from holder that the local peer
// lacks or holds in a different version. Chunks are fetched only when
// absent; other records also when the local content hash differs from
// the holder's. Keys already queued or being fetched are skipped. It
// returns the number of keys queued.
func (f *Fetcher) Enqueue(
	ctx context.Context,
	holder address.PeerID,
	entries []interfaces.ReplicateEntry,
) (int, error) { // A
	if holder == f.cfg.Self {
		return 0, nil
	}
	missing := make([]address.Address, 0, len(entries))
	for _, e := range entries {
		want, err := f.wants(ctx, e)
		if err != nil {
			return 0, fmt.Errorf("check local record %s: %w", e.Key.Short(), err)
		}
		if want {
			missing = append(missing, e.Key)
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	var queued int
	for _, key := range missing {
		if _, ok := f.pending[key]; ok {
			continue
		}
		if _, ok := f.inFlight[key]; ok {
			continue
		}
		f.pending[key] = holder
		f.order = append(f.order, key)
		queued++
	}
	return queued, nil
}

// wants reports whether the announced entry should be fetched.
func (f *Fetcher) wants(ctx context.Context, e interfaces.ReplicateEntry) (bool, error) { // A
	if e.Type.IsChunk() {
		held, err := f.cfg.Store.Contains(ctx, e.Key)
		return !held, err
	}
	rec, err := f.cfg.Store.Get(ctx, e.Key)
	switch {
	case errors.Is(err, interfaces.ErrRecordNotHeld):
		return true, nil
	case err != nil:
		return false, err
	}
	local, err := record.TypeOf(rec)
	if err != nil {
		return true, nil
	}
	return local != e.Type, nil
}

// Pending returns the number of queued keys.
func (f *Fetcher) Pending() int { // A
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pending)
}

// DrainAndFetch fetches every queued key concurrently and waits for all
// of them. A failing fetch does not affect the others.
func (f *Fetcher) DrainAndFetch(ctx context.Context) []FetchResult { // A
	f.mu.Lock()
	jobs := make([]FetchResult, 0, len(f.order))
	for _, key := range f.order {
		jobs = append(jobs, FetchResult{Holder: f.pending[key], Key: key})
		f.inFlight[key] = struct{}{}
	}
	f.pending = make(map[address.Address]address.PeerID)
	f.order = nil
	f.mu.Unlock()

	if len(jobs) == 0 {
		return nil
	}

	var failed []FetchResult
	room := workerpool.NewRoom[FetchResult](f.cfg.Pool, len(jobs))
	for _, job := range jobs {
		err := room.NewTaskWaitForFreeSlot(func() FetchResult {
			job.Source, job.Err = f.fetch(ctx, job.Holder, job.Key)
			return job
		})
		if err != nil {
			job.Err = fmt.Errorf("schedule fetch: %w", err)
			failed = append(failed, job)
		}
	}
	results := append(room.Collect(), failed...)

	for _, r := range results {
		f.done(r.Key)
		if r.Err != nil {
			f.log.WarnContext(ctx, "replicated record not fetched",
				logKeyKey, r.Key.Short(),
				logKeyHolder, r.Holder.Short(),
				logKeyError, r.Err)
			continue
		}
		f.log.DebugContext(ctx, "replicated record stored",
			logKeyKey, r.Key.Short(),
			logKeySource, r.Source)
	}
	return results
}

func (f *Fetcher) done(key address.Address) { // A
	f.mu.Lock()
	delete(f.inFlight, key)
	f.mu.Unlock()
}

// fetch pulls key from holder, falling back to a majority read, and
// hands the record to the acceptor.
func (f *Fetcher) fetch(
	ctx context.Context,
	holder address.PeerID,
	key address.Address,
) (FetchSource, error) { // A
	source := SourceHolder
	rec, err := f.cfg.Client.GetReplicatedRecord(ctx, holder, f.cfg.Self, key)
	if err == nil && rec.Key != key {
		err = errKeyMismatch
	}
	if err != nil {
		f.log.DebugContext(ctx, "holder could not serve record, asking the network",
			logKeyKey, key.Short(),
			logKeyHolder, holder.Short(),
			logKeyError, err)
		source = SourceNetwork
		rec, err = f.cfg.Network.Get(ctx, key, network.GetConfig{
			Quorum: network.QuorumMajority,
			Retry:  network.RetryNone,
			Merge:  mergeSplit,
		})
		if err != nil {
			return SourceNone, err
		}
	}
	if err := f.cfg.Acceptor.Accept(ctx, rec); err != nil {
		return source, fmt.Errorf("validate %s: %w", key.Short(), err)
	}
	return source, nil
}

// mergeSplit resolves diverging copies met on the network fallback with
// the rule of their record kind.
func mergeSplit(values [][]byte) ([]byte, error) { // A
	var kind record.Kind
	var err error
	for _, v := range values {
		if kind, err = record.DecodeHeader(v); err == nil {
			break
		}
	}
	if err != nil {
		return nil, err
	}
	switch kind.Stored() {
	case record.KindRegister:
		return register.MergeValues(values)
	case record.KindScratchpad:
		return model.LatestScratchpad(values)
	case record.KindSpend:
		return spend.PickValue(values)
	}
	return nil, fmt.Errorf("%w: %s copies differ", errUnmergeable, kind)
}
