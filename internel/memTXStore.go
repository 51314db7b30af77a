package internel

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto"

	"plugintx/model"
	"plugintx/pkg"
)

const (
	//保留区计数器数量与容量, 对事务上下文这种小对象足够
	archiveNumCounters = 1 << 14
	archiveMaxCost     = 1 << 20
	archiveBufferItems = 64
)

// 内存版事务储存中心: 在册事务放 map, 终态事务移入带 TTL 的 ristretto 缓存,
// 保留窗口到期后由缓存自动淘汰, 避免终态事务无限堆积
type MemTXStore struct {
	mux       sync.RWMutex
	txs       map[string]*pkg.TransactionContext
	archive   *ristretto.Cache
	retention time.Duration
}

var _ model.TXStore = (*MemTXStore)(nil)

func NewMemTXStore(retention time.Duration) (*MemTXStore, error) {
	if retention <= 0 {
		//默认保留10分钟
		retention = 10 * time.Minute
	}
	archive, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: archiveNumCounters,
		MaxCost:     archiveMaxCost,
		BufferItems: archiveBufferItems,
	})
	if err != nil {
		return nil, fmt.Errorf("create archive cache: %w", err)
	}
	return &MemTXStore{
		txs:       make(map[string]*pkg.TransactionContext),
		archive:   archive,
		retention: retention,
	}, nil
}

func (s *MemTXStore) CreateTX(ctx context.Context, tx *pkg.TransactionContext) error {
	s.mux.Lock()
	defer s.mux.Unlock()
	if _, ok := s.txs[tx.TXID()]; ok {
		return fmt.Errorf("create duplicated txid: %s: %w", tx.TXID(), pkg.ErrTXExists)
	}
	s.txs[tx.TXID()] = tx
	return nil
}

func (s *MemTXStore) GetTX(ctx context.Context, txID string) (*pkg.TransactionContext, error) {
	s.mux.RLock()
	tx, ok := s.txs[txID]
	s.mux.RUnlock()
	if ok {
		return tx, nil
	}
	//在册找不到再查保留区
	if value, found := s.archive.Get(txID); found {
		if archived, ok := value.(*pkg.TransactionContext); ok {
			return archived, nil
		}
	}
	return nil, fmt.Errorf("txid: %s: %w", txID, pkg.ErrTXNotFound)
}

func (s *MemTXStore) ListTXs(ctx context.Context, states ...pkg.TransactionState) ([]*pkg.TransactionContext, error) {
	s.mux.RLock()
	defer s.mux.RUnlock()
	txs := make([]*pkg.TransactionContext, 0, len(s.txs))
	for _, tx := range s.txs {
		if len(states) == 0 {
			txs = append(txs, tx)
			continue
		}
		state := tx.State()
		for _, want := range states {
			if state == want {
				txs = append(txs, tx)
				break
			}
		}
	}
	return txs, nil
}

func (s *MemTXStore) ArchiveTX(ctx context.Context, txID string) error {
	s.mux.Lock()
	defer s.mux.Unlock()
	tx, ok := s.txs[txID]
	if !ok {
		return fmt.Errorf("archive txid: %s: %w", txID, pkg.ErrTXNotFound)
	}
	if !tx.State().Terminal() {
		return fmt.Errorf("archive %s txid: %s: %w", tx.State(), txID, pkg.ErrInvalidState)
	}
	delete(s.txs, txID)
	s.archive.SetWithTTL(txID, tx, 1, s.retention)
	//ristretto 的写入经过缓冲异步生效, 等待落位保证归档后立即可查
	s.archive.Wait()
	return nil
}
