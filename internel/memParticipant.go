package internel

import (
	"context"
	"sync"

	"plugintx/pkg"
)

// 跨参与者的调用流水账, 用于校验 prepare/commit/abort 的全局顺序
type CallJournal struct {
	mux     sync.Mutex
	entries []string
}

func NewCallJournal() *CallJournal {
	return &CallJournal{}
}

func (j *CallJournal) Append(entry string) {
	if j == nil {
		return
	}
	j.mux.Lock()
	defer j.mux.Unlock()
	j.entries = append(j.entries, entry)
}

func (j *CallJournal) Entries() []string {
	j.mux.Lock()
	defer j.mux.Unlock()
	entries := make([]string, len(j.entries))
	copy(entries, j.entries)
	return entries
}

type MemParticipantOption func(mp *MemParticipant)

func WithParticipantIsolation(level pkg.IsolationLevel) MemParticipantOption {
	return func(mp *MemParticipant) {
		mp.isolation = level
	}
}

func WithoutTransactionSupport() MemParticipantOption {
	return func(mp *MemParticipant) {
		mp.supports = false
	}
}

// 预置阶段错误, 用于模拟参与者 prepare/commit/abort 失败
func WithPrepareError(err error) MemParticipantOption {
	return func(mp *MemParticipant) {
		mp.prepareErr = err
	}
}

func WithCommitError(err error) MemParticipantOption {
	return func(mp *MemParticipant) {
		mp.commitErr = err
	}
}

func WithAbortError(err error) MemParticipantOption {
	return func(mp *MemParticipant) {
		mp.abortErr = err
	}
}

func WithJournal(journal *CallJournal) MemParticipantOption {
	return func(mp *MemParticipant) {
		mp.journal = journal
	}
}

// 内存版参与者: 不依赖外部资源, 行为可编排, 主要服务于引擎自身的测试
type MemParticipant struct {
	id        string
	isolation pkg.IsolationLevel
	supports  bool

	prepareErr error
	commitErr  error
	abortErr   error

	journal *CallJournal

	mux      sync.Mutex
	prepared map[string]bool
}

func NewMemParticipant(id string, opts ...MemParticipantOption) *MemParticipant {
	mp := &MemParticipant{
		id: id,
		//默认支持事务且能满足最强隔离级别, 测试按需调弱
		isolation: pkg.Serializable,
		supports:  true,
		prepared:  make(map[string]bool),
	}
	for _, opt := range opts {
		opt(mp)
	}
	return mp
}

func (mp *MemParticipant) ID() string {
	return mp.id
}

func (mp *MemParticipant) Prepare(ctx context.Context, txID string) error {
	mp.journal.Append("prepare:" + mp.id)
	if mp.prepareErr != nil {
		return mp.prepareErr
	}
	mp.mux.Lock()
	defer mp.mux.Unlock()
	mp.prepared[txID] = true
	return nil
}

func (mp *MemParticipant) Commit(ctx context.Context, txID string) error {
	mp.journal.Append("commit:" + mp.id)
	if mp.commitErr != nil {
		return mp.commitErr
	}
	mp.mux.Lock()
	defer mp.mux.Unlock()
	delete(mp.prepared, txID)
	return nil
}

func (mp *MemParticipant) Abort(ctx context.Context, txID string) error {
	mp.journal.Append("abort:" + mp.id)
	if mp.abortErr != nil {
		return mp.abortErr
	}
	mp.mux.Lock()
	defer mp.mux.Unlock()
	delete(mp.prepared, txID)
	return nil
}

func (mp *MemParticipant) SupportsTransactions() bool {
	return mp.supports
}

func (mp *MemParticipant) SupportedIsolationLevel() pkg.IsolationLevel {
	return mp.isolation
}

// 是否仍处于 prepared 未决状态, 测试用
func (mp *MemParticipant) IsPrepared(txID string) bool {
	mp.mux.Lock()
	defer mp.mux.Unlock()
	return mp.prepared[txID]
}
