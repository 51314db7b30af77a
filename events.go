package plugintx

import (
	"sync"
	"time"
)

// 事务生命周期事件, 发布给外部观察者(审计/界面等), 不依赖投递确认
type EventType string

const (
	EventTXStarted    EventType = "transaction_started"
	EventTXCommitted  EventType = "transaction_committed"
	EventTXRolledBack EventType = "transaction_rolled_back"
	EventTXFailed     EventType = "transaction_failed"
	EventTXTimeout    EventType = "transaction_timeout"
)

type Event struct {
	Type      EventType `json:"type"`
	TXId      string    `json:"tx_id"`
	Timestamp time.Time `json:"timestamp"`
	//失败类事件附带的错误
	Err error `json:"-"`
}

type observerHub struct {
	mux       sync.RWMutex
	observers []func(Event)
}

func (h *observerHub) register(fn func(Event)) {
	h.mux.Lock()
	defer h.mux.Unlock()
	h.observers = append(h.observers, fn)
}

// 同步通知全部观察者, 观察者回调应当自行保证轻量
func (h *observerHub) emit(event Event) {
	h.mux.RLock()
	observers := make([]func(Event), len(h.observers))
	copy(observers, h.observers)
	h.mux.RUnlock()

	for _, fn := range observers {
		fn(event)
	}
}
