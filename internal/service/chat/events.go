package chat

import (
	"sync"

	"github.com/zhouzirui/echo-chat/client/internal/model/chat"
)

// EventType 聊天视图事件类型
type EventType string

const (
	EventMessage EventType = "message"
	EventStatus  EventType = "status"
	EventSession EventType = "session"
)

const subscriberBuffer = 32

// Event 推送给订阅者的视图变化
type Event struct {
	Type      EventType     `json:"event"`
	SessionID uint64        `json:"sessionId,omitempty"`
	Message   *chat.Message `json:"message,omitempty"`
	Connected bool          `json:"connected"`
}

// broadcaster 订阅者管理器，慢订阅者会丢事件而不是阻塞读协程
type broadcaster struct {
	mu          sync.Mutex
	next        int
	subscribers map[int]chan Event
}

func newBroadcaster() *broadcaster {
	return &broadcaster{
		subscribers: make(map[int]chan Event),
	}
}

func (b *broadcaster) subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.next
	b.next++
	ch := make(chan Event, subscriberBuffer)
	b.subscribers[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if sub, exists := b.subscribers[id]; exists {
				close(sub)
				delete(b.subscribers, id)
			}
		})
	}
}

func (b *broadcaster) publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, ch := range b.subscribers {
		select {
		case ch <- ev:
		default:
		}
	}
}
