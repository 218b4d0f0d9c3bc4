package progress

import "sync"

// Event 是进度序列中的一个元素。Done 为 true 的事件是最后一个事件。
type Event struct {
	Percent float64
	Done    bool
	Err     error
}

// Stream 把回调式进度转换为 channel。中间事件在缓冲区满时被丢弃，
// 终止事件始终保留一个槽位。
type Stream struct {
	mu     sync.Mutex
	ch     chan Event
	closed bool
}

// NewStream 创建缓冲区为 buffer 的事件流（至少 1）。
func NewStream(buffer int) *Stream {
	if buffer < 1 {
		buffer = 1
	}
	return &Stream{ch: make(chan Event, buffer+1)}
}

// Func 返回供生产者调用的回调。
func (s *Stream) Func() Func {
	return func(percent float64) {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.closed || len(s.ch) >= cap(s.ch)-1 {
			return
		}
		s.ch <- Event{Percent: percent}
	}
}

// Events 返回只读事件 channel，Close 之后会被关闭。
func (s *Stream) Events() <-chan Event {
	return s.ch
}

// Close 写入终止事件并关闭 channel。err 为空时终止事件的 Percent 为 100。
func (s *Stream) Close(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	final := Event{Done: true, Err: err}
	if err == nil {
		final.Percent = 100
	}
	s.ch <- final
	close(s.ch)
}
