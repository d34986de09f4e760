package progress

// Sink receives progress snapshots. Implementations must not block: the
// reporter publishes synchronously from engine goroutines and buffering or
// fan-out belongs to the transport layer.
type Sink interface {
	Publish(Snapshot)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(Snapshot)

// Publish implements Sink.
func (f SinkFunc) Publish(s Snapshot) {
	f(s)
}

// ChannelSink delivers snapshots over a buffered channel. When the buffer
// is full the oldest pending snapshot is dropped so the engine never stalls
// on a slow consumer; the latest state always gets through.
type ChannelSink struct {
	ch chan Snapshot
}

// NewChannelSink creates a sink with the given buffer size (minimum 1).
func NewChannelSink(buffer int) *ChannelSink {
	if buffer < 1 {
		buffer = 1
	}
	return &ChannelSink{ch: make(chan Snapshot, buffer)}
}

// C returns the receive side of the sink.
func (s *ChannelSink) C() <-chan Snapshot {
	return s.ch
}

// Publish implements Sink.
func (s *ChannelSink) Publish(snap Snapshot) {
	for {
		select {
		case s.ch <- snap:
			return
		default:
			select {
			case <-s.ch:
			default:
			}
		}
	}
}

// Close closes the channel. Call only after the engine run has returned.
func (s *ChannelSink) Close() {
	close(s.ch)
}
