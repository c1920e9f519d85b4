package debugpage

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/google/uuid"

	"github.com/banshee-data/thermocouple/internal/poller"
)

// Feed fans readings out to live subscribers of the tail endpoint. A slow
// subscriber misses readings rather than stalling the poll loop.
type Feed struct {
	mu          sync.Mutex
	subscribers map[string]chan poller.Reading
	closed      bool
}

// NewFeed returns an empty feed.
func NewFeed() *Feed {
	return &Feed{subscribers: make(map[string]chan poller.Reading)}
}

// Subscribe registers a new subscriber. The ID is passed to Unsubscribe.
func (f *Feed) Subscribe() (string, <-chan poller.Reading) {
	id := uuid.NewString()
	ch := make(chan poller.Reading, 8)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		close(ch)
		return id, ch
	}
	f.subscribers[id] = ch
	return id, ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (f *Feed) Unsubscribe(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if ch, ok := f.subscribers[id]; ok {
		close(ch)
		delete(f.subscribers, id)
	}
}

// Publish delivers r to every subscriber with room for it. It suits use as a
// poller.Sink.
func (f *Feed) Publish(r poller.Reading) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ch := range f.subscribers {
		select {
		case ch <- r:
		default:
		}
	}
}

// Subscribers returns the number of live subscribers.
func (f *Feed) Subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subscribers)
}

// Close ends every subscription. Later subscribers get a closed channel.
func (f *Feed) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	for id, ch := range f.subscribers {
		close(ch)
		delete(f.subscribers, id)
	}
}

// serveTail streams readings as server-sent events until the client goes
// away or the feed is closed.
func (f *Feed) serveTail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	id, c := f.Subscribe()
	defer f.Unsubscribe(id)

	w.Write([]byte(": ping\n\n"))
	flusher.Flush()

	for {
		select {
		case reading, ok := <-c:
			if !ok {
				return
			}
			payload, err := json.Marshal(reading)
			if err != nil {
				continue
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
				return
			}
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}
