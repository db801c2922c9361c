package stream

import (
	"errors"
	"sync"
	"time"

	"github.com/stlehmann/qthmi.ads/internal/ads"
	"github.com/stlehmann/qthmi.ads/internal/hmi"
)

// Update is one projected value or read failure.
type Update struct {
	Variable  string
	Address   int
	Type      string
	Value     any
	Err       error
	Timestamp time.Time
}

// Streamer fans panel projections out to subscribers. It is attached to a
// panel as a display target.
type Streamer struct {
	mu          sync.RWMutex
	subscribers []chan Update
}

func NewStreamer() *Streamer {
	return &Streamer{}
}

func (s *Streamer) Subscribe() <-chan Update {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan Update, 100)
	s.subscribers = append(s.subscribers, ch)
	return ch
}

func (s *Streamer) Unsubscribe(ch <-chan Update) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, sub := range s.subscribers {
		if sub == ch {
			s.subscribers = append(s.subscribers[:i], s.subscribers[i+1:]...)
			close(sub)
			return
		}
	}
}

func (s *Streamer) Subscribers() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subscribers)
}

func (s *Streamer) Project(target any, v ads.Value) {
	variable, ok := target.(*hmi.Variable)
	if !ok {
		return
	}
	s.publish(Update{
		Variable:  variable.Name,
		Address:   variable.Address,
		Type:      variable.Type.String(),
		Value:     ads.Normalize(v),
		Timestamp: time.Now(),
	})
}

func (s *Streamer) ProjectError(v *hmi.Variable, err error) {
	s.publish(Update{
		Variable:  v.Name,
		Address:   v.Address,
		Type:      v.Type.String(),
		Err:       err,
		Timestamp: time.Now(),
	})
}

func (s *Streamer) publish(u Update) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, ch := range s.subscribers {
		select {
		case ch <- u:
		default:
			// Subscriber zu langsam, Update verwerfen
		}
	}
}

// Fields renders u as the message payload.
func (u Update) Fields() map[string]any {
	m := map[string]any{
		"variable":  u.Variable,
		"address":   u.Address,
		"type":      u.Type,
		"timestamp": u.Timestamp.UTC().Format(time.RFC3339Nano),
	}
	if u.Err != nil {
		m["error"] = u.Err.Error()
		var ce *ads.ConnectionError
		if errors.As(u.Err, &ce) {
			m["code"] = ce.Code
		}
	} else {
		m["value"] = u.Value
	}
	return m
}

var (
	_ hmi.DisplayProjector = (*Streamer)(nil)
	_ hmi.ErrorSink        = (*Streamer)(nil)
)
