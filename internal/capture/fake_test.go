package capture

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

type fakeTrack struct {
	stops atomic.Int32
	err   error
	panic bool
}

func (t *fakeTrack) Stop() error {
	t.stops.Add(1)
	if t.panic {
		panic("track exploded")
	}
	return t.err
}

type fakeStream struct {
	tracks []Track

	mu   sync.Mutex
	subs map[int]chan []byte
	next int
}

func newFakeStream(tracks ...Track) *fakeStream {
	return &fakeStream{tracks: tracks, subs: map[int]chan []byte{}}
}

func (s *fakeStream) Tracks() []Track { return s.tracks }

func (s *fakeStream) Frames() (<-chan []byte, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.next
	s.next++
	ch := make(chan []byte, 16)
	s.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.subs, id)
			close(ch)
		})
	}
}

func (s *fakeStream) push(frame []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.subs {
		ch <- frame
	}
}

func (s *fakeStream) subscribers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

type fakeMicrophone struct {
	stream   Stream
	err      error
	requests atomic.Int32
}

func (m *fakeMicrophone) RequestStream(context.Context) (Stream, error) {
	m.requests.Add(1)
	if m.err != nil {
		return nil, m.err
	}
	return m.stream, nil
}

type fakeAnalyser struct {
	level  float64
	closes atomic.Int32
	err    error
}

func (a *fakeAnalyser) Level() float64 { return a.level }

func (a *fakeAnalyser) Close() error {
	a.closes.Add(1)
	return a.err
}

var errBoom = errors.New("boom")
