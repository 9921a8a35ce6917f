package audio

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/jfreymuth/pulse"
	pulseproto "github.com/jfreymuth/pulse/proto"

	"github.com/rbright/earshot/internal/capture"
	"github.com/rbright/earshot/internal/engine"
)

const (
	chunkSizeBytes   = 640 // 20ms @ 16kHz mono s16
	subscriberBuffer = 128
)

// Capture streams fixed-size PCM chunks from one selected Pulse source to
// every subscriber. It is both the capture.Stream and its only track.
type Capture struct {
	device Device

	client *pulse.Client
	stream *pulse.RecordStream

	stopCh chan struct{}

	mu        sync.Mutex
	pending   []byte
	rawPCM    []byte
	retainPCM bool
	subs      map[int]chan []byte
	nextSub   int
	stopped   bool
	onStop    func(Device, []byte)

	inflight sync.WaitGroup
	bytes    atomic.Int64
	dropped  atomic.Int64
}

// CaptureOptions tunes a Capture.
type CaptureOptions struct {
	// RetainPCM keeps every captured byte for RawPCM and OnStop.
	RetainPCM bool
	// OnStop runs once after the stream stopped.
	OnStop func(Device, []byte)
}

func newCapture(selected Device, opts CaptureOptions) *Capture {
	return &Capture{
		device:    selected,
		stopCh:    make(chan struct{}),
		subs:      make(map[int]chan []byte),
		retainPCM: opts.RetainPCM,
		onStop:    opts.OnStop,
	}
}

// StartCapture creates and starts a 16kHz mono s16 record stream. The
// context bounds setup only; the capture runs until Stop.
func StartCapture(ctx context.Context, selected Device, opts CaptureOptions) (*Capture, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	client, err := newClient()
	if err != nil {
		return nil, err
	}

	source, err := client.SourceByID(selected.ID)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("resolve source %q: %w", selected.ID, err)
	}

	c := newCapture(selected, opts)
	c.client = client

	writer := pulse.NewWriter(writerFunc(c.onPCM), pulseproto.FormatInt16LE)
	stream, err := client.NewRecord(
		writer,
		pulse.RecordSource(source),
		pulse.RecordMono,
		pulse.RecordSampleRate(engine.SampleRateHz),
		pulse.RecordBufferFragmentSize(chunkSizeBytes),
		pulse.RecordMediaName("earshot capture"),
	)
	if err != nil {
		_ = c.Stop()
		return nil, fmt.Errorf("create pulse record stream: %w", err)
	}

	c.stream = stream
	stream.Start()
	return c, nil
}

// Device returns capture metadata for logging and diagnostics.
func (c *Capture) Device() Device {
	return c.device
}

// Tracks reports the capture itself as the single hardware track.
func (c *Capture) Tracks() []capture.Track {
	return []capture.Track{c}
}

// Frames subscribes to the chunk stream. Slow subscribers lose chunks
// instead of stalling the Pulse reader.
func (c *Capture) Frames() (<-chan []byte, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch := make(chan []byte, subscriberBuffer)
	if c.stopped {
		close(ch)
		return ch, func() {}
	}

	id := c.nextSub
	c.nextSub++
	c.subs[id] = ch

	return ch, func() { c.unsubscribe(id) }
}

func (c *Capture) unsubscribe(id int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ch, ok := c.subs[id]; ok {
		delete(c.subs, id)
		close(ch)
	}
}

// BytesCaptured reports total bytes accepted from Pulse.
func (c *Capture) BytesCaptured() int64 {
	return c.bytes.Load()
}

// ChunksDropped reports chunks discarded because a subscriber lagged.
func (c *Capture) ChunksDropped() int64 {
	return c.dropped.Load()
}

// RawPCM returns a snapshot of the retained raw PCM bytes.
func (c *Capture) RawPCM() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]byte, len(c.rawPCM))
	copy(out, c.rawPCM)
	return out
}

// Stop halts the stream, flushes residual PCM to subscribers, and closes
// every subscription exactly once.
func (c *Capture) Stop() error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return nil
	}
	c.stopped = true
	close(c.stopCh)
	c.mu.Unlock()

	if c.stream != nil {
		c.stream.Stop()
		c.stream.Close()
	}
	if c.client != nil {
		c.client.Close()
	}

	c.inflight.Wait()

	c.mu.Lock()
	if len(c.pending) > 0 {
		c.broadcast(append([]byte(nil), c.pending...))
		c.pending = nil
	}
	for id, ch := range c.subs {
		delete(c.subs, id)
		close(ch)
	}
	raw := c.rawPCM
	onStop := c.onStop
	c.mu.Unlock()

	if onStop != nil {
		onStop(c.device, raw)
	}
	return nil
}

// onPCM receives raw Pulse frames and fans chunkSizeBytes slices out.
func (c *Capture) onPCM(buffer []byte) (int, error) {
	if len(buffer) == 0 {
		return 0, nil
	}

	select {
	case <-c.stopCh:
		return 0, io.EOF
	default:
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return 0, io.EOF
	}
	// Guard Add under the same mutex as c.stopped to avoid Add/Wait races.
	c.inflight.Add(1)
	defer c.inflight.Done()

	if c.retainPCM {
		c.rawPCM = append(c.rawPCM, buffer...)
	}
	c.pending = append(c.pending, buffer...)
	for len(c.pending) >= chunkSizeBytes {
		chunk := make([]byte, chunkSizeBytes)
		copy(chunk, c.pending[:chunkSizeBytes])
		c.pending = c.pending[chunkSizeBytes:]
		c.broadcast(chunk)
	}

	c.bytes.Add(int64(len(buffer)))
	return len(buffer), nil
}

// broadcast must be called with c.mu held.
func (c *Capture) broadcast(chunk []byte) {
	for _, ch := range c.subs {
		select {
		case ch <- chunk:
		default:
			c.dropped.Add(1)
		}
	}
}

// writerFunc adapts a function to io.Writer for pulse.NewWriter.
type writerFunc func([]byte) (int, error)

func (f writerFunc) Write(b []byte) (int, error) {
	return f(b)
}
