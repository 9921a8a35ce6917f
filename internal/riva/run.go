package riva

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"google.golang.org/grpc"

	"github.com/rbright/earshot/internal/engine"
)

// run is one StreamingRecognize RPC.
type run struct {
	engine  *Engine
	conn    *grpc.ClientConn
	stream  grpc.ClientStream
	cancel  func()
	sink    engine.Sink
	frames  <-chan []byte
	detach  func()
	interim bool

	stopCh   chan struct{}
	stopOnce sync.Once
}

func (r *run) stop(grace time.Duration) {
	r.stopOnce.Do(func() {
		close(r.stopCh)
		time.AfterFunc(grace, r.cancel)
	})
}

// sendLoop forwards audio until stopped or the capture ends, then half-closes.
func (r *run) sendLoop() {
	defer func() {
		r.detach()
		_ = r.stream.CloseSend()
	}()

	for {
		select {
		case <-r.stopCh:
			return
		case chunk, ok := <-r.frames:
			if !ok {
				return
			}
			if len(chunk) == 0 {
				continue
			}
			if err := r.stream.SendMsg(&rawFrame{data: encodeAudioRequest(chunk)}); err != nil {
				// The receive side observes the stream failure.
				return
			}
		}
	}
}

// recvLoop delivers results until the stream ends, then reports End once.
func (r *run) recvLoop() {
	defer func() {
		r.stopOnce.Do(func() { close(r.stopCh) })
		r.cancel()
		_ = r.conn.Close()
		r.engine.finished(r)
		r.sink.End()
	}()

	for {
		var frame rawFrame
		err := r.stream.RecvMsg(&frame)
		if err == nil {
			r.deliver(frame.data)
			continue
		}
		if errors.Is(err, io.EOF) {
			return
		}
		select {
		case <-r.stopCh:
			if codeForError(err) == "aborted" {
				return
			}
		default:
		}
		r.sink.Error(engine.NewError(codeForError(err), fmt.Errorf("riva stream: %w", err)))
		return
	}
}

func (r *run) deliver(data []byte) {
	results, err := decodeResponse(data)
	if err != nil {
		r.engine.logger.Debug("discarding undecodable riva response", "error", err.Error())
		return
	}
	if len(results) == 0 {
		return
	}
	r.engine.writeDebug(results)

	var (
		out     engine.Result
		interim []string
	)
	for _, result := range results {
		transcript := cleanSegment(result.Transcript)
		if transcript == "" {
			continue
		}
		if result.IsFinal {
			out.Final = append(out.Final, transcript)
			continue
		}
		interim = append(interim, transcript)
	}
	if r.interim {
		out.Interim = strings.Join(interim, " ")
	}
	r.sink.Result(out)
}

// cleanSegment normalizes transcript whitespace.
func cleanSegment(raw string) string {
	return strings.Join(strings.Fields(raw), " ")
}
