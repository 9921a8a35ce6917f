package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/rbright/earshot/internal/engine"
)

var closeStreamMessage = []byte(`{"type":"CloseStream"}`)

// run is one listen socket.
type run struct {
	engine *Engine
	conn   *websocket.Conn
	ctx    context.Context
	cancel context.CancelFunc
	sink   engine.Sink
	frames <-chan []byte
	detach func()

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func (r *run) stop(grace time.Duration) {
	r.stopOnce.Do(func() {
		close(r.stopCh)
		time.AfterFunc(grace, r.cancel)
	})
}

func (r *run) stopped() bool {
	select {
	case <-r.stopCh:
		return true
	default:
		return false
	}
}

// writeLoop forwards audio as binary messages until stopped or the capture
// ends, then asks Deepgram to close the stream.
func (r *run) writeLoop() {
	defer r.wg.Done()
	defer r.detach()

	for {
		select {
		case <-r.stopCh:
			_ = r.conn.Write(r.ctx, websocket.MessageText, closeStreamMessage)
			return
		case chunk, ok := <-r.frames:
			if !ok {
				_ = r.conn.Write(r.ctx, websocket.MessageText, closeStreamMessage)
				return
			}
			if len(chunk) == 0 {
				continue
			}
			if err := r.conn.Write(r.ctx, websocket.MessageBinary, chunk); err != nil {
				return
			}
		}
	}
}

// readLoop delivers results until the socket closes, then reports End once.
func (r *run) readLoop() {
	defer func() {
		r.stopOnce.Do(func() { close(r.stopCh) })
		r.cancel()
		r.wg.Wait()
		_ = r.conn.CloseNow()
		r.engine.finished(r)
		r.sink.End()
	}()

	for {
		_, msg, err := r.conn.Read(r.ctx)
		if err != nil {
			if code, report := r.readErrorCode(err); report {
				r.sink.Error(engine.NewError(code, fmt.Errorf("deepgram stream: %w", err)))
			}
			return
		}

		result, ok := parseResponse(msg)
		if !ok {
			continue
		}
		r.sink.Result(result)
	}
}

// readErrorCode maps a read failure onto an engine code. report is false for
// closes that finish the run normally.
func (r *run) readErrorCode(err error) (code string, report bool) {
	var closeErr websocket.CloseError
	if errors.As(err, &closeErr) {
		switch {
		case closeErr.Code == websocket.StatusNormalClosure:
			return "", false
		case strings.Contains(closeErr.Reason, "NET-0001"):
			return "no-speech", true
		case strings.Contains(closeErr.Reason, "DATA-0000"):
			return "audio-capture", true
		default:
			return "network", true
		}
	}
	if errors.Is(err, context.Canceled) && r.stopped() {
		return "", false
	}
	if errors.Is(err, context.Canceled) {
		return "aborted", true
	}
	return "network", true
}

// listenResponse is the subset of a Deepgram Results message earshot reads.
type listenResponse struct {
	Type    string `json:"type"`
	IsFinal bool   `json:"is_final"`
	Channel struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
}

// parseResponse turns a Results message into an engine result. Other
// message types and empty interim updates are skipped.
func parseResponse(data []byte) (engine.Result, bool) {
	var resp listenResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return engine.Result{}, false
	}
	if resp.Type != "Results" || len(resp.Channel.Alternatives) == 0 {
		return engine.Result{}, false
	}

	transcript := strings.Join(strings.Fields(resp.Channel.Alternatives[0].Transcript), " ")
	switch {
	case resp.IsFinal && transcript == "":
		// Finalized silence still settles the pending interim.
		return engine.Result{}, true
	case resp.IsFinal:
		return engine.Result{Final: []string{transcript}}, true
	case transcript == "":
		return engine.Result{}, false
	default:
		return engine.Result{Interim: transcript}, true
	}
}
