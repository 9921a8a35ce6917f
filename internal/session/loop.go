package session

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rbright/earshot/internal/classify"
	"github.com/rbright/earshot/internal/engine"
	"github.com/rbright/earshot/internal/fsm"
)

// Everything in this file runs on the loop goroutine.

// runSink tags engine events with the run generation that produced them.
type runSink struct {
	s   *Session
	gen uint64
}

func (k runSink) Result(r engine.Result) {
	k.s.post(func() { k.s.handleResult(k.gen, r) })
}

func (k runSink) Error(err *engine.Error) {
	k.s.post(func() { k.s.handleError(k.gen, err) })
}

func (k runSink) End() {
	k.s.post(func() { k.s.handleEnd(k.gen) })
}

func (s *Session) start(ctx context.Context) error {
	switch s.state {
	case fsm.StateStarting, fsm.StateListening:
		return nil
	case fsm.StateRestarting:
		if s.desired {
			return nil
		}
	case fsm.StateFailed:
		s.transition(fsm.EventReset)
	case fsm.StateStopping:
		s.revokeStopTimer()
	}

	if !s.transition(fsm.EventStart) {
		return nil
	}
	s.desired = true
	s.restartAttempt = 0
	s.restartFailures = 0
	s.lastError = nil
	s.fatalReported = false
	s.acc.Reset()
	s.publishTranscript(false)
	s.metrics.SessionsStarted.Add(ctx, 1)
	s.logger.Info("session starting", "engine", s.engineName)

	if err := s.acquire(ctx); err != nil {
		return s.startFailed(ctx, err)
	}
	if err := s.startEngine(ctx); err != nil {
		return s.startFailed(ctx, err)
	}
	return nil
}

func (s *Session) acquire(ctx context.Context) error {
	if err := s.guard.Acquire(ctx); err != nil {
		return err
	}
	if !s.holding {
		s.holding = true
		s.metrics.ActiveSessions.Add(ctx, 1)
	}
	return nil
}

func (s *Session) release() {
	s.guard.Release()
	if s.holding {
		s.holding = false
		s.metrics.ActiveSessions.Add(context.Background(), -1)
	}
}

// startEngine begins a run with a fresh generation. A run that is still
// draining is adopted instead so its end drives the next restart.
func (s *Session) startEngine(ctx context.Context) error {
	gen := s.gen + 1
	s.gen = gen

	began := time.Now()
	err := s.eng.Start(ctx, s.guard.Stream(), runSink{s: s, gen: gen})
	if errors.Is(err, engine.ErrAlreadyStarted) {
		s.logger.Debug("adopting draining engine run", "generation", s.runGen)
		s.gen = s.runGen
		s.engineRunning = true
		s.transition(fsm.EventStarted)
		return nil
	}
	s.metrics.RecordEngineStart(ctx, s.engineName, time.Since(began), err == nil)
	if err != nil {
		return err
	}

	s.runGen = gen
	s.engineRunning = true
	s.transition(fsm.EventStarted)
	s.logger.Debug("engine run started", "generation", gen, "restart_attempt", s.restartAttempt)
	return nil
}

// startFailed settles a failed manual start. An aborted start returns to
// Idle without surfacing anything.
func (s *Session) startFailed(ctx context.Context, err error) error {
	if aborted(ctx, err) {
		s.desired = false
		s.release()
		s.transition(fsm.EventStop)
		s.logger.Debug("session start aborted")
		return context.Canceled
	}

	classified := s.classifier.Wrap(engine.CodeOf(err), err)
	s.metrics.RecordClassifiedError(ctx, string(classified.Kind), classified.Disposition.String())
	// Nothing is running yet, so every start failure terminates the session.
	classified.Disposition = classify.Fatal
	s.fail(classified)
	return classified
}

func aborted(ctx context.Context, err error) bool {
	return ctx.Err() != nil && errors.Is(err, context.Canceled)
}

func (s *Session) handleResult(gen uint64, r engine.Result) {
	if gen != s.gen || !s.desired {
		return
	}

	appended := 0
	for _, segment := range r.Final {
		if strings.TrimSpace(segment) == "" {
			continue
		}
		s.acc.AppendFinal(segment)
		appended++
	}
	if appended > 0 {
		s.metrics.TranscriptSegments.Add(context.Background(), int64(appended))
	}
	s.acc.SetInterim(r.Interim)
	s.publishTranscript(true)
}

func (s *Session) handleError(gen uint64, err *engine.Error) {
	if gen != s.gen || !s.desired {
		return
	}

	code := ""
	if err != nil {
		code = err.Code
	}
	classified := s.classifier.Wrap(code, err)
	s.metrics.RecordClassifiedError(context.Background(), string(classified.Kind), classified.Disposition.String())

	switch {
	case classified.Restartable():
		s.lastError = &classified
		s.logger.Info("transient recognition error", "kind", string(classified.Kind), "code", classified.Code)
	case classified.Disposition == classify.Fatal:
		s.fail(classified)
	default:
		s.logger.Debug("ignored recognition error", "kind", string(classified.Kind), "code", classified.Code)
	}
}

func (s *Session) handleEnd(gen uint64) {
	if gen != s.gen {
		return
	}
	s.engineRunning = false
	s.revokeStopTimer()

	if !s.desired {
		if s.state == fsm.StateStopping {
			s.release()
			s.transition(fsm.EventEnded)
		}
		return
	}

	if s.lastError != nil && !s.lastError.Restartable() {
		return
	}
	if !s.transition(fsm.EventEnded) {
		return
	}
	s.restartAttempt++
	s.metrics.EngineRestarts.Add(context.Background(), 1)
	s.logger.Debug("engine run ended, scheduling restart", "restart_attempt", s.restartAttempt)
	s.scheduleRestart()
}

func (s *Session) scheduleRestart() {
	if s.restartTimer != nil {
		return
	}
	s.restartToken++
	token := s.restartToken
	s.restartTimer = s.afterFunc(s.restartDelay, func() {
		s.post(func() { s.handleRestartTimer(token) })
	})
}

func (s *Session) revokeRestart() {
	if s.restartTimer == nil {
		return
	}
	s.restartTimer.Stop()
	s.restartTimer = nil
	s.restartToken++
}

func (s *Session) handleRestartTimer(token uint64) {
	if token != s.restartToken || s.restartTimer == nil {
		return
	}
	s.restartTimer = nil
	if !s.desired || s.state != fsm.StateRestarting {
		return
	}
	if !s.transition(fsm.EventRestart) {
		return
	}

	ctx, done := s.beginAttempt(s.lifetime)
	defer done()

	err := s.acquire(ctx)
	if err == nil {
		err = s.startEngine(ctx)
	}
	if err == nil {
		s.restartFailures = 0
		s.restartsOK.Add(1)
		return
	}
	s.restartFailed(ctx, err)
}

func (s *Session) restartFailed(ctx context.Context, err error) {
	if aborted(ctx, err) {
		// Finish or Cancel is queued behind this re-entry and settles it.
		s.transition(fsm.EventEnded)
		return
	}

	classified := s.classifier.Wrap(engine.CodeOf(err), err)
	s.metrics.RecordClassifiedError(ctx, string(classified.Kind), classified.Disposition.String())
	if classified.Disposition == classify.Fatal {
		s.fail(classified)
		return
	}

	s.restartFailures++
	if s.maxRestartFailures > 0 && s.restartFailures >= s.maxRestartFailures {
		classified.Disposition = classify.Fatal
		s.fail(classified)
		return
	}

	s.lastError = &classified
	s.logger.Warn("engine restart failed", "kind", string(classified.Kind), "consecutive_failures", s.restartFailures)
	s.transition(fsm.EventEnded)
	s.restartAttempt++
	s.scheduleRestart()
}

// stop ends listening intent and returns the transcript snapshot taken
// before any discard.
func (s *Session) stop(discard bool) string {
	s.desired = false
	s.revokeRestart()
	text := s.acc.Snapshot()
	if discard {
		s.acc.Reset()
		s.publishTranscript(false)
	}

	switch s.state {
	case fsm.StateListening:
		s.stopEngine()
		s.transition(fsm.EventStop)
		s.armStopTimer()
	case fsm.StateStarting:
		s.stopEngine()
		s.transition(fsm.EventStop)
	case fsm.StateRestarting, fsm.StateFailed:
		s.transition(fsm.EventStop)
	}

	s.release()
	return text
}

func (s *Session) stopEngine() {
	if !s.engineRunning {
		return
	}
	if err := s.eng.Stop(); err != nil {
		s.logger.Debug("engine stop failed", "error", err.Error())
	}
}

func (s *Session) armStopTimer() {
	s.revokeStopTimer()
	s.stopToken++
	token := s.stopToken
	s.stopTimer = s.afterFunc(s.stopTimeout, func() {
		s.post(func() { s.handleStopTimeout(token) })
	})
}

func (s *Session) revokeStopTimer() {
	if s.stopTimer == nil {
		return
	}
	s.stopTimer.Stop()
	s.stopTimer = nil
	s.stopToken++
}

func (s *Session) handleStopTimeout(token uint64) {
	if token != s.stopToken || s.stopTimer == nil {
		return
	}
	s.stopTimer = nil
	if s.state != fsm.StateStopping {
		return
	}
	s.logger.Warn("engine did not end before stop timeout", "timeout", s.stopTimeout.String())
	// Events from the abandoned run no longer apply.
	s.gen++
	s.engineRunning = false
	s.transition(fsm.EventEnded)
}

// fail moves to Failed and surfaces classified once per session start.
func (s *Session) fail(classified classify.Error) {
	s.desired = false
	s.revokeRestart()
	s.revokeStopTimer()
	s.stopEngine()
	s.release()
	s.lastError = &classified
	s.transition(fsm.EventFail)

	if s.fatalReported {
		return
	}
	s.fatalReported = true
	s.metrics.RecordFatal(context.Background(), string(classified.Kind))
	s.logger.Error("session failed", "kind", string(classified.Kind), "code", classified.Code, "error", classified.Error())
	if s.onFatal != nil {
		s.onFatal(classified)
	}
}

func (s *Session) shutdown() {
	s.desired = false
	s.revokeRestart()
	s.revokeStopTimer()
	s.stopEngine()
	s.engineRunning = false
	s.gen++
	s.release()
	if s.state != fsm.StateIdle {
		s.setState(fsm.StateIdle, "close")
	}
}

func (s *Session) transition(event fsm.Event) bool {
	next, err := fsm.Transition(s.state, event)
	if err != nil {
		s.logger.Debug("ignored session event", "error", err.Error())
		return false
	}
	s.setState(next, string(event))
	return true
}

func (s *Session) setState(next fsm.State, cause string) {
	if next == s.state {
		return
	}
	s.logger.Debug("session state changed", "from", string(s.state), "to", string(next), "event", cause)
	s.state = next
	s.published.Store(next)
	if s.onStateChange != nil {
		s.onStateChange(next)
	}
}

func (s *Session) publishTranscript(notify bool) {
	text := s.acc.Snapshot()
	s.text.Store(text)
	if notify && s.onTranscript != nil {
		s.onTranscript(text)
	}
}
