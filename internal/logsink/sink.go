// Package logsink buffers a job's log lines and persists the whole buffer to
// a single object on a debounce.
//
// One goroutine owns the buffer, the last-flush time, the timer and the
// in-flight flag. Callers only send messages to it:
//   - append: a new line was logged.
//   - timer: the debounce timer fired.
//   - completed: a persistence write finished.
//   - close: the job is done; flush what is left and stop.
//
// Each write carries the full buffer, so every persisted object is a superset
// of the previous one. The buffer is never truncated. A failed write is not
// retried on its own; the next line or Close writes the bytes again.
package logsink

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-feed-crawler/internal/crawler"
	"github.com/JakeFAU/realtime-feed-crawler/internal/metrics"
)

const (
	defaultFlushInterval = time.Second
	defaultWriteTimeout  = 30 * time.Second
	defaultBufferSize    = 1024
	contentType          = "text/plain; charset=utf-8"
)

// Config controls flush behaviour.
//   - FlushInterval: minimum spacing between flushes (default 1s).
//   - WriteTimeout: deadline for a single persistence write (default 30s).
//   - BufferSize: capacity of the inbound line channel (default 1024).
//   - Logger: side logger for flush failures. It must not feed back into
//     the sink.
type Config struct {
	FlushInterval time.Duration
	WriteTimeout  time.Duration
	BufferSize    int
	Logger        *zap.Logger
}

type state int

const (
	stateIdle state = iota
	stateBuffering
	stateFlushing
)

type flushResult struct {
	size     int
	finished time.Time
	err      error
}

// Sink is a per-job buffered log writer. PutLine is safe for concurrent use.
type Sink struct {
	store  crawler.BlobStore
	key    string
	cfg    Config
	logger *zap.Logger
	now    func() time.Time

	lines     chan string
	completed chan flushResult
	stopCh    chan struct{}
	doneCh    chan struct{}
	closed    atomic.Bool
	closeOnce sync.Once
	pending   sync.WaitGroup

	// owned by run
	buf        bytes.Buffer
	lastFlush  time.Time
	attempted  int
	persisted  int
	state      state
	closing    bool
	closeWrite bool
}

// New starts a sink that persists to key in store.
func New(store crawler.BlobStore, key string, cfg Config) *Sink {
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = defaultFlushInterval
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultBufferSize
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Sink{
		store:     store,
		key:       key,
		cfg:       cfg,
		logger:    logger.With(zap.String("log_key", key)),
		now:       time.Now,
		lines:     make(chan string, cfg.BufferSize),
		completed: make(chan flushResult, 1),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
	s.lastFlush = s.now()
	go s.run()
	return s
}

// Key returns the object key the sink writes to.
func (s *Sink) Key() string { return s.key }

// PutLine appends line to the buffer and schedules persistence. Lines sent
// after Close are dropped.
func (s *Sink) PutLine(line string) {
	if s == nil || s.closed.Load() {
		return
	}
	select {
	case s.lines <- line:
	case <-s.doneCh:
	}
}

// Write implements io.Writer so the sink can back a zapcore.WriteSyncer. Each
// call is treated as one line.
func (s *Sink) Write(p []byte) (int, error) {
	s.PutLine(strings.TrimSuffix(string(p), "\n"))
	return len(p), nil
}

// Sync is a no-op; durability is provided by Close.
func (s *Sink) Sync() error { return nil }

// Close flushes any unpersisted bytes and waits for every outstanding write.
func (s *Sink) Close(ctx context.Context) error {
	if s == nil {
		return nil
	}
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		close(s.stopCh)
	})
	select {
	case <-s.doneCh:
	case <-ctx.Done():
		return fmt.Errorf("log sink close wait: %w", ctx.Err())
	}
	waited := make(chan struct{})
	go func() {
		s.pending.Wait()
		close(waited)
	}()
	select {
	case <-waited:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("log sink pending writes: %w", ctx.Err())
	}
}

func (s *Sink) run() {
	defer close(s.doneCh)
	timer := time.NewTimer(s.cfg.FlushInterval)
	stopTimer(timer)
	timerActive := false
	stopCh := s.stopCh

	for {
		select {
		case line := <-s.lines:
			s.buf.WriteString(line)
			s.buf.WriteByte('\n')
			if s.state == stateFlushing {
				continue
			}
			s.state = stateBuffering
			if s.closing {
				s.flush()
				continue
			}
			s.schedule(timer, &timerActive)
		case <-timer.C:
			timerActive = false
			if s.state != stateFlushing && s.unflushed() {
				s.flush()
			}
		case res := <-s.completed:
			s.finish(res)
			switch {
			case s.unflushed():
				s.state = stateBuffering
				if s.closing {
					s.flush()
				} else {
					s.schedule(timer, &timerActive)
				}
			case s.needsCloseWrite():
				s.flush()
			default:
				s.state = stateIdle
			}
		case <-stopCh:
			stopCh = nil
			s.closing = true
			s.drain()
			if (s.unflushed() || s.needsCloseWrite()) && s.state != stateFlushing {
				disarm(timer, &timerActive)
				s.flush()
			}
		}
		if s.closing && s.state != stateFlushing && !s.unflushed() && !s.needsCloseWrite() {
			disarm(timer, &timerActive)
			return
		}
	}
}

// schedule applies the debounce policy to the current buffer.
func (s *Sink) schedule(timer *time.Timer, timerActive *bool) {
	elapsed := s.now().Sub(s.lastFlush)
	if elapsed > s.cfg.FlushInterval {
		disarm(timer, timerActive)
		s.flush()
		return
	}
	if !*timerActive {
		timer.Reset(s.cfg.FlushInterval - elapsed)
		*timerActive = true
	}
}

func (s *Sink) drain() {
	for {
		select {
		case line := <-s.lines:
			s.buf.WriteString(line)
			s.buf.WriteByte('\n')
		default:
			return
		}
	}
}

func (s *Sink) unflushed() bool { return s.buf.Len() > s.attempted }

// needsCloseWrite reports whether Close still owes one write of bytes whose
// earlier write failed.
func (s *Sink) needsCloseWrite() bool {
	return s.closing && !s.closeWrite && s.buf.Len() > s.persisted
}

// flush starts a write of the whole buffer. At most one is in flight.
func (s *Sink) flush() {
	data := bytes.Clone(s.buf.Bytes())
	s.attempted = len(data)
	s.state = stateFlushing
	if s.closing {
		s.closeWrite = true
	}
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.WriteTimeout)
		defer cancel()
		err := s.store.PutObject(ctx, s.key, data, crawler.PutOptions{ContentType: contentType})
		s.completed <- flushResult{size: len(data), finished: s.now(), err: err}
	}()
}

func (s *Sink) finish(res flushResult) {
	if res.err != nil {
		ferr := &crawler.LogFlushError{Key: s.key, Bytes: res.size, Err: res.err}
		s.logger.Warn("log flush failed", zap.Error(ferr))
		metrics.ObserveLogFlush("error", res.size)
		return
	}
	s.lastFlush = res.finished
	s.persisted = res.size
	metrics.ObserveLogFlush("ok", res.size)
}

func disarm(timer *time.Timer, timerActive *bool) {
	if !*timerActive {
		return
	}
	stopTimer(timer)
	*timerActive = false
}

func stopTimer(timer *time.Timer) {
	if !timer.Stop() {
		select {
		case <-timer.C:
		default:
		}
	}
}
