// Package session drives a component through a complete framework session:
// Loaded to Idle to Executing, a stream of N buffers ending in EOS, and back
// to Loaded. The vpusim command and the integration tests use it.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/opd-ai/vpuomx/component"
	"github.com/opd-ai/vpuomx/limits"
	"github.com/opd-ai/vpuomx/omx"
)

// Handle is the component surface a session needs.
type Handle interface {
	SendCommand(cmd omx.Command, param uint32, data any) error
	SetCallbacks(cb omx.Callbacks) error
	GetParameter(index omx.Index, param any) error
	AllocateBuffer(portIndex uint32, appData any, size uint32) (*omx.BufferHeader, error)
	FreeBuffer(portIndex uint32, h *omx.BufferHeader) error
	EmptyThisBuffer(h *omx.BufferHeader) error
	FillThisBuffer(h *omx.BufferHeader) error
}

// ErrComponent wraps an EventError raised during a session.
var ErrComponent = errors.New("component reported an error")

// Config describes one session.
type Config struct {
	// Frames is the number of access units or pictures fed before EOS
	Frames int
	// Interval is the timestamp step in microseconds
	Interval int64
	// Timeout bounds each state transition
	Timeout time.Duration
	// Source fills input buffer number i and returns its length and flags
	Source func(i int, buf []byte) (int, omx.BufferFlags)
	// Sink, when set, sees every filled output before it is recycled
	Sink func(b *omx.BufferHeader)
}

// Summary reports what a session produced.
type Summary struct {
	Inputs       int
	Outputs      int
	OutputBytes  uint64
	CodecConfigs int
	SyncFrames   int
	Events       map[omx.EventType]int
	LastStamp    int64
	Elapsed      time.Duration
}

// Session runs one stream through a component it does not own.
type Session struct {
	h   Handle
	cfg Config
	log *logrus.Entry

	complete chan omx.Event
	failures chan omx.Event
	emptied  chan *omx.BufferHeader
	filled   chan *omx.BufferHeader

	mu     sync.Mutex
	events map[omx.EventType]int

	in, out []*omx.BufferHeader
}

// New installs the session's callbacks on h, which must be in Loaded.
func New(h Handle, cfg Config) (*Session, error) {
	if cfg.Frames < 0 {
		return nil, fmt.Errorf("%w: negative frame count", omx.ErrBadParameter)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 33333
	}
	if cfg.Source == nil {
		cfg.Source = Pattern
	}

	// Each header is owned by the framework at most once, so channels as
	// deep as both ports never block a callback.
	depth := 2 * limits.MaxBufferCount
	s := &Session{
		h:        h,
		cfg:      cfg,
		log:      logrus.WithField("function", "session"),
		complete: make(chan omx.Event, 8),
		failures: make(chan omx.Event, 8),
		emptied:  make(chan *omx.BufferHeader, depth),
		filled:   make(chan *omx.BufferHeader, depth),
		events:   make(map[omx.EventType]int),
	}
	if err := h.SetCallbacks(omx.Callbacks{
		EventHandler:    s.onEvent,
		EmptyBufferDone: func(b *omx.BufferHeader) { s.emptied <- b },
		FillBufferDone:  func(b *omx.BufferHeader) { s.filled <- b },
	}); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Session) onEvent(ev omx.Event) {
	s.mu.Lock()
	s.events[ev.Type]++
	s.mu.Unlock()

	switch ev.Type {
	case omx.EventCmdComplete:
		s.complete <- ev
	case omx.EventError:
		select {
		case s.failures <- ev:
		default:
		}
	case omx.EventPortSettingsChanged:
		s.log.WithFields(logrus.Fields{
			"port":  ev.Data1,
			"index": fmt.Sprintf("%#x", ev.Data2),
		}).Info("Port settings changed")
	default:
		s.log.WithFields(logrus.Fields{
			"event": ev.Type.String(),
			"data1": ev.Data1,
			"data2": ev.Data2,
		}).Debug("Component event")
	}
}

// Run performs the whole session and leaves the component in Loaded.
func (s *Session) Run(ctx context.Context) (Summary, error) {
	start := time.Now()
	if err := s.toIdle(ctx); err != nil {
		return Summary{}, err
	}
	if err := s.transition(ctx, omx.StateExecuting); err != nil {
		_ = s.teardown(ctx)
		return Summary{}, err
	}

	sum, err := s.stream(ctx)
	if terr := s.teardown(ctx); err == nil {
		err = terr
	}
	sum.Elapsed = time.Since(start)

	s.mu.Lock()
	sum.Events = make(map[omx.EventType]int, len(s.events))
	for k, v := range s.events {
		sum.Events[k] = v
	}
	s.mu.Unlock()

	s.log.WithFields(logrus.Fields{
		"inputs":  sum.Inputs,
		"outputs": sum.Outputs,
		"bytes":   sum.OutputBytes,
		"elapsed": sum.Elapsed.String(),
	}).Info("Session finished")
	return sum, err
}

func (s *Session) toIdle(ctx context.Context) error {
	if err := s.h.SendCommand(omx.CommandStateSet, uint32(omx.StateIdle), nil); err != nil {
		return err
	}
	var err error
	if s.in, err = s.allocate(component.InputPort); err != nil {
		return err
	}
	if s.out, err = s.allocate(component.OutputPort); err != nil {
		return err
	}
	return s.wait(ctx, omx.CommandStateSet, uint32(omx.StateIdle))
}

func (s *Session) allocate(index uint32) ([]*omx.BufferHeader, error) {
	def := omx.PortDefinition{Header: omx.NewHeader(), Index: index}
	if err := s.h.GetParameter(omx.IndexParamPortDefinition, &def); err != nil {
		return nil, err
	}
	buffers := make([]*omx.BufferHeader, 0, def.BufferCountActual)
	for i := uint32(0); i < def.BufferCountActual; i++ {
		b, err := s.h.AllocateBuffer(index, nil, def.BufferSize)
		if err != nil {
			return nil, fmt.Errorf("allocate buffer %d on port %d: %w", i, index, err)
		}
		buffers = append(buffers, b)
	}
	return buffers, nil
}

func (s *Session) transition(ctx context.Context, to omx.State) error {
	if err := s.h.SendCommand(omx.CommandStateSet, uint32(to), nil); err != nil {
		return err
	}
	return s.wait(ctx, omx.CommandStateSet, uint32(to))
}

// wait blocks until the command completes, an error event arrives or the
// transition timeout passes.
func (s *Session) wait(ctx context.Context, cmd omx.Command, data2 uint32) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	timer := time.NewTimer(s.cfg.Timeout)
	defer timer.Stop()
	for {
		select {
		case ev := <-s.complete:
			if ev.Data1 == uint32(cmd) && ev.Data2 == data2 {
				return nil
			}
		case ev := <-s.failures:
			return fmt.Errorf("%w: %v", ErrComponent, omx.Error(ev.Data1))
		case <-timer.C:
			return fmt.Errorf("%s %d: %w", cmd, data2, context.DeadlineExceeded)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// stream feeds inputs and recycles outputs until the EOS output arrives.
func (s *Session) stream(ctx context.Context) (Summary, error) {
	var sum Summary
	done := make(chan struct{})
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return s.feed(gctx, &sum.Inputs)
	})
	g.Go(func() error {
		defer close(done)
		return s.drain(gctx, &sum)
	})
	g.Go(func() error {
		select {
		case ev := <-s.failures:
			return fmt.Errorf("%w: %v", ErrComponent, omx.Error(ev.Data1))
		case <-done:
			return nil
		case <-gctx.Done():
			return nil
		}
	})
	return sum, g.Wait()
}

func (s *Session) feed(ctx context.Context, sent *int) error {
	submit := func(b *omx.BufferHeader) error {
		i := *sent
		b.Offset = 0
		b.Timestamp = int64(i) * s.cfg.Interval
		if i < s.cfg.Frames {
			n, flags := s.cfg.Source(i, b.Buffer[:b.AllocLen])
			b.FilledLen = uint32(n)
			b.Flags = flags
		} else {
			b.FilledLen = 0
			b.Flags = omx.FlagEOS
		}
		*sent = i + 1
		return s.h.EmptyThisBuffer(b)
	}

	for _, b := range s.in {
		if *sent > s.cfg.Frames {
			return nil
		}
		if err := submit(b); err != nil {
			return err
		}
	}
	for *sent <= s.cfg.Frames {
		select {
		case b := <-s.emptied:
			if err := submit(b); err != nil {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (s *Session) drain(ctx context.Context, sum *Summary) error {
	for _, b := range s.out {
		if err := s.h.FillThisBuffer(b); err != nil {
			return err
		}
	}
	for {
		select {
		case b := <-s.filled:
			if b.FilledLen > 0 {
				sum.Outputs++
				sum.OutputBytes += uint64(b.FilledLen)
				sum.LastStamp = b.Timestamp
			}
			if b.Flags.Has(omx.FlagCodecConfig) {
				sum.CodecConfigs++
			}
			if b.Flags.Has(omx.FlagSyncFrame) {
				sum.SyncFrames++
			}
			if s.cfg.Sink != nil {
				s.cfg.Sink(b)
			}
			if b.Flags.Has(omx.FlagEOS) {
				return nil
			}
			if err := s.h.FillThisBuffer(b); err != nil {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// teardown returns the component to Loaded and frees every buffer.
func (s *Session) teardown(ctx context.Context) error {
	if err := s.transition(ctx, omx.StateIdle); err != nil {
		return err
	}
	if err := s.h.SendCommand(omx.CommandStateSet, uint32(omx.StateLoaded), nil); err != nil {
		return err
	}
	for _, b := range s.in {
		if err := s.h.FreeBuffer(component.InputPort, b); err != nil {
			return err
		}
	}
	for _, b := range s.out {
		if err := s.h.FreeBuffer(component.OutputPort, b); err != nil {
			return err
		}
	}
	s.in, s.out = nil, nil
	return s.wait(ctx, omx.CommandStateSet, uint32(omx.StateLoaded))
}

// Pattern fills buf with a frame-dependent byte ramp and uses all of it.
func Pattern(i int, buf []byte) (int, omx.BufferFlags) {
	for j := range buf {
		buf[j] = byte(i + j)
	}
	return len(buf), omx.FlagEndOfFrame
}

type unit struct {
	data  []byte
	flags omx.BufferFlags
}

// Capture keeps the payloads of one session so another can replay them,
// e.g. an encoder's stream into a decoder.
type Capture struct {
	mu    sync.Mutex
	units []unit
}

// Sink records a non-empty output payload.
func (c *Capture) Sink(b *omx.BufferHeader) {
	if b.FilledLen == 0 {
		return
	}
	data := make([]byte, b.FilledLen)
	copy(data, b.Buffer[b.Offset:b.Offset+b.FilledLen])
	c.mu.Lock()
	c.units = append(c.units, unit{data: data, flags: b.Flags &^ omx.FlagEOS})
	c.mu.Unlock()
}

// Len returns the number of recorded payloads.
func (c *Capture) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.units)
}

// Source replays payload i. Payloads larger than buf are truncated.
func (c *Capture) Source(i int, buf []byte) (int, omx.BufferFlags) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if i >= len(c.units) {
		return 0, 0
	}
	u := c.units[i]
	return copy(buf, u.data), u.flags
}
