package soft

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/vpuomx/engine"
)

// Config bounds what the soft engine will hand out.
type Config struct {
	// Channels is the number of channels that may be open at once
	Channels int
	// MemoryBudget limits AllocBuffer storage in bytes; zero is unlimited
	MemoryBudget int64
	// FrameDelay is slept before each produced picture or access unit
	FrameDelay time.Duration
	// RegionSize is the default encoder bitstream region size
	RegionSize uint32
}

// DefaultConfig returns a four-channel engine without delays.
func DefaultConfig() Config {
	return Config{
		Channels:   4,
		RegionSize: 1 << 20,
	}
}

// Engine is a software engine.Engine.
type Engine struct {
	cfg Config

	mu   sync.Mutex
	open int
	used int64

	pending atomic.Uint32
}

// New creates a software engine.
func New(cfg Config) *Engine {
	logrus.Warn("SIMULATION ENGINE - NO HARDWARE OPERATION")
	logrus.WithFields(logrus.Fields{
		"function":      "soft.New",
		"channels":      cfg.Channels,
		"memory_budget": cfg.MemoryBudget,
		"frame_delay":   cfg.FrameDelay,
	}).Info("Creating software engine")

	if cfg.Channels <= 0 {
		cfg.Channels = DefaultConfig().Channels
	}
	if cfg.RegionSize == 0 {
		cfg.RegionSize = DefaultConfig().RegionSize
	}
	return &Engine{cfg: cfg}
}

// Name returns "soft".
func (e *Engine) Name() string { return "soft" }

// OpenChannels returns the number of open channels.
func (e *Engine) OpenChannels() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.open
}

// InjectError makes the next processed input of any channel fail with code.
func (e *Engine) InjectError(code engine.ErrorCode) {
	e.pending.Store(uint32(code))
}

func (e *Engine) takeInjected() engine.ErrorCode {
	return engine.ErrorCode(e.pending.Swap(0))
}

func (e *Engine) acquireChannel() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.open >= e.cfg.Channels {
		return engine.NewError("open", engine.CodeNoChannel)
	}
	e.open++
	return nil
}

func (e *Engine) releaseChannel() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.open > 0 {
		e.open--
	}
}

func (e *Engine) alloc(size uint32) (*engine.HardwareBuffer, error) {
	e.mu.Lock()
	if e.cfg.MemoryBudget > 0 && e.used+int64(size) > e.cfg.MemoryBudget {
		e.mu.Unlock()
		return nil, engine.NewError("alloc", engine.CodeNoMemory)
	}
	e.used += int64(size)
	e.mu.Unlock()

	return engine.NewHardwareBuffer(make([]byte, size), func(b *engine.HardwareBuffer) {
		e.mu.Lock()
		e.used -= int64(len(b.Data))
		e.mu.Unlock()
	}), nil
}

// worker is the goroutine scaffolding shared by both channel kinds.
type worker struct {
	eng  *Engine
	log  *logrus.Entry
	mu   sync.Mutex
	wake chan struct{}
	done chan struct{}
	wg   sync.WaitGroup

	closed   bool
	stopping bool
}

func (w *worker) init(eng *Engine, kind string) {
	w.eng = eng
	w.log = logrus.WithFields(logrus.Fields{"engine": "soft", "channel": kind})
	w.wake = make(chan struct{}, 1)
	w.done = make(chan struct{})
}

func (w *worker) start(step func() bool) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		for {
			select {
			case <-w.done:
				return
			case <-w.wake:
			}
			for step() {
				select {
				case <-w.done:
					return
				default:
				}
			}
		}
	}()
}

func (w *worker) signal() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// delay sleeps FrameDelay and reports false when the channel closed meanwhile.
func (w *worker) delay() bool {
	if w.eng.cfg.FrameDelay <= 0 {
		return true
	}
	t := time.NewTimer(w.eng.cfg.FrameDelay)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-w.done:
		return false
	}
}

func (w *worker) close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	w.mu.Unlock()

	close(w.done)
	w.wg.Wait()
	w.eng.releaseChannel()
	w.log.WithField("function", "close").Debug("Channel closed")
	return nil
}

func (w *worker) checkOpen(op string) error {
	if w.closed {
		return engine.NewError(op, engine.CodeResourceUnavailable)
	}
	return nil
}

// forceStop flags a stop for the worker goroutine to carry out.
func (w *worker) forceStop() error {
	w.mu.Lock()
	if err := w.checkOpen("force_stop"); err != nil {
		w.mu.Unlock()
		return err
	}
	w.stopping = true
	w.mu.Unlock()
	w.signal()
	return nil
}

func importBuffer(data []byte) (*engine.HardwareBuffer, error) {
	if len(data) == 0 {
		return nil, engine.NewError("import", engine.CodeBadParameter)
	}
	return engine.NewHardwareBuffer(data, nil), nil
}
