package component

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/vpuomx/checker"
	"github.com/opd-ai/vpuomx/omx"
	"github.com/opd-ai/vpuomx/pipeline"
	"github.com/opd-ai/vpuomx/port"
)

// SendCommand validates a command and queues it for the worker. The
// outcome is reported asynchronously: EventCmdComplete on success,
// EventError otherwise.
//
// For CommandStateSet param is the target omx.State, which is checked
// against the state reached once every queued transition has run. For
// Flush, PortDisable and PortEnable param is a port index or omx.AllPorts.
// CommandMarkBuffer takes the input port index and a *omx.Mark in data.
func (c *Component) SendCommand(cmd omx.Command, param uint32, data any) error {
	return c.result("SendCommand", c.sendCommand(cmd, param, data))
}

func (c *Component) sendCommand(cmd omx.Command, param uint32, data any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.checkLocked(checker.OpSendCommand); err != nil {
		return err
	}
	if err := checker.CheckCommand(cmd); err != nil {
		return err
	}
	switch cmd {
	case omx.CommandStateSet:
		target := omx.State(param)
		if err := checker.CheckExists(target); err != nil {
			return err
		}
		if err := checker.CheckTransitionAllowed(c.target, target); err != nil {
			return err
		}
	case omx.CommandMarkBuffer:
		if param != InputPort {
			return fmt.Errorf("%w: marks apply to the input port", omx.ErrBadPortIndex)
		}
		if mark, ok := data.(*omx.Mark); !ok || mark == nil {
			return ErrBadMark
		}
	default:
		if param != omx.AllPorts {
			if err := checker.CheckPortIndex(param, portCount); err != nil {
				return err
			}
		}
	}

	t := task{id: uuid.New(), cmd: cmd, param: param, data: data}
	select {
	case c.tasks <- t:
	default:
		return ErrQueueFull
	}
	if cmd == omx.CommandStateSet {
		c.target = omx.State(param)
		c.pendingStates++
	}

	c.log.WithFields(logrus.Fields{
		"function":   "SendCommand",
		"command":    cmd.String(),
		"param":      param,
		"command_id": t.id.String(),
	}).Debug("Command queued")
	return nil
}

func (c *Component) worker() {
	defer c.wg.Done()
	for {
		select {
		case <-c.ctx.Done():
			return
		case t := <-c.tasks:
			c.execute(t)
		}
	}
}

func (c *Component) execute(t task) {
	log := c.log.WithFields(logrus.Fields{
		"function":   "execute",
		"command":    t.cmd.String(),
		"param":      t.param,
		"command_id": t.id.String(),
	})
	log.Debug("Executing command")

	var err error
	switch t.cmd {
	case omx.CommandStateSet:
		err = c.setState(omx.State(t.param))
	case omx.CommandFlush:
		err = c.flush(t.param)
	case omx.CommandPortDisable:
		err = c.disablePorts(t.param)
	case omx.CommandPortEnable:
		err = c.enablePorts(t.param)
	case omx.CommandMarkBuffer:
		err = c.markBuffer(t.data.(*omx.Mark))
	}

	switch {
	case errors.Is(err, errAborted):
		log.Info("Command aborted")
	case err != nil:
		log.WithField("error", err.Error()).Error("Command failed")
		c.emit(omx.ErrorEvent(omx.Code(err)))
	}
}

func (c *Component) complete(cmd omx.Command, data2 uint32) {
	c.emit(omx.Event{Type: omx.EventCmdComplete, Data1: uint32(cmd), Data2: data2})
}

func (c *Component) setState(target omx.State) error {
	c.mu.Lock()
	from := c.state
	c.pendingStates--
	err := checker.CheckTransitionAllowed(from, target)
	c.mu.Unlock()

	if err == nil {
		err = c.transition(from, target)
	}
	if err != nil {
		c.mu.Lock()
		if c.pendingStates == 0 {
			c.target = c.state
		}
		c.mu.Unlock()
		return err
	}

	c.mu.Lock()
	c.state = target
	c.mu.Unlock()
	c.metrics.Transition(from, target)

	c.log.WithFields(logrus.Fields{
		"function": "setState",
		"from":     from.String(),
		"to":       target.String(),
	}).Info("State changed")
	c.complete(omx.CommandStateSet, uint32(target))
	return nil
}

// transition runs the side effects of moving from one state to another.
func (c *Component) transition(from, to omx.State) error {
	switch {
	case to == omx.StateIdle && (from == omx.StateLoaded || from == omx.StateWaitForResources):
		return c.waitPorts(func(p *port.Port) error {
			if !p.Enabled() {
				return nil
			}
			return p.WaitPopulated(c.ctx, true)
		})
	case from == omx.StateIdle && to == omx.StateLoaded:
		c.returnQueued(c.ports[:]...)
		return c.waitPorts(func(p *port.Port) error { return p.WaitEmpty(c.ctx) })
	case from == omx.StateIdle && (to == omx.StateExecuting || to == omx.StatePause):
		return c.startPipeline(to == omx.StatePause)
	case from == omx.StateExecuting && to == omx.StatePause:
		if p := c.runningPipeline(); p != nil {
			p.Pause()
		}
	case from == omx.StatePause && to == omx.StateExecuting:
		if p := c.runningPipeline(); p != nil {
			p.Resume()
		}
	case to == omx.StateIdle:
		if err := c.stopPipeline(); err != nil {
			c.emit(omx.ErrorEvent(omx.Code(err)))
		}
	}
	return nil
}

func (c *Component) waitPorts(wait func(p *port.Port) error) error {
	for _, p := range c.ports {
		if err := wait(p); err != nil {
			return fmt.Errorf("%w: port %d: %v", errAborted, p.Index(), err)
		}
	}
	return nil
}

// startPipeline builds a fresh pipeline for the current configuration.
// The engine channel is opened by the pipeline on the first buffer.
func (c *Component) startPipeline(paused bool) error {
	c.mu.Lock()
	cfg := pipeline.Config{
		Input:      c.ports[InputPort],
		Output:     c.ports[OutputPort],
		Engine:     c.eng,
		Variant:    c.variant,
		Settings:   c.settings,
		Callbacks:  c.cb,
		Self:       c,
		RegionSize: c.opts.regionSize,
		Log:        c.log,
		Metrics:    c.metrics,
		Clock:      c.opts.clock,
		Paused:     paused,
	}
	sei, keyFrame := c.seiReporting, c.keyFrame
	c.keyFrame = false
	c.mu.Unlock()

	var (
		pipe pipeline.Pipeline
		dec  *pipeline.Decoder
		enc  *pipeline.Encoder
	)
	switch c.role.Kind {
	case KindDecoder:
		d, err := pipeline.NewDecoder(cfg)
		if err != nil {
			return err
		}
		d.SetSEIReporting(sei)
		pipe, dec = d, d
	case KindEncoder:
		e, err := pipeline.NewEncoder(cfg)
		if err != nil {
			return err
		}
		if keyFrame {
			if err := e.RequestKeyFrame(); err != nil {
				return err
			}
		}
		pipe, enc = e, e
	}

	c.pipeMu.Lock()
	c.pipe, c.decoder, c.encoder = pipe, dec, enc
	c.pipeMu.Unlock()
	pipe.Start()
	return nil
}

// stopPipeline tears the pipeline down; every buffer it held is returned
// with zero length, as is anything queued after it was detached.
func (c *Component) stopPipeline() error {
	c.pipeMu.Lock()
	pipe := c.pipe
	c.pipe, c.decoder, c.encoder = nil, nil, nil
	c.pipeMu.Unlock()
	if pipe == nil {
		return nil
	}
	err := pipe.Stop()
	c.returnQueued(c.ports[:]...)
	return err
}

func (c *Component) portIndexes(param uint32) []uint32 {
	if param == omx.AllPorts {
		return []uint32{InputPort, OutputPort}
	}
	return []uint32{param}
}

// flush returns every buffer of the addressed ports, then completes once
// per port.
func (c *Component) flush(param uint32) error {
	indexes := c.portIndexes(param)
	if pipe := c.runningPipeline(); pipe != nil {
		if err := pipe.Flush(indexes...); err != nil {
			return err
		}
	} else {
		for _, i := range indexes {
			c.returnQueued(c.ports[i])
		}
	}
	for _, i := range indexes {
		c.complete(omx.CommandFlush, i)
	}
	return nil
}

func (c *Component) committedState() omx.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// disablePorts stops buffer exchange on each port, returns what it holds
// and, outside Loaded, waits for the framework to free every buffer.
func (c *Component) disablePorts(param uint32) error {
	pipe := c.runningPipeline()
	loaded := c.committedState() == omx.StateLoaded
	for _, i := range c.portIndexes(param) {
		p := c.ports[i]
		p.SetEnabled(false)
		if pipe != nil {
			if err := pipe.Flush(i); err != nil {
				return err
			}
			pipe.ForgetPort(i)
		} else {
			c.returnQueued(p)
		}
		if !loaded {
			if err := p.WaitEmpty(c.ctx); err != nil {
				return fmt.Errorf("%w: port %d: %v", errAborted, i, err)
			}
		}
		c.log.WithFields(logrus.Fields{
			"function": "disablePorts",
			"port":     i,
		}).Info("Port disabled")
		c.complete(omx.CommandPortDisable, i)
	}
	return nil
}

// enablePorts re-enables each port and, outside Loaded, waits until the
// framework has populated it.
func (c *Component) enablePorts(param uint32) error {
	loaded := c.committedState() == omx.StateLoaded
	for _, i := range c.portIndexes(param) {
		p := c.ports[i]
		p.SetEnabled(true)
		if !loaded {
			if err := p.WaitPopulated(c.ctx, true); err != nil {
				return fmt.Errorf("%w: port %d: %v", errAborted, i, err)
			}
		}
		c.log.WithFields(logrus.Fields{
			"function": "enablePorts",
			"port":     i,
		}).Info("Port enabled")
		c.complete(omx.CommandPortEnable, i)
	}
	return nil
}

func (c *Component) markBuffer(mark *omx.Mark) error {
	c.mu.Lock()
	c.marks = append(c.marks, mark)
	c.mu.Unlock()
	c.complete(omx.CommandMarkBuffer, InputPort)
	return nil
}
