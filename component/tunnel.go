package component

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/vpuomx/checker"
	"github.com/opd-ai/vpuomx/omx"
)

// Peer is the far end of a tunnel; *Component implements it.
type Peer interface {
	GetParameter(index omx.Index, param any) error
	SetParameter(index omx.Index, param any) error
}

type tunnel struct {
	peer Peer
	port uint32
}

// TunnelRequest sets up or tears down a tunnel on portIndex.
//
// The framework calls the output side first; it records the peer and
// writes its supplier preference into setup. The input side then checks the
// peer port is a compatible output, settles the supplier, tells the peer
// and writes the result into setup. A nil peer removes the tunnel.
func (c *Component) TunnelRequest(portIndex uint32, peer Peer, peerPort uint32, setup *omx.TunnelSetup) error {
	return c.result("TunnelRequest", c.tunnelRequest(portIndex, peer, peerPort, setup))
}

func (c *Component) tunnelRequest(index uint32, peer Peer, peerPort uint32, setup *omx.TunnelSetup) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	p, err := c.port(index)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	if err := checker.CheckOperationAllowed(checker.OpTunnelRequest, c.state); err != nil && p.Enabled() {
		c.mu.Unlock()
		return err
	}

	log := c.log.WithFields(logrus.Fields{
		"function":  "TunnelRequest",
		"port":      index,
		"peer_port": peerPort,
	})
	if peer == nil {
		c.tunnels[index] = tunnel{}
		c.suppliers[index] = omx.BufferSupplyUnspecified
		c.mu.Unlock()
		log.Info("Port untunneled")
		return nil
	}
	if setup == nil {
		c.mu.Unlock()
		return fmt.Errorf("%w: nil tunnel setup", omx.ErrBadParameter)
	}

	def := p.Definition()
	if def.Direction == omx.DirOutput {
		c.tunnels[index] = tunnel{peer: peer, port: peerPort}
		setup.Supplier = c.suppliers[index]
		c.mu.Unlock()
		log.Debug("Output side of tunnel recorded")
		return nil
	}
	preference := c.suppliers[index]
	c.mu.Unlock()

	// The peer is queried without c.mu held; it may be tunneled back to us.
	peerDef := omx.PortDefinition{Header: omx.NewHeader(), Index: peerPort}
	if err := peer.GetParameter(omx.IndexParamPortDefinition, &peerDef); err != nil {
		return fmt.Errorf("%w: peer port %d: %v", omx.ErrPortsNotCompatible, peerPort, err)
	}
	if err := compatible(def, peerDef); err != nil {
		return err
	}

	supplier := negotiate(preference, setup.Supplier)
	err = peer.SetParameter(omx.IndexParamCompBufferSupplier, &omx.BufferSupplier{
		Header:    omx.NewHeader(),
		PortIndex: peerPort,
		Supplier:  supplier,
	})
	if err != nil {
		return fmt.Errorf("%w: peer refused supplier: %v", omx.ErrPortsNotCompatible, err)
	}

	c.mu.Lock()
	c.tunnels[index] = tunnel{peer: peer, port: peerPort}
	c.suppliers[index] = supplier
	c.mu.Unlock()
	setup.Supplier = supplier

	log.WithField("supplier", supplier).Info("Port tunneled")
	return nil
}

// compatible checks that out can feed in.
func compatible(in, out omx.PortDefinition) error {
	if out.Direction != omx.DirOutput {
		return fmt.Errorf("%w: peer port %d is not an output", omx.ErrPortsNotCompatible, out.Index)
	}
	if in.Video.Compression != out.Video.Compression {
		return fmt.Errorf("%w: %s input fed by %s output",
			omx.ErrPortsNotCompatible, in.Video.Compression, out.Video.Compression)
	}
	if in.Video.Compression == omx.CodingUnused && in.Video.ColorFormat != out.Video.ColorFormat {
		return fmt.Errorf("%w: color format %d fed by %d",
			omx.ErrPortsNotCompatible, in.Video.ColorFormat, out.Video.ColorFormat)
	}
	return nil
}

// negotiate settles the supplier: the input's own preference wins, then the
// output's, and an input port supplies when neither side cares.
func negotiate(input, output omx.BufferSupplierType) omx.BufferSupplierType {
	switch {
	case input != omx.BufferSupplyUnspecified:
		return input
	case output != omx.BufferSupplyUnspecified:
		return output
	default:
		return omx.BufferSupplyInput
	}
}

// Tunneled reports whether portIndex is tunneled, and to which peer port.
func (c *Component) Tunneled(portIndex uint32) (Peer, uint32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if portIndex >= portCount || c.tunnels[portIndex].peer == nil {
		return nil, 0, false
	}
	t := c.tunnels[portIndex]
	return t.peer, t.port, true
}
