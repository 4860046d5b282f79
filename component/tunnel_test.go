package component

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/vpuomx/omx"
)

// refusingPeer answers port definitions but rejects every setting.
type refusingPeer struct {
	def omx.PortDefinition
}

func (p *refusingPeer) GetParameter(index omx.Index, param any) error {
	def, ok := param.(*omx.PortDefinition)
	if !ok {
		return omx.ErrUnsupportedIndex
	}
	*def = p.def
	return nil
}

func (p *refusingPeer) SetParameter(omx.Index, any) error {
	return errors.New("refused")
}

func TestTunnelEncoderToDecoder(t *testing.T) {
	enc := newHarness(t, "video_encoder.avc")
	dec := newHarness(t, "video_decoder.avc")

	var setup omx.TunnelSetup
	require.NoError(t, enc.c.TunnelRequest(OutputPort, dec.c, InputPort, &setup))
	assert.Equal(t, omx.BufferSupplyUnspecified, setup.Supplier)
	require.NoError(t, dec.c.TunnelRequest(InputPort, enc.c, OutputPort, &setup))
	assert.Equal(t, omx.BufferSupplyInput, setup.Supplier)

	sup := omx.BufferSupplier{Header: omx.NewHeader(), PortIndex: OutputPort}
	require.NoError(t, enc.c.GetParameter(omx.IndexParamCompBufferSupplier, &sup))
	assert.Equal(t, omx.BufferSupplyInput, sup.Supplier)

	peer, peerPort, ok := dec.c.Tunneled(InputPort)
	require.True(t, ok)
	assert.Same(t, enc.c, peer)
	assert.Equal(t, uint32(OutputPort), peerPort)
	_, _, ok = enc.c.Tunneled(OutputPort)
	assert.True(t, ok)

	require.NoError(t, dec.c.TunnelRequest(InputPort, nil, 0, nil))
	_, _, ok = dec.c.Tunneled(InputPort)
	assert.False(t, ok)
	require.NoError(t, dec.c.GetParameter(omx.IndexParamCompBufferSupplier, &omx.BufferSupplier{Header: omx.NewHeader(), PortIndex: InputPort}))
}

func TestTunnelSupplierPreference(t *testing.T) {
	enc := newHarness(t, "video_encoder.avc")
	dec := newHarness(t, "video_decoder.avc")

	pref := omx.BufferSupplier{Header: omx.NewHeader(), PortIndex: OutputPort, Supplier: omx.BufferSupplyOutput}
	require.NoError(t, enc.c.SetParameter(omx.IndexParamCompBufferSupplier, &pref))

	var setup omx.TunnelSetup
	require.NoError(t, enc.c.TunnelRequest(OutputPort, dec.c, InputPort, &setup))
	assert.Equal(t, omx.BufferSupplyOutput, setup.Supplier)
	require.NoError(t, dec.c.TunnelRequest(InputPort, enc.c, OutputPort, &setup))
	assert.Equal(t, omx.BufferSupplyOutput, setup.Supplier)
}

func TestTunnelRejectsIncompatiblePorts(t *testing.T) {
	a := newHarness(t, "video_decoder.avc")
	b := newHarness(t, "video_decoder.avc")
	hevc := newHarness(t, "video_encoder.hevc")

	tests := []struct {
		name     string
		peer     Peer
		peerPort uint32
	}{
		{"raw output into coded input", b.c, OutputPort},
		{"peer port is an input", b.c, InputPort},
		{"different coding", hevc.c, OutputPort},
		{"missing peer port", b.c, 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var setup omx.TunnelSetup
			err := a.c.TunnelRequest(InputPort, tt.peer, tt.peerPort, &setup)
			assert.ErrorIs(t, err, omx.ErrPortsNotCompatible)
			_, _, ok := a.c.Tunneled(InputPort)
			assert.False(t, ok)
		})
	}
}

func TestTunnelPeerRefusesSupplier(t *testing.T) {
	enc := newHarness(t, "video_encoder.avc")
	dec := newHarness(t, "video_decoder.avc")
	peer := &refusingPeer{def: enc.definition(t, OutputPort)}

	var setup omx.TunnelSetup
	err := dec.c.TunnelRequest(InputPort, peer, OutputPort, &setup)
	assert.ErrorIs(t, err, omx.ErrPortsNotCompatible)
}

func TestTunnelRequestChecks(t *testing.T) {
	enc := newHarness(t, "video_encoder.avc")
	dec := newHarness(t, "video_decoder.avc")

	assert.ErrorIs(t, dec.c.TunnelRequest(InputPort, enc.c, OutputPort, nil), omx.ErrBadParameter)
	assert.ErrorIs(t, dec.c.TunnelRequest(3, enc.c, OutputPort, &omx.TunnelSetup{}), omx.ErrBadPortIndex)

	dec.toIdle(t)
	assert.ErrorIs(t, dec.c.TunnelRequest(InputPort, enc.c, OutputPort, &omx.TunnelSetup{}), omx.ErrIncorrectStateOperation)
}

func TestCompatible(t *testing.T) {
	out := omx.PortDefinition{Direction: omx.DirOutput, Video: omx.VideoPortDefinition{ColorFormat: omx.ColorFormatYUV420Planar}}
	in := omx.PortDefinition{Direction: omx.DirInput, Video: omx.VideoPortDefinition{ColorFormat: omx.ColorFormatYUV420Planar}}
	assert.NoError(t, compatible(in, out))

	in.Video.ColorFormat = omx.ColorFormatYUV420SemiPlanar
	assert.ErrorIs(t, compatible(in, out), omx.ErrPortsNotCompatible)
}

func TestNegotiate(t *testing.T) {
	tests := []struct {
		input, output, want omx.BufferSupplierType
	}{
		{omx.BufferSupplyUnspecified, omx.BufferSupplyUnspecified, omx.BufferSupplyInput},
		{omx.BufferSupplyUnspecified, omx.BufferSupplyOutput, omx.BufferSupplyOutput},
		{omx.BufferSupplyInput, omx.BufferSupplyOutput, omx.BufferSupplyInput},
		{omx.BufferSupplyOutput, omx.BufferSupplyUnspecified, omx.BufferSupplyOutput},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, negotiate(tt.input, tt.output))
	}
}
