package component

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/vpuomx/engine/soft"
	"github.com/opd-ai/vpuomx/omx"
)

func TestNewRejectsBadArguments(t *testing.T) {
	eng := soft.New(soft.DefaultConfig())
	tests := []struct {
		name string
		role string
		eng  *soft.Engine
		opts []Option
		want error
	}{
		{"unknown codec", "video_decoder.mpeg2", eng, nil, ErrUnknownRole},
		{"unknown kind", "audio_decoder.avc", eng, nil, ErrUnknownRole},
		{"no separator", "video_decoder", eng, nil, ErrUnknownRole},
		{"nil engine", "video_decoder.avc", nil, nil, ErrNilEngine},
		{"zero buffers", "video_decoder.avc", eng, []Option{WithBufferCounts(0, 4)}, omx.ErrBadParameter},
		{"odd stride alignment", "video_decoder.avc", eng, []Option{WithStrideAlign(24)}, omx.ErrBadParameter},
		{"odd avc frame", "video_encoder.avc", eng, []Option{WithFrameSize(321, 240)}, omx.ErrBadParameter},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var c *Component
			var err error
			if tt.eng == nil {
				c, err = New(tt.role, nil, omx.Callbacks{}, tt.opts...)
			} else {
				c, err = New(tt.role, tt.eng, omx.Callbacks{}, tt.opts...)
			}
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
			assert.Nil(t, c)
		})
	}
}

func TestInfo(t *testing.T) {
	h := newHarness(t, "video_decoder.hevc")
	info := h.c.Info()
	assert.Equal(t, "OMX.vpu.video_decoder.hevc", info.Name)
	assert.Equal(t, "video_decoder.hevc", info.Role)
	assert.Equal(t, omx.SpecVersion, info.Version)
	assert.NotEqual(t, uuid.Nil, info.ID)
	assert.Equal(t, KindDecoder, h.c.Role().Kind)
	assert.Equal(t, omx.CodingHEVC, h.c.Role().Coding)

	named := newHarness(t, "video_encoder.vp8", WithName("OMX.test.enc"))
	assert.Equal(t, "OMX.test.enc", named.c.Info().Name)
}

func TestRoles(t *testing.T) {
	roles := Roles()
	require.Len(t, roles, 6)
	assert.Equal(t, "video_decoder.avc", roles[0].Name)
	assert.Equal(t, KindEncoder, roles[len(roles)-1].Kind)
	for _, r := range roles {
		parsed, err := ParseRole(r.Name)
		require.NoError(t, err, r.Name)
		assert.Equal(t, r, parsed)
	}
}

func TestDefaultPorts(t *testing.T) {
	tests := []struct {
		role      string
		codedPort uint32
	}{
		{"video_decoder.avc", InputPort},
		{"video_encoder.avc", OutputPort},
		{"video_decoder.vp8", InputPort},
	}
	for _, tt := range tests {
		t.Run(tt.role, func(t *testing.T) {
			h := newHarness(t, tt.role)
			in := h.definition(t, InputPort)
			out := h.definition(t, OutputPort)

			assert.Equal(t, omx.DirInput, in.Direction)
			assert.Equal(t, omx.DirOutput, out.Direction)
			assert.Equal(t, uint32(DefaultInputCount), in.BufferCountActual)
			assert.Equal(t, uint32(DefaultOutputCount), out.BufferCountActual)
			assert.True(t, in.Enabled)
			assert.False(t, in.Populated)

			coded, raw := in, out
			if tt.codedPort == OutputPort {
				coded, raw = out, in
			}
			assert.Equal(t, h.c.Role().Coding, coded.Video.Compression)
			assert.Equal(t, omx.ColorFormatUnused, coded.Video.ColorFormat)
			assert.Equal(t, omx.CodingUnused, raw.Video.Compression)
			assert.Equal(t, omx.ColorFormatYUV420SemiPlanar, raw.Video.ColorFormat)
			assert.Equal(t, uint32(320*240*3/2), raw.BufferSize)
			assert.Equal(t, uint32(minBitstreamBuffer), coded.BufferSize)
			assert.Equal(t, uint32(DefaultWidth), raw.Video.Width)
		})
	}
}

func TestLoadedToIdleWaitsForPopulation(t *testing.T) {
	h := newHarness(t, "video_decoder.avc")
	h.sendState(t, omx.StateIdle)

	h.allocate(t, InputPort)
	assert.Never(t, func() bool {
		return h.fw.indexOf(omx.EventCmdComplete, uint32(omx.CommandStateSet), uint32(omx.StateIdle)) >= 0
	}, 50*time.Millisecond, time.Millisecond)
	state, err := h.c.GetState()
	require.NoError(t, err)
	assert.Equal(t, omx.StateLoaded, state)

	h.allocate(t, OutputPort)
	h.fw.waitComplete(t, omx.CommandStateSet, uint32(omx.StateIdle))

	state, err = h.c.GetState()
	require.NoError(t, err)
	assert.Equal(t, omx.StateIdle, state)
	for _, i := range []uint32{InputPort, OutputPort} {
		def := h.definition(t, i)
		assert.True(t, def.Populated, "port %d", i)
		assert.GreaterOrEqual(t, def.BufferCountActual, def.BufferCountMin)
	}
	assert.Empty(t, h.fw.eventsOf(omx.EventError))
}

func TestAllocateBeyondActualFails(t *testing.T) {
	h := newHarness(t, "video_decoder.avc")
	h.allocate(t, InputPort)
	def := h.definition(t, InputPort)
	_, err := h.c.AllocateBuffer(InputPort, nil, def.BufferSize)
	assert.ErrorIs(t, err, omx.ErrInsufficientResources)

	_, err = h.c.AllocateBuffer(7, nil, def.BufferSize)
	assert.ErrorIs(t, err, omx.ErrBadPortIndex)
}

func TestUseBuffer(t *testing.T) {
	h := newHarness(t, "video_decoder.avc")
	def := h.definition(t, InputPort)
	storage := make([]byte, def.BufferSize)
	b, err := h.c.UseBuffer(InputPort, "app", def.BufferSize, storage)
	require.NoError(t, err)
	assert.Equal(t, "app", b.AppPrivate)
	assert.Equal(t, uint32(InputPort), b.InputPortIndex)

	_, err = h.c.UseBuffer(InputPort, nil, def.BufferSize, storage[:10])
	assert.ErrorIs(t, err, omx.ErrBadParameter)

	require.NoError(t, h.c.FreeBuffer(InputPort, b))
	// a repeated free is ignored
	require.NoError(t, h.c.FreeBuffer(InputPort, b))
}

func TestBufferExchangeChecks(t *testing.T) {
	h := newHarness(t, "video_decoder.avc")
	other := newHarness(t, "video_decoder.avc")

	loadedIn := h.allocate(t, InputPort)
	assert.ErrorIs(t, h.c.EmptyThisBuffer(loadedIn[0]), omx.ErrIncorrectStateOperation)

	h.sendState(t, omx.StateIdle)
	out := h.allocate(t, OutputPort)
	h.fw.waitComplete(t, omx.CommandStateSet, uint32(omx.StateIdle))
	foreign := other.allocate(t, InputPort)

	tests := []struct {
		name string
		call func() error
		want error
	}{
		{"nil header", func() error { return h.c.EmptyThisBuffer(nil) }, omx.ErrBadParameter},
		{"foreign buffer", func() error { return h.c.EmptyThisBuffer(foreign[0]) }, ErrForeignBuffer},
		{"output header emptied", func() error { return h.c.EmptyThisBuffer(out[0]) }, ErrForeignBuffer},
		{"input header filled", func() error { return h.c.FillThisBuffer(loadedIn[0]) }, omx.ErrBadPortIndex},
		{"overlong payload", func() error {
			b := loadedIn[1]
			b.Offset, b.FilledLen = 10, b.AllocLen
			return h.c.EmptyThisBuffer(b)
		}, omx.ErrBadParameter},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.call(), tt.want)
		})
	}
}

func TestSetCallbacksLoadedOnly(t *testing.T) {
	h := newHarness(t, "video_decoder.avc")
	fw := &framework{}
	require.NoError(t, h.c.SetCallbacks(fw.callbacks()))

	h.sendState(t, omx.StateIdle)
	h.allocate(t, InputPort)
	h.allocate(t, OutputPort)
	fw.waitComplete(t, omx.CommandStateSet, uint32(omx.StateIdle))
	assert.Zero(t, h.fw.count(entryEvent))

	assert.ErrorIs(t, h.c.SetCallbacks(omx.Callbacks{}), omx.ErrIncorrectStateOperation)
}

func TestClose(t *testing.T) {
	h := newHarness(t, "video_decoder.avc")
	require.NoError(t, h.c.Close())
	require.NoError(t, h.c.Close())

	_, err := h.c.GetState()
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, h.c.SendCommand(omx.CommandStateSet, uint32(omx.StateIdle), nil), omx.ErrInvalidState)
	_, err = h.c.AllocateBuffer(InputPort, nil, minBitstreamBuffer)
	assert.ErrorIs(t, err, omx.ErrInvalidState)
}
