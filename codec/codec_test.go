package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/vpuomx/omx"
)

func TestNew(t *testing.T) {
	for _, coding := range Supported() {
		t.Run(coding.String(), func(t *testing.T) {
			v, err := New(coding)
			require.NoError(t, err)
			assert.Equal(t, coding, v.Coding())
			assert.NotEmpty(t, v.ProfileTable())
			assert.NoError(t, v.DefaultSettings().Validate(v))
		})
	}

	_, err := New(omx.CodingVP9)
	assert.ErrorIs(t, err, omx.ErrNotImplemented)
}

func TestAVCDPBSize(t *testing.T) {
	tests := []struct {
		name          string
		width, height uint32
		level         uint32
		want          int
	}{
		{"1080p_level41", 1920, 1080, AVCLevel41, 4},
		{"720p_level31", 1280, 720, AVCLevel31, 5},
		{"qcif_level1", 176, 144, AVCLevel1, 4},
		{"tiny_capped", 64, 64, AVCLevel51, 16},
		{"oversized_floor", 4096, 2304, AVCLevel1, 1},
		{"unknown_level", 1920, 1080, 0x3, 16},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, AVC{}.DPBSize(tt.width, tt.height, tt.level))
		})
	}
}

func TestHEVCDPBSize(t *testing.T) {
	h := HEVC{}
	assert.Equal(t, 6, h.DPBSize(1920, 1080, HEVCMainTierLevel41))
	assert.Equal(t, 16, h.DPBSize(640, 360, HEVCMainTierLevel41))
	assert.Equal(t, 12, h.DPBSize(1280, 720, HEVCMainTierLevel4))
}

func TestMinOutputBuffers(t *testing.T) {
	assert.Equal(t, uint32(5), MinOutputBuffers(AVC{}, 1920, 1080, AVCLevel41))
	assert.Equal(t, uint32(5), MinOutputBuffers(NewVP8Codec(), 640, 480, VP8LevelVersion0))
}

func TestConvertLevel(t *testing.T) {
	idc, err := AVC{}.ConvertLevel(AVCLevel41)
	require.NoError(t, err)
	assert.Equal(t, 41, idc)

	idc, err = HEVC{}.ConvertLevel(HEVCMainTierLevel51)
	require.NoError(t, err)
	assert.Equal(t, 153, idc)

	idc, err = NewVP8Codec().ConvertLevel(VP8LevelVersion2)
	require.NoError(t, err)
	assert.Equal(t, 2, idc)

	for _, v := range []Variant{AVC{}, HEVC{}, NewVP8Codec()} {
		_, err := v.ConvertLevel(0)
		assert.ErrorIs(t, err, omx.ErrBadParameter, v.Coding().String())
	}
}

func TestSupportsProfileLevel(t *testing.T) {
	assert.True(t, SupportsProfileLevel(AVC{}, AVCProfileHigh, AVCLevel4))
	assert.False(t, SupportsProfileLevel(AVC{}, AVCProfileHigh, AVCLevel52))
	assert.False(t, SupportsProfileLevel(AVC{}, AVCProfileExtended, AVCLevel3))
	assert.False(t, SupportsProfileLevel(AVC{}, AVCProfileMain, 0))
}

func TestAVCOptions(t *testing.T) {
	s := AVC{}.DefaultSettings()
	s.BFrames = 2
	o := AVC{}.Options(s)
	assert.True(t, o.Has(OptCABAC|OptLoopFilter|OptLoopFilterSliceBoundary|OptBFrames|OptTransform8x8))

	s.Profile = AVCProfileBaseline
	s.LoopFilter = omx.LoopFilterDisable
	assert.Equal(t, Options(0), AVC{}.Options(s))
}

func TestValidateFrameSize(t *testing.T) {
	tests := []struct {
		name          string
		v             Variant
		width, height uint32
		wantErr       bool
	}{
		{"avc_1080p", AVC{}, 1920, 1080, false},
		{"avc_odd", AVC{}, 1921, 1080, true},
		{"avc_empty", AVC{}, 0, 1080, true},
		{"hevc_unaligned", HEVC{}, 1924, 1080, true},
		{"hevc_4k", HEVC{}, 3840, 2160, false},
		{"vp8_too_small", NewVP8Codec(), 8, 8, true},
		{"vp8_vga", NewVP8Codec(), 640, 480, false},
		{"vp8_too_large", NewVP8Codec(), 16384, 16, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.v.ValidateFrameSize(tt.width, tt.height)
			if tt.wantErr {
				assert.ErrorIs(t, err, omx.ErrBadParameter)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDefaultBitrate(t *testing.T) {
	tests := []struct {
		width, height uint32
		want          uint32
	}{
		{160, 120, 64_000},
		{176, 144, 128_000},
		{1280, 720, 2_000_000},
		{1920, 1088, 8_000_000},
		{3840, 2160, 8_000_000},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, DefaultBitrate(tt.width, tt.height), "%dx%d", tt.width, tt.height)
	}
	assert.Equal(t, DefaultBitrate(1280, 720), NewVP8Codec().DefaultSettings().Bitrate)
}

func TestGOPRoundTrip(t *testing.T) {
	for p := 0; p < 40; p++ {
		for b := 0; b < 4; b++ {
			l, err := GOPLength(p, b)
			require.NoError(t, err)
			got, err := PFrames(l, b)
			require.NoError(t, err)
			assert.Equal(t, p, got, "p=%d b=%d", p, b)
		}
	}
}

func TestPFramesPreconditions(t *testing.T) {
	tests := []struct {
		name   string
		l, b   int
		want   int
		errors bool
	}{
		{"intra_only", 1, 0, 0, false},
		{"rounds_down", 10, 2, 2, false},
		{"b_equals_l", 3, 3, 0, true},
		{"b_exceeds_l", 2, 5, 0, true},
		{"negative_b", 30, -1, 0, true},
		{"zero_length", 0, 0, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := PFrames(tt.l, tt.b)
			if tt.errors {
				assert.ErrorIs(t, err, omx.ErrBadParameter)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := GOPLength(-1, 0)
	assert.ErrorIs(t, err, omx.ErrBadParameter)
}

func TestSettingsAVCConversion(t *testing.T) {
	var s Settings
	in := omx.AVCParams{
		PFrames: 14, BFrames: 1, Profile: AVCProfileMain, Level: AVCLevel4,
		RefFrames: 2, EntropyCABAC: true, LoopFilter: omx.LoopFilterDisableSliceBoundary,
	}
	require.NoError(t, s.ApplyAVC(in))
	assert.Equal(t, uint32(30), s.GOPLength)

	out, err := s.AVC(1)
	require.NoError(t, err)
	assert.Equal(t, in.PFrames, out.PFrames)
	assert.Equal(t, in.BFrames, out.BFrames)
	assert.Equal(t, in.Profile, out.Profile)
	assert.Equal(t, in.LoopFilter, out.LoopFilter)
	assert.Equal(t, uint32(1), out.PortIndex)
	assert.NoError(t, s.Validate(AVC{}))
}

func TestSettingsValidate(t *testing.T) {
	s := AVC{}.DefaultSettings()
	s.Level = AVCLevel52
	assert.ErrorIs(t, s.Validate(AVC{}), omx.ErrUnsupportedSetting)

	s = AVC{}.DefaultSettings()
	s.GOPLength, s.BFrames = 2, 2
	assert.ErrorIs(t, s.Validate(AVC{}), omx.ErrBadParameter)

	s = NewVP8Codec().DefaultSettings()
	s.DCTPartitions = 4
	assert.ErrorIs(t, s.Validate(NewVP8Codec()), omx.ErrBadParameter)
}
