package component

import (
	"fmt"
	"strings"

	"github.com/opd-ai/vpuomx/codec"
	"github.com/opd-ai/vpuomx/omx"
)

// Kind is the processing direction of a component.
type Kind int

const (
	KindDecoder Kind = iota
	KindEncoder
)

// String returns "decoder" or "encoder".
func (k Kind) String() string {
	if k == KindEncoder {
		return "encoder"
	}
	return "decoder"
}

// NamePrefix starts the default name of every component, which is followed
// by its role.
const NamePrefix = "OMX.vpu."

// Role is a parsed standard component role such as "video_decoder.avc".
type Role struct {
	Name   string
	Kind   Kind
	Coding omx.Coding
}

var rolePrefixes = map[string]Kind{
	"video_decoder": KindDecoder,
	"video_encoder": KindEncoder,
}

// ParseRole resolves a role name. Only codecs with a codec.Variant are accepted.
func ParseRole(name string) (Role, error) {
	prefix, short, ok := strings.Cut(name, ".")
	if !ok {
		return Role{}, fmt.Errorf("%w: %q", ErrUnknownRole, name)
	}
	kind, ok := rolePrefixes[prefix]
	if !ok {
		return Role{}, fmt.Errorf("%w: %q", ErrUnknownRole, name)
	}
	for _, coding := range codec.Supported() {
		if coding.String() == short {
			return Role{Name: name, Kind: kind, Coding: coding}, nil
		}
	}
	return Role{}, fmt.Errorf("%w: %q", ErrUnknownRole, name)
}

// Roles lists every role New accepts, decoders first.
func Roles() []Role {
	var roles []Role
	for _, kind := range []Kind{KindDecoder, KindEncoder} {
		for _, coding := range codec.Supported() {
			roles = append(roles, Role{
				Name:   fmt.Sprintf("video_%s.%s", kind, coding),
				Kind:   kind,
				Coding: coding,
			})
		}
	}
	return roles
}

// mimeType returns the MIME type advertised on a compressed port.
func mimeType(coding omx.Coding) string {
	switch coding {
	case omx.CodingAVC:
		return "video/avc"
	case omx.CodingHEVC:
		return "video/hevc"
	case omx.CodingVP8:
		return "video/x-vnd.on2.vp8"
	default:
		return "video/raw"
	}
}
