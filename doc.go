// Package vpuomx is the entry point of a video codec component library
// that exposes a hardware-style encoder and decoder through an OpenMAX IL
// shaped control plane.
//
// The package holds the static component table. Components are looked up by
// name and created on an engine.Engine, which is either a real VPU binding or
// the software engine in engine/soft:
//
//	eng := soft.New(soft.DefaultConfig())
//	c, err := vpuomx.GetHandle("OMX.vpu.video_decoder.avc", eng, omx.Callbacks{
//		EventHandler:    onEvent,
//		EmptyBufferDone: onEmptied,
//		FillBufferDone:  onFilled,
//	})
//	if err != nil {
//		return err
//	}
//	defer vpuomx.FreeHandle(c)
//
// Enumeration follows the usual index walk:
//
//	for i := uint32(0); ; i++ {
//		name, err := vpuomx.ComponentNameEnum(i)
//		if errors.Is(err, omx.ErrNoMore) {
//			break
//		}
//		roles, _ := vpuomx.GetRolesOfComponent(name)
//		fmt.Println(name, roles)
//	}
//
// # Packages
//
//   - omx: shared types, parameter structures and error codes
//   - component: the state machine, ports and parameter handling
//   - pipeline: decode and encode buffer processing against an engine
//   - port: buffer bookkeeping for one port
//   - checker: state and parameter precondition tables
//   - codec: per-codec profiles, levels and frame size rules
//   - engine: the engine contract and its software implementation
//   - config: YAML and environment configuration
//   - metrics: Prometheus collectors
//
// The cmd/vpusim command runs complete sessions against the software engine.
package vpuomx
