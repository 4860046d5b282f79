// Command vpusim runs complete decode and encode sessions against the
// software engine.
//
//	vpusim roles
//	vpusim decode --codec hevc --frames 60
//	vpusim encode --config vpusim.yaml
//	vpusim loopback --codec vp8
//	vpusim config --write vpusim.yaml
//
// Settings come from the YAML file named by --config and from VPUOMX_
// environment variables, e.g. VPUOMX_ENGINE_FRAME_DELAY=5ms.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCommand().ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}
