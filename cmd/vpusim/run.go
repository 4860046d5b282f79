package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/opd-ai/vpuomx"
	"github.com/opd-ai/vpuomx/component"
	"github.com/opd-ai/vpuomx/engine/soft"
	"github.com/opd-ai/vpuomx/internal/session"
	"github.com/opd-ai/vpuomx/metrics"
	"github.com/opd-ai/vpuomx/omx"
)

// runFlags are shared by the session commands.
type runFlags struct {
	codec    string
	frames   int
	interval time.Duration
	timeout  time.Duration
}

func (f *runFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.codec, "codec", "k", "avc", "codec: avc, hevc or vp8")
	cmd.Flags().IntVarP(&f.frames, "frames", "n", 30, "frames to process before end of stream")
	cmd.Flags().DurationVar(&f.interval, "interval", 33333*time.Microsecond, "timestamp step between frames")
	cmd.Flags().DurationVar(&f.timeout, "timeout", 10*time.Second, "limit for each state transition")
}

func (f *runFlags) session() session.Config {
	return session.Config{
		Frames:   f.frames,
		Interval: f.interval.Microseconds(),
		Timeout:  f.timeout,
	}
}

func componentName(encoder bool, codec string) string {
	kind := component.KindDecoder
	if encoder {
		kind = component.KindEncoder
	}
	return fmt.Sprintf("%svideo_%s.%s", component.NamePrefix, kind, codec)
}

func (a *app) sessionCommand(use, short string, encoder bool) *cobra.Command {
	var f runFlags
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			name := componentName(encoder, f.codec)
			return a.withEngine(cmd.Context(), func(ctx context.Context, eng *soft.Engine, m *metrics.Metrics) error {
				sum, err := a.runOne(ctx, eng, m, name, f.session())
				if err != nil {
					return err
				}
				printSummary(cmd.OutOrStdout(), name, sum)
				return nil
			})
		},
	}
	f.register(cmd)
	return cmd
}

func (a *app) loopbackCommand() *cobra.Command {
	var f runFlags
	cmd := &cobra.Command{
		Use:   "loopback",
		Short: "Encode synthetic pictures and decode the resulting stream",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withEngine(cmd.Context(), func(ctx context.Context, eng *soft.Engine, m *metrics.Metrics) error {
				var stream session.Capture
				encName := componentName(true, f.codec)
				enc := f.session()
				enc.Sink = stream.Sink
				sum, err := a.runOne(ctx, eng, m, encName, enc)
				if err != nil {
					return err
				}
				printSummary(cmd.OutOrStdout(), encName, sum)

				decName := componentName(false, f.codec)
				dec := f.session()
				dec.Frames = stream.Len()
				dec.Source = stream.Source
				sum, err = a.runOne(ctx, eng, m, decName, dec)
				if err != nil {
					return err
				}
				printSummary(cmd.OutOrStdout(), decName, sum)
				return nil
			})
		},
	}
	f.register(cmd)
	return cmd
}

func (a *app) runOne(ctx context.Context, eng *soft.Engine, m *metrics.Metrics, name string, sc session.Config) (session.Summary, error) {
	c, err := vpuomx.GetHandle(name, eng, omx.Callbacks{}, a.cfg.ComponentOptions(m)...)
	if err != nil {
		return session.Summary{}, err
	}
	defer func() {
		if err := vpuomx.FreeHandle(c); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "runOne",
				"name":     name,
				"error":    err.Error(),
			}).Warn("Failed to free component")
		}
	}()

	s, err := session.New(c, sc)
	if err != nil {
		return session.Summary{}, err
	}
	return s.Run(ctx)
}

// withEngine builds the software engine and, when enabled, serves metrics
// for as long as fn runs.
func (a *app) withEngine(ctx context.Context, fn func(context.Context, *soft.Engine, *metrics.Metrics) error) error {
	eng := soft.New(a.cfg.SoftEngine())
	if !a.cfg.Metrics.Enabled {
		return fn(ctx, eng, nil)
	}

	registry := prometheus.NewRegistry()
	m, err := metrics.New(registry)
	if err != nil {
		return err
	}
	mux := http.NewServeMux()
	mux.Handle(a.cfg.Metrics.Path, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	srv := &http.Server{
		Addr:              a.cfg.Metrics.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logrus.WithFields(logrus.Fields{
			"function": "withEngine",
			"listen":   srv.Addr,
			"path":     a.cfg.Metrics.Path,
		}).Info("Serving metrics")
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		defer func() {
			shutdown, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdown)
		}()
		return fn(gctx, eng, m)
	})
	return g.Wait()
}

func printSummary(w io.Writer, name string, sum session.Summary) {
	fmt.Fprintf(w, "%s\n", name)
	fmt.Fprintf(w, "  inputs:        %d\n", sum.Inputs)
	fmt.Fprintf(w, "  outputs:       %d\n", sum.Outputs)
	fmt.Fprintf(w, "  output bytes:  %d\n", sum.OutputBytes)
	if sum.CodecConfigs > 0 || sum.SyncFrames > 0 {
		fmt.Fprintf(w, "  codec config:  %d\n", sum.CodecConfigs)
		fmt.Fprintf(w, "  sync frames:   %d\n", sum.SyncFrames)
	}
	fmt.Fprintf(w, "  last stamp:    %dus\n", sum.LastStamp)
	fmt.Fprintf(w, "  elapsed:       %s\n", sum.Elapsed.Round(time.Microsecond))

	types := make([]int, 0, len(sum.Events))
	for t := range sum.Events {
		types = append(types, int(t))
	}
	sort.Ints(types)
	for _, t := range types {
		et := omx.EventType(t)
		fmt.Fprintf(w, "  %s events: %d\n", et, sum.Events[et])
	}
}
