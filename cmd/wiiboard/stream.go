package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/colspan/wiiboard-simple/internal/board"
	"github.com/colspan/wiiboard-simple/internal/metrics"
	"github.com/colspan/wiiboard-simple/internal/stepcount"
)

var errBoardDisconnected = errors.New("board disconnected")

func NewStreamCommand() *cobra.Command {
	var (
		metricsListen string
		recordPath    string
		printAll      bool
	)

	cmd := &cobra.Command{
		Use:   "stream",
		Short: "Stream weight, steps and balance until interrupted",
		Long: `Connect to the board and print a line for every step, with the running
left/right balance. Pressing the board's button resets the counter.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if metricsListen == "" {
				metricsListen = cfg.Metrics.Listen
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			reg := metrics.NewRegistry()
			m := metrics.New(reg)
			if metricsListen != "" {
				srv := startMetricsServer(metricsListen, reg)
				defer func() {
					shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
					defer cancel()
					_ = srv.Shutdown(shutdownCtx)
				}()
			}

			var rec *recorder
			if recordPath != "" {
				f, err := os.Create(recordPath)
				if err != nil {
					return fmt.Errorf("creating record file: %w", err)
				}
				defer f.Close()
				rec = newRecorder(f)
				defer func() {
					if err := rec.Flush(); err != nil {
						slog.Error("flushing record file", "error", err)
					}
				}()
			}

			sess := newSession(m)
			if err := sess.Connect(ctx, cfg.Address); err != nil {
				return err
			}
			defer func() {
				if err := sess.Disconnect(); err != nil {
					slog.Warn("disconnect", "error", err)
				}
			}()

			if cfg.Light {
				if err := sess.SetLight(true); err != nil {
					slog.Warn("could not switch on light", "error", err)
				}
				defer func() { _ = sess.SetLight(false) }()
			}

			// the reply fills in the battery level shown by --print-all
			if err := sess.RequestStatus(); err != nil {
				slog.Warn("could not request status", "error", err)
			}

			st := &streamer{
				out:      os.Stdout,
				counter:  stepcount.New(cfg.Steps.MinWeight, cfg.Steps.Window),
				rec:      rec,
				printAll: printAll,
				battery:  sess.Battery,
			}
			fmt.Fprintln(os.Stderr, "Ready! Step on the board. Press the board button to reset, Ctrl+C to quit.")
			return st.run(ctx, sess.Events())
		},
	}

	cmd.Flags().StringVar(&metricsListen, "metrics-listen", "", "address for the Prometheus /metrics endpoint, e.g. :9100; overrides the config file")
	cmd.Flags().StringVar(&recordPath, "record", "", "write every mass report to this CSV file")
	cmd.Flags().BoolVar(&printAll, "print-all", false, "print every mass report, not only steps, with centre of pressure and battery")

	return cmd
}

// streamer prints steps and balance from session events. rec and battery are
// optional.
type streamer struct {
	out      io.Writer
	counter  *stepcount.Counter
	rec      *recorder
	printAll bool
	battery  func() (byte, bool)
}

// run consumes session events until ctx is done or the board drops.
func (s *streamer) run(ctx context.Context, events <-chan board.Event) error {
	for {
		select {
		case <-ctx.Done():
			slog.Info("shutting down")
			return nil

		case ev := <-events:
			switch ev.Type {
			case board.EventDisconnected:
				return errBoardDisconnected

			case board.EventButtonPressed:
				s.counter.Reset()
				fmt.Fprintln(s.out, color.New(color.Bold, color.FgYellow).Sprint("reset"))

			case board.EventMass:
				if s.rec != nil {
					if err := s.rec.Write(ev.Mass); err != nil {
						return err
					}
				}
				stepped := s.counter.Update(ev.Mass)
				if stepped || s.printAll {
					s.printMass(ev.Mass)
				}
			}
		}
	}
}

func (s *streamer) printMass(ev board.MassEvent) {
	var b strings.Builder
	fmt.Fprintf(&b, "total %6.1fkg  steps %s", ev.Total, color.New(color.Bold).Sprintf("%d", s.counter.Steps()))
	if left, right, ok := s.counter.Balance(); ok {
		fmt.Fprintf(&b, "  left %s  right %s", balanceString(left), balanceString(right))
	}
	if s.printAll {
		if x, y, ok := stepcount.Center(ev); ok {
			fmt.Fprintf(&b, "  center %.2f,%.2f", x, y)
		}
		if s.battery != nil {
			if level, ok := s.battery(); ok {
				fmt.Fprintf(&b, "  battery 0x%02x", level)
			}
		}
		if len(ev.FailedPads) > 0 {
			fmt.Fprintf(&b, "  uncalibrated %s", color.RedString("%v", ev.FailedPads))
		}
	}
	fmt.Fprintln(s.out, b.String())
}

// balanceString highlights a side carrying more than 60% of the weight.
func balanceString(pct float64) string {
	s := fmt.Sprintf("%5.1f%%", pct)
	if pct > 60 {
		return color.RedString(s)
	}
	return color.GreenString(s)
}

func startMetricsServer(listen string, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(reg))
	srv := &http.Server{Addr: listen, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		slog.Info("serving metrics", "listen", listen)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server", "error", err)
		}
	}()
	return srv
}
