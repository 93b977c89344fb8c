package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/colspan/wiiboard-simple/internal/calibration"
)

func NewCalibrationCommand() *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:     "calibration",
		Aliases: []string{"cali"},
		Short:   "Print the factory calibration stored on the board",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			sess := newSession(nil)
			if err := sess.Connect(ctx, cfg.Address); err != nil {
				return err
			}
			defer func() {
				if err := sess.Disconnect(); err != nil {
					slog.Warn("disconnect", "error", err)
				}
			}()

			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			m, err := waitCalibration(ctx, sess)
			if err != nil {
				return err
			}
			return printCalibration(os.Stdout, m)
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "how long to wait for the calibration to arrive")

	return cmd
}

var errCalibrationFailed = errors.New("board answered the calibration read with bad data")

// calibrationSource is the part of a session waitCalibration needs.
type calibrationSource interface {
	Calibration() (calibration.Matrix, bool)
	CalibrationPending() bool
	IsConnected() bool
}

// waitCalibration polls the session until the calibration is complete or the
// read ends without it.
func waitCalibration(ctx context.Context, sess calibrationSource) (calibration.Matrix, error) {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		if m, ok := sess.Calibration(); ok {
			return m, nil
		}
		if !sess.CalibrationPending() {
			return calibration.Matrix{}, errCalibrationFailed
		}
		select {
		case <-ctx.Done():
			return calibration.Matrix{}, fmt.Errorf("waiting for calibration: %w", ctx.Err())
		case <-ticker.C:
			if !sess.IsConnected() {
				return calibration.Matrix{}, errBoardDisconnected
			}
		}
	}
}

func printCalibration(w io.Writer, m calibration.Matrix) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprint(tw, "kg\t")
	for pad := calibration.Pad(0); pad < calibration.NumPads; pad++ {
		fmt.Fprintf(tw, "%s\t", pad)
	}
	fmt.Fprintln(tw)
	for row, kg := range calibration.ReferenceKg {
		fmt.Fprintf(tw, "%g\t", kg)
		for pad := 0; pad < calibration.NumPads; pad++ {
			fmt.Fprintf(tw, "%d\t", m[row][pad])
		}
		fmt.Fprintln(tw)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "%s %s\n", color.New(color.Bold).Sprint("fingerprint:"), m.Fingerprint())
	return err
}
