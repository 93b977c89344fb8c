package main

import (
	"encoding/csv"
	"io"
	"strconv"

	"github.com/colspan/wiiboard-simple/internal/board"
)

const recordTimeFormat = "2006-01-02 15:04:05.000000"

// recorder appends mass reports to a CSV log, one row per report.
type recorder struct {
	w      *csv.Writer
	header bool
}

func newRecorder(w io.Writer) *recorder {
	return &recorder{w: csv.NewWriter(w)}
}

func (r *recorder) Write(ev board.MassEvent) error {
	if !r.header {
		if err := r.w.Write([]string{"time", "top_left", "top_right", "bottom_left", "bottom_right", "total"}); err != nil {
			return err
		}
		r.header = true
	}
	return r.w.Write([]string{
		ev.Time.Format(recordTimeFormat),
		formatKg(ev.TopLeft),
		formatKg(ev.TopRight),
		formatKg(ev.BottomLeft),
		formatKg(ev.BottomRight),
		formatKg(ev.Total),
	})
}

func (r *recorder) Flush() error {
	r.w.Flush()
	return r.w.Error()
}

func formatKg(v float64) string {
	return strconv.FormatFloat(v, 'f', 3, 64)
}

