package main

import (
	"fmt"
	"io"
	"math"
	"os"
	"strings"
	"sync/atomic"

	"github.com/fatih/color"
	"github.com/srg/vitalink/pkg/client"
	"github.com/srg/vitalink/pkg/session"
	"golang.org/x/term"
)

const defaultViewWidth = 72

var sparkRunes = []rune("▁▂▃▄▅▆▇█")

// Sparkline maps samples onto block characters scaled to [min, max],
// keeping only the newest width samples.
func Sparkline(samples []float64, min, max float64, width int) string {
	if width > 0 && len(samples) > width {
		samples = samples[len(samples)-width:]
	}
	span := max - min
	var b strings.Builder
	for _, v := range samples {
		idx := 0
		if span > 0 {
			idx = int(math.Round((v - min) / span * float64(len(sparkRunes)-1)))
		}
		if idx < 0 {
			idx = 0
		}
		if idx >= len(sparkRunes) {
			idx = len(sparkRunes) - 1
		}
		b.WriteRune(sparkRunes[idx])
	}
	return b.String()
}

// liveView renders the streaming screen. On a terminal it redraws in place;
// otherwise only the final summary is printed.
type liveView struct {
	out   io.Writer
	tty   bool
	width int
	lines int
	spark string

	label   *color.Color
	good    *color.Color
	bad     *color.Color
	warning *color.Color
}

func newLiveView(out io.Writer) *liveView {
	v := &liveView{
		out:     out,
		width:   defaultViewWidth,
		label:   color.New(color.Bold),
		good:    color.New(color.FgGreen),
		bad:     color.New(color.FgRed, color.Bold),
		warning: color.New(color.FgYellow),
	}
	if f, ok := out.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		v.tty = true
		if w, _, err := term.GetSize(int(f.Fd())); err == nil && w > 20 {
			v.width = w - 12
		}
	}
	return v
}

// Render implements session.Renderer.
func (v *liveView) Render(samples []float64, min, max float64) {
	v.spark = Sparkline(samples, min, max, v.width)
}

func (v *liveView) statusColor(s session.Status) *color.Color {
	switch s {
	case session.StatusStreaming:
		return v.good
	case session.StatusError, session.StatusDisconnected:
		return v.bad
	default:
		return v.warning
	}
}

func (v *liveView) screen(st session.Stats) []string {
	rec := "off"
	if st.Recording {
		rec = v.bad.Sprintf("REC %d rows", st.RecordedRows)
	}
	sample := "-"
	if st.LastSample != nil {
		sample = st.LastSample.String()
	}
	return []string{
		fmt.Sprintf("%s %s  %s", v.label.Sprint("Device:"), st.Device.DisplayName(), v.statusColor(st.Status).Sprint(st.Status)),
		fmt.Sprintf("%s %d  %s %d  %s %s", v.label.Sprint("Packets:"), st.Packets, v.label.Sprint("MTU:"), st.MTU, v.label.Sprint("Recording:"), rec),
		fmt.Sprintf("%s %s", v.label.Sprint("Wave:"), v.spark),
		fmt.Sprintf("%s %s", v.label.Sprint("Hex:"), st.LastHex),
		fmt.Sprintf("%s %s", v.label.Sprint("Sample:"), sample),
	}
}

// Draw repaints the screen in place. It is a no-op when not on a terminal.
func (v *liveView) Draw(st session.Stats) {
	if !v.tty {
		return
	}
	if v.lines > 0 {
		fmt.Fprintf(v.out, "\033[%dA", v.lines)
	}
	lines := v.screen(st)
	for _, l := range lines {
		fmt.Fprintf(v.out, "\r\033[K%s\n", l)
	}
	v.lines = len(lines)
}

// Summary prints the final state once.
func (v *liveView) Summary(st session.Stats) {
	fmt.Fprintf(v.out, "%s %s: %d packets, status %s\n", v.label.Sprint("Session"), st.Device.DisplayName(), st.Packets, st.Status)
	if st.DecodeErrors > 0 {
		fmt.Fprintf(v.out, "%d packet(s) could not be decoded\n", st.DecodeErrors)
	}
	if st.LastSaved != "" {
		fmt.Fprintf(v.out, "Recording saved to %s\n", st.LastSaved)
	}
}

// terminalAlerter reports a lost connection with a bell and a red banner.
type terminalAlerter struct {
	out  io.Writer
	lost atomic.Bool
}

func (a *terminalAlerter) ConnectionLost(ev client.DisconnectEvent) {
	a.lost.Store(true)
	banner := color.New(color.FgRed, color.Bold)
	fmt.Fprintf(a.out, "\a\n%s\n", banner.Sprintf("Connection to %s lost", ev.Device.DisplayName()))
}

func (a *terminalAlerter) Lost() bool { return a.lost.Load() }
