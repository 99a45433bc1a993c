// Package logging builds the forwarder's slog.Logger from spec.md section
// 6's logging flags (--log-level, --log-position, --enable-color/
// --disable-color, --log-file).
//
// Grounded on the teacher's cmd/gobfd/main.go newLoggerWithLevel, which
// picks a slog.Handler by config format and wraps it in a dynamic
// slog.LevelVar for SIGHUP reload. This forwarder has no config-reload
// signal, so the level is a fixed slog.Level set once in New; the
// color variant is new, grounded on github.com/fatih/color (a direct
// dependency of this module, unlike the teacher's where color arrives
// only transitively through cobra).
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"

	"github.com/fatih/color"

	"github.com/vanenet/portmapd/internal/config"
)

// utf8BOM is written once at the start of a freshly created log file,
// matching original_source's log-file convention (spec.md section 6).
var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Options configures the logger built by New.
type Options struct {
	Level     config.LogLevel
	Position  bool
	Color     bool
	LogFile   string
}

// levelFor maps config's spec.md section 6 log-level scale onto slog's
// four-level scale; never/fatal/error collapse to slog.LevelError and
// trace collapses to slog.LevelDebug-4, since slog has no finer scale.
func levelFor(l config.LogLevel) slog.Level {
	switch l {
	case config.LogNever, config.LogFatal, config.LogError:
		return slog.LevelError
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogInfo:
		return slog.LevelInfo
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogTrace:
		return slog.LevelDebug - 4
	default:
		return slog.LevelInfo
	}
}

// New builds the logger and returns it alongside the opened log file (nil
// if --log-file was not given), which the caller must Close on shutdown.
func New(opts Options) (*slog.Logger, io.Closer, error) {
	var w io.Writer = os.Stderr
	var closer io.Closer

	if opts.LogFile != "" {
		info, statErr := os.Stat(opts.LogFile)
		needsBOM := statErr != nil || info.Size() == 0

		f, err := os.OpenFile(opts.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file %q: %w", opts.LogFile, err)
		}
		if needsBOM {
			if _, err := f.Write(utf8BOM); err != nil {
				f.Close()
				return nil, nil, fmt.Errorf("write BOM to log file %q: %w", opts.LogFile, err)
			}
		}
		w = io.MultiWriter(os.Stderr, f)
		closer = f
	}

	handlerOpts := &slog.HandlerOptions{Level: levelFor(opts.Level), AddSource: opts.Position}

	var h slog.Handler
	if opts.Color {
		h = newColorHandler(w, handlerOpts)
	} else {
		h = slog.NewTextHandler(w, handlerOpts)
	}

	return slog.New(h), closer, nil
}

// colorHandler is a slog.Handler that colors the level token the way a
// developer staring at a scrolling terminal wants: red errors, yellow
// warnings, green info, cyan debug/trace. Attribute formatting otherwise
// matches slog's own text handler (key=value, sorted by insertion order).
type colorHandler struct {
	w      io.Writer
	opts   *slog.HandlerOptions
	attrs  []slog.Attr
	groups []string
}

func newColorHandler(w io.Writer, opts *slog.HandlerOptions) *colorHandler {
	return &colorHandler{w: w, opts: opts}
}

func (h *colorHandler) Enabled(_ context.Context, level slog.Level) bool {
	min := slog.LevelInfo
	if h.opts != nil && h.opts.Level != nil {
		min = h.opts.Level.Level()
	}
	return level >= min
}

func (h *colorHandler) Handle(_ context.Context, r slog.Record) error {
	levelColor := colorFor(r.Level)
	line := fmt.Sprintf("time=%s level=%s msg=%q",
		r.Time.Format("2006-01-02T15:04:05.000Z07:00"),
		levelColor.Sprint(r.Level.String()),
		r.Message,
	)

	if h.opts != nil && h.opts.AddSource && r.PC != 0 {
		frame := sourceFrame(r.PC)
		if frame != "" {
			line += " source=" + frame
		}
	}

	for _, a := range h.attrs {
		line += " " + formatAttr(h.groups, a)
	}
	r.Attrs(func(a slog.Attr) bool {
		line += " " + formatAttr(h.groups, a)
		return true
	})

	_, err := fmt.Fprintln(h.w, line)
	return err
}

func (h *colorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := &colorHandler{w: h.w, opts: h.opts, groups: h.groups}
	next.attrs = append(append([]slog.Attr{}, h.attrs...), attrs...)
	return next
}

func (h *colorHandler) WithGroup(name string) slog.Handler {
	next := &colorHandler{w: h.w, opts: h.opts, attrs: h.attrs}
	next.groups = append(append([]string{}, h.groups...), name)
	return next
}

func formatAttr(groups []string, a slog.Attr) string {
	key := a.Key
	for i := len(groups) - 1; i >= 0; i-- {
		key = groups[i] + "." + key
	}
	return fmt.Sprintf("%s=%v", key, a.Value.Any())
}

func sourceFrame(pc uintptr) string {
	frames := runtime.CallersFrames([]uintptr{pc})
	frame, _ := frames.Next()
	if frame.File == "" {
		return ""
	}
	return fmt.Sprintf("%s:%d", frame.File, frame.Line)
}

func colorFor(l slog.Level) *color.Color {
	switch {
	case l >= slog.LevelError:
		return color.New(color.FgRed, color.Bold)
	case l >= slog.LevelWarn:
		return color.New(color.FgYellow)
	case l >= slog.LevelInfo:
		return color.New(color.FgGreen)
	default:
		return color.New(color.FgCyan)
	}
}
