// ABOUTME: Logger setup for the coven-inbox CLI
// ABOUTME: JSON for machines, compact colorized lines tagged by component for terminals

package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/fatih/color"

	"github.com/2389/coven-inbox/internal/config"
)

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	return newLogger(os.Stderr, cfg)
}

// newLogger writes to w. Command output owns stdout, so callers pass stderr.
func newLogger(w io.Writer, cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}

	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
	}
	return slog.New(&colorHandler{out: w, mu: &sync.Mutex{}, level: level})
}

func levelTag(l slog.Level) string {
	switch {
	case l < slog.LevelInfo:
		return color.MagentaString("DBG")
	case l < slog.LevelWarn:
		return color.CyanString("INF")
	case l < slog.LevelError:
		return color.YellowString("WRN")
	default:
		return color.New(color.FgRed, color.Bold).Sprint("ERR")
	}
}

// colorHandler prints "15:04:05 LVL [component] message key=value ...".
// Attrs added through WithAttrs are rendered once, when the derived handler is built.
type colorHandler struct {
	out       io.Writer
	mu        *sync.Mutex // shared with derived handlers
	level     slog.Level
	component string
	fixed     string // pre-rendered attrs from WithAttrs
	prefix    string // open groups, "a.b."
}

func (h *colorHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *colorHandler) Handle(_ context.Context, r slog.Record) error {
	var b strings.Builder
	b.WriteString(color.HiBlackString(r.Time.Format("15:04:05")))
	b.WriteByte(' ')
	b.WriteString(levelTag(r.Level))
	if h.component != "" {
		b.WriteString(color.BlueString(" [" + h.component + "]"))
	}
	b.WriteByte(' ')
	b.WriteString(r.Message)
	b.WriteString(h.fixed)
	r.Attrs(func(a slog.Attr) bool {
		writeAttr(&b, h.prefix, a)
		return true
	})
	b.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.out, b.String())
	return err
}

func (h *colorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	var b strings.Builder
	b.WriteString(h.fixed)
	for _, a := range attrs {
		if a.Key == "component" && h.prefix == "" {
			next.component = a.Value.String()
			continue
		}
		writeAttr(&b, h.prefix, a)
	}
	next.fixed = b.String()
	return &next
}

func (h *colorHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	next := *h
	next.prefix = h.prefix + name + "."
	return &next
}

func writeAttr(b *strings.Builder, prefix string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}
	if a.Value.Kind() == slog.KindGroup {
		for _, ga := range a.Value.Group() {
			writeAttr(b, prefix+a.Key+".", ga)
		}
		return
	}
	b.WriteString(color.HiBlackString(" " + prefix + a.Key + "="))
	b.WriteString(a.Value.String())
}
