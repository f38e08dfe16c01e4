package clog

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/fatih/color"
)

// Leading columns printed before the message, in order, when present.
var (
	ConnectColumns   = []string{"method", "stream_type", "procedure"}
	HTTPColumns      = []string{"proto", "method", "path", "status"}
	SchedulerColumns = []string{"workflow_id", "trigger", "action"}
)

type TextHandlerConfig struct {
	Color   bool
	Level   *slog.Level
	Columns []string
}

type TextHandlerOption func(*TextHandlerConfig)

func WithColor(c bool) TextHandlerOption {
	return func(cfg *TextHandlerConfig) {
		cfg.Color = c
	}
}

func WithLevel(level slog.Level) TextHandlerOption {
	return func(cfg *TextHandlerConfig) {
		cfg.Level = &level
	}
}

func WithColumns(columns ...string) TextHandlerOption {
	return func(cfg *TextHandlerConfig) {
		cfg.Columns = append(cfg.Columns, columns...)
	}
}

// TextHandler writes human-oriented, colored multi-line records. It is
// meant for local development; production uses slog.JSONHandler.
type TextHandler struct {
	cfg    TextHandlerConfig
	groups []string
	attrs  []slog.Attr
	mu     *sync.Mutex
	w      io.Writer
}

func NewTextHandler(w io.Writer, opts ...TextHandlerOption) *TextHandler {
	cfg := TextHandlerConfig{
		Color: true,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &TextHandler{
		cfg: cfg,
		mu:  &sync.Mutex{},
		w:   w,
	}
}

func (h *TextHandler) clone() *TextHandler {
	nh := *h
	nh.groups = append([]string(nil), h.groups...)
	nh.attrs = append([]slog.Attr(nil), h.attrs...)
	return &nh
}

func (h *TextHandler) Enabled(_ context.Context, l slog.Level) bool {
	minLevel := slog.LevelInfo
	if h.cfg.Level != nil {
		minLevel = h.cfg.Level.Level()
	}
	return l >= minLevel
}

func (h *TextHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	nh := h.clone()
	nh.groups = append(nh.groups, name)
	return nh
}

func (h *TextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	nh := h.clone()
	nh.attrs = append(nh.attrs, attrs...)
	return nh
}

func (h *TextHandler) Handle(_ context.Context, record slog.Record) error {
	buf := bytes.NewBuffer(make([]byte, 0, 1024))
	paint := func(attrs ...color.Attribute) *color.Color {
		c := color.New(attrs...)
		if h.cfg.Color {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
		return c
	}

	plain := paint()
	if _, err := plain.Fprintf(buf, "%s ", record.Time.Format(time.RFC3339)); err != nil {
		return fmt.Errorf("can't write time: %w", err)
	}
	if _, err := paint(levelColor(record.Level)).Fprintf(buf, "%s ", record.Level); err != nil {
		return fmt.Errorf("can't write level: %w", err)
	}

	kv := map[string]slog.Value{}
	for _, attr := range h.attrs {
		kv[attr.Key] = attr.Value
	}
	record.Attrs(func(attr slog.Attr) bool {
		kv[attr.Key] = attr.Value
		return true
	})
	for _, key := range h.cfg.Columns {
		if v, ok := kv[key]; ok {
			if _, err := plain.Fprintf(buf, "%s ", v); err != nil {
				return fmt.Errorf("can't write %s: %w", key, err)
			}
			delete(kv, key)
		}
	}

	msg := paint(color.FgGreen)
	if v, ok := kv["code"]; ok {
		delete(kv, "code")
		if _, err := msg.Fprintf(buf, "[%s] ", v); err != nil {
			return fmt.Errorf("can't write code: %w", err)
		}
	}
	if _, err := msg.Fprint(buf, record.Message); err != nil {
		return fmt.Errorf("can't write message: %w", err)
	}
	if e, ok := kv[ErrorAttributeKey]; ok {
		delete(kv, ErrorAttributeKey)
		if _, err := paint(color.FgRed).Fprintf(buf, " %q", e.String()); err != nil {
			return fmt.Errorf("can't write err: %w", err)
		}
	}
	buf.WriteByte('\n')

	keys := make([]string, 0, len(kv))
	for k := range kv {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if _, err := plain.Fprintf(buf, "    %s=%s\n", k, kv[k]); err != nil {
			return fmt.Errorf("can't write %s: %w", k, err)
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := h.w.Write(buf.Bytes())
	return err
}

func levelColor(l slog.Level) color.Attribute {
	switch {
	case l >= slog.LevelError:
		return color.FgRed
	case l >= slog.LevelWarn:
		return color.FgYellow
	case l >= slog.LevelInfo:
		return color.FgBlue
	default:
		return color.FgCyan
	}
}
