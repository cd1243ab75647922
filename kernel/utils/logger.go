package utils

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"
)

var levelColors = map[slog.Level]string{
	slog.LevelDebug: "\033[36m", // Cyan
	slog.LevelInfo:  "\033[32m", // Green
	slog.LevelWarn:  "\033[33m", // Yellow
	slog.LevelError: "\033[31m", // Red
}

const colorReset = "\033[0m"

// HandlerConfig configures a console handler
type HandlerConfig struct {
	Level      slog.Leveler
	Output     io.Writer
	Colorize   bool
	TimeFormat string
}

// Handler is a slog.Handler producing prettified console lines:
//
//	[15:04:05.000] [INFO ] [component] message key=value key=value
//
// A "component" attribute attached through With is lifted into the prefix.
type Handler struct {
	mu         *sync.Mutex
	output     io.Writer
	level      slog.Leveler
	colorize   bool
	timeFormat string
	component  string
	attrs      []slog.Attr
	groups     []string
}

// NewHandler creates a console handler with the given configuration
func NewHandler(config HandlerConfig) *Handler {
	if config.Output == nil {
		config.Output = os.Stdout
	}
	if config.TimeFormat == "" {
		config.TimeFormat = "15:04:05.000"
	}
	if config.Level == nil {
		config.Level = slog.LevelInfo
	}

	return &Handler{
		mu:         &sync.Mutex{},
		output:     config.Output,
		level:      config.Level,
		colorize:   config.Colorize,
		timeFormat: config.TimeFormat,
	}
}

// NewLogger wraps a console handler in a slog.Logger
func NewLogger(config HandlerConfig) *slog.Logger {
	return slog.New(NewHandler(config))
}

// DefaultLogger creates a logger with sensible defaults
func DefaultLogger(component string) *slog.Logger {
	return NewLogger(HandlerConfig{
		Level:    slog.LevelInfo,
		Output:   os.Stderr,
		Colorize: true,
	}).With("component", component)
}

// ParseLevel maps a textual level (debug, info, warn, error) to a slog.Level
func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo, WrapError(err, "invalid log level "+s)
	}
	return level, nil
}

// Enabled reports whether records at the given level are printed
func (h *Handler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

// WithAttrs returns a handler that appends attrs to every record
func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := h.clone()
	for _, a := range attrs {
		if a.Key == "component" && len(clone.groups) == 0 {
			clone.component = a.Value.String()
			continue
		}
		clone.attrs = append(clone.attrs, clone.qualify(a))
	}
	return clone
}

// WithGroup returns a handler that prefixes subsequent keys with name
func (h *Handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	clone := h.clone()
	clone.groups = append(clone.groups, name)
	return clone
}

// Handle formats and writes a single record
func (h *Handler) Handle(_ context.Context, r slog.Record) error {
	var builder strings.Builder

	if h.colorize {
		builder.WriteString(colorFor(r.Level))
	}

	timestamp := r.Time
	if timestamp.IsZero() {
		timestamp = time.Now()
	}
	builder.WriteString("[")
	builder.WriteString(timestamp.Format(h.timeFormat))
	builder.WriteString("] ")

	builder.WriteString("[")
	builder.WriteString(fmt.Sprintf("%-5s", r.Level.String()))
	builder.WriteString("] ")

	if h.component != "" {
		builder.WriteString("[")
		builder.WriteString(h.component)
		builder.WriteString("] ")
	}

	builder.WriteString(r.Message)

	for _, a := range h.attrs {
		writeAttr(&builder, a)
	}
	r.Attrs(func(a slog.Attr) bool {
		writeAttr(&builder, h.qualify(a))
		return true
	})

	if h.colorize {
		builder.WriteString(colorReset)
	}
	builder.WriteString("\n")

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.output, builder.String())
	return err
}

func (h *Handler) clone() *Handler {
	return &Handler{
		mu:         h.mu,
		output:     h.output,
		level:      h.level,
		colorize:   h.colorize,
		timeFormat: h.timeFormat,
		component:  h.component,
		attrs:      append([]slog.Attr(nil), h.attrs...),
		groups:     append([]string(nil), h.groups...),
	}
}

func (h *Handler) qualify(a slog.Attr) slog.Attr {
	if len(h.groups) == 0 {
		return a
	}
	a.Key = strings.Join(h.groups, ".") + "." + a.Key
	return a
}

func colorFor(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return levelColors[slog.LevelError]
	case level >= slog.LevelWarn:
		return levelColors[slog.LevelWarn]
	case level >= slog.LevelInfo:
		return levelColors[slog.LevelInfo]
	default:
		return levelColors[slog.LevelDebug]
	}
}

func writeAttr(b *strings.Builder, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}
	if a.Value.Kind() == slog.KindGroup {
		for _, inner := range a.Value.Group() {
			if a.Key != "" {
				inner.Key = a.Key + "." + inner.Key
			}
			writeAttr(b, inner)
		}
		return
	}
	b.WriteString(" ")
	b.WriteString(a.Key)
	b.WriteString("=")
	b.WriteString(formatValue(a.Value))
}

// formatValue formats an attribute value
func formatValue(v slog.Value) string {
	switch v.Kind() {
	case slog.KindString:
		return fmt.Sprintf("%q", v.String())
	case slog.KindDuration:
		return v.Duration().String()
	case slog.KindTime:
		return v.Time().Format(time.RFC3339)
	case slog.KindAny:
		if err, ok := v.Any().(error); ok {
			return fmt.Sprintf("%q", err.Error())
		}
		return fmt.Sprintf("%v", v.Any())
	default:
		return v.String()
	}
}
