package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	ansiReset  = "\033[0m"
	ansiBold   = "\033[1m"
	ansiRed    = "\033[31m"
	ansiYellow = "\033[33m"
	ansiBlue   = "\033[34m"
	ansiCyan   = "\033[36m"
	ansiGray   = "\033[90m"
)

// prettyHandler renders records as single colored lines for terminal use:
// [time] LEVEL message key=value. Derived handlers share the writer lock.
type prettyHandler struct {
	mu     *sync.Mutex
	out    io.Writer
	level  slog.Leveler
	prefix string      // dotted group path applied to attribute keys
	attrs  []slog.Attr // bound via WithAttrs
}

// NewPrettyHandler creates a terminal handler. opts may be nil; only the
// Level option is honored.
func NewPrettyHandler(w io.Writer, opts *slog.HandlerOptions) slog.Handler {
	h := &prettyHandler{mu: &sync.Mutex{}, out: w}
	if opts != nil {
		h.level = opts.Level
	}
	return h
}

func (h *prettyHandler) Enabled(_ context.Context, level slog.Level) bool {
	min := slog.LevelInfo
	if h.level != nil {
		min = h.level.Level()
	}
	return level >= min
}

func (h *prettyHandler) Handle(_ context.Context, r slog.Record) error {
	var b strings.Builder

	b.WriteString(ansiGray)
	b.WriteByte('[')
	b.WriteString(r.Time.Format(time.DateTime))
	b.WriteByte(']')
	b.WriteString(ansiReset)
	b.WriteByte(' ')

	b.WriteString(levelColor(r.Level))
	b.WriteString(ansiBold)
	fmt.Fprintf(&b, "%-5s", r.Level.String())
	b.WriteString(ansiReset)
	b.WriteByte(' ')

	b.WriteString(r.Message)

	if len(h.attrs) > 0 || r.NumAttrs() > 0 {
		b.WriteByte(' ')
		b.WriteString(ansiCyan)
		first := true
		emit := func(a slog.Attr) {
			if !first {
				b.WriteByte(' ')
			}
			first = false
			writeAttr(&b, a, h.prefix)
		}
		for _, a := range h.attrs {
			emit(a)
		}
		r.Attrs(func(a slog.Attr) bool {
			emit(a)
			return true
		})
		b.WriteString(ansiReset)
	}
	b.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.out, b.String())
	return err
}

func (h *prettyHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	c := *h
	c.attrs = append(append([]slog.Attr(nil), h.attrs...), attrs...)
	return &c
}

func (h *prettyHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	c := *h
	if h.prefix != "" {
		c.prefix = h.prefix + "." + name
	} else {
		c.prefix = name
	}
	return &c
}

func levelColor(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return ansiRed
	case level >= slog.LevelWarn:
		return ansiYellow
	case level >= slog.LevelInfo:
		return ansiBlue
	default:
		return ansiGray
	}
}

// writeAttr formats one attribute as key=value. The handler's group path
// prefixes the key; keys inside a group value stay bare.
func writeAttr(b *strings.Builder, a slog.Attr, prefix string) {
	if prefix != "" {
		b.WriteString(prefix)
		b.WriteByte('.')
	}
	b.WriteString(a.Key)
	b.WriteByte('=')

	v := a.Value.Resolve()
	switch v.Kind() {
	case slog.KindString:
		s := v.String()
		if strings.ContainsAny(s, " \t\n\"") {
			b.WriteString(strconv.Quote(s))
		} else {
			b.WriteString(s)
		}
	case slog.KindTime:
		b.WriteString(v.Time().Format(time.RFC3339))
	case slog.KindGroup:
		b.WriteByte('{')
		for i, ga := range v.Group() {
			if i > 0 {
				b.WriteByte(' ')
			}
			writeAttr(b, ga, "")
		}
		b.WriteByte('}')
	default:
		fmt.Fprint(b, v.Any())
	}
}
