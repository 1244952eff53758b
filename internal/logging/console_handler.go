package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-isatty"
)

const consoleTimeFormat = "15:04:05"

// consoleHandler renders compact, human-readable records for interactive use.
// Attribute order is stable so repeated fields line up across records.
type consoleHandler struct {
	mu     *sync.Mutex
	out    io.Writer
	level  slog.Leveler
	color  bool
	attrs  []slog.Attr
	groups []string
}

func newConsoleHandler(out io.Writer, level slog.Leveler) *consoleHandler {
	color := false
	if f, ok := out.(*os.File); ok {
		color = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return &consoleHandler{
		mu:    &sync.Mutex{},
		out:   out,
		level: level,
		color: color,
	}
}

func (h *consoleHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *consoleHandler) Handle(_ context.Context, record slog.Record) error {
	var builder strings.Builder
	builder.WriteString(record.Time.Format(consoleTimeFormat))
	builder.WriteByte(' ')
	builder.WriteString(h.levelTag(record.Level))
	builder.WriteByte(' ')
	builder.WriteString(record.Message)

	attrs := make([]slog.Attr, 0, record.NumAttrs()+len(h.attrs))
	attrs = append(attrs, h.attrs...)
	record.Attrs(func(attr slog.Attr) bool {
		attrs = append(attrs, attr)
		return true
	})
	sort.SliceStable(attrs, func(i, j int) bool {
		return fieldRank(attrs[i].Key) < fieldRank(attrs[j].Key)
	})
	for _, attr := range attrs {
		if attr.Equal(slog.Attr{}) {
			continue
		}
		builder.WriteByte(' ')
		builder.WriteString(h.renderAttr(attr))
	}
	builder.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.out, builder.String())
	return err
}

func (h *consoleHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	clone.attrs = append(append([]slog.Attr(nil), h.attrs...), attrs...)
	return &clone
}

func (h *consoleHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	clone := *h
	clone.groups = append(append([]string(nil), h.groups...), name)
	return &clone
}

func (h *consoleHandler) renderAttr(attr slog.Attr) string {
	key := attr.Key
	if len(h.groups) > 0 {
		key = strings.Join(h.groups, ".") + "." + key
	}
	value := attr.Value.Resolve()
	text := value.String()
	if value.Kind() == slog.KindTime {
		text = value.Time().Format(time.RFC3339)
	}
	if strings.ContainsAny(text, " \t") {
		text = fmt.Sprintf("%q", text)
	}
	return key + "=" + text
}

func (h *consoleHandler) levelTag(level slog.Level) string {
	tag := "INFO "
	colorCode := "\x1b[32m"
	switch {
	case level >= slog.LevelError:
		tag, colorCode = "ERROR", "\x1b[31m"
	case level >= slog.LevelWarn:
		tag, colorCode = "WARN ", "\x1b[33m"
	case level < slog.LevelInfo:
		tag, colorCode = "DEBUG", "\x1b[36m"
	}
	if !h.color {
		return tag
	}
	return colorCode + tag + "\x1b[0m"
}

// fieldRank pins identity fields to the front of each record.
func fieldRank(key string) int {
	switch key {
	case FieldComponent:
		return 0
	case FieldWorkflow:
		return 1
	case FieldRunID:
		return 2
	case FieldStep:
		return 3
	case FieldEventType:
		return 4
	default:
		return 10
	}
}
