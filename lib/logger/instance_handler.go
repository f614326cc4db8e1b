// Package logger provides structured logging with subsystem-specific levels
// and OpenTelemetry trace context integration.
package logger

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// VMLogHandler wraps an slog.Handler and additionally writes any log record
// carrying a "vm_id" attribute to that VM's per-VM agent log file,
// in addition to the normal stdout JSON stream. This gives operators a
// complete history of a single VM's lifecycle without grepping the whole
// node-agent log.
type VMLogHandler struct {
	slog.Handler
	logPathFunc func(id string) string // returns path to the per-VM agent log
	state       *sharedState           // shared across all handlers derived via WithAttrs/WithGroup
}

// sharedState holds state that must be shared across all handler instances
// derived from the same parent via WithAttrs/WithGroup.
type sharedState struct {
	mu        sync.Mutex
	fileCache map[string]*os.File
}

// NewVMLogHandler creates a handler that wraps the given handler and mirrors
// vm_id-tagged records into a per-VM log file.
func NewVMLogHandler(wrapped slog.Handler, logPathFunc func(id string) string) *VMLogHandler {
	return &VMLogHandler{
		Handler:     wrapped,
		logPathFunc: logPathFunc,
		state: &sharedState{
			fileCache: make(map[string]*os.File),
		},
	}
}

func (h *VMLogHandler) Handle(ctx context.Context, r slog.Record) error {
	if err := h.Handler.Handle(ctx, r); err != nil {
		return err
	}

	var vmID string
	r.Attrs(func(a slog.Attr) bool {
		if a.Key == "vm_id" {
			vmID = a.Value.String()
			return false
		}
		return true
	})

	if vmID != "" {
		h.writeToVMLog(vmID, r)
	}

	return nil
}

func (h *VMLogHandler) writeToVMLog(vmID string, r slog.Record) {
	logPath := h.logPathFunc(vmID)
	if logPath == "" {
		return
	}

	timestamp := r.Time.Format(time.RFC3339)
	level := r.Level.String()
	msg := r.Message

	var attrs []string
	r.Attrs(func(a slog.Attr) bool {
		if a.Key != "vm_id" {
			attrs = append(attrs, fmt.Sprintf("%s=%v", a.Key, a.Value))
		}
		return true
	})

	line := fmt.Sprintf("%s %s %s", timestamp, level, msg)
	for _, attr := range attrs {
		line += " " + attr
	}
	line += "\n"

	h.state.mu.Lock()
	defer h.state.mu.Unlock()

	f, ok := h.state.fileCache[vmID]
	if !ok {
		dir := filepath.Dir(logPath)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return
		}

		var err error
		f, err = os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return
		}
		h.state.fileCache[vmID] = f
	}

	f.WriteString(line)
}

func (h *VMLogHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.Handler.Enabled(ctx, level)
}

func (h *VMLogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &VMLogHandler{
		Handler:     h.Handler.WithAttrs(attrs),
		logPathFunc: h.logPathFunc,
		state:       h.state,
	}
}

func (h *VMLogHandler) WithGroup(name string) slog.Handler {
	return &VMLogHandler{
		Handler:     h.Handler.WithGroup(name),
		logPathFunc: h.logPathFunc,
		state:       h.state,
	}
}

// CloseVMLog closes and removes a cached file handle for a VM. Call this
// from VR teardown.
func (h *VMLogHandler) CloseVMLog(vmID string) {
	h.state.mu.Lock()
	defer h.state.mu.Unlock()

	if f, ok := h.state.fileCache[vmID]; ok {
		f.Close()
		delete(h.state.fileCache, vmID)
	}
}

// CloseAll closes all cached file handles. Call during shutdown.
func (h *VMLogHandler) CloseAll() {
	h.state.mu.Lock()
	defer h.state.mu.Unlock()

	for id, f := range h.state.fileCache {
		f.Close()
		delete(h.state.fileCache, id)
	}
}
