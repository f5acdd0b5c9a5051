package orchestrator

import (
	"github.com/scratchlab/execorch/egress"
	"github.com/sirupsen/logrus"
)

// logEntryHook forwards Warn-and-above log entries to the host's log-entry
// channel (spec.md section 6, "optional... orchestrator diagnostics, not
// user output"), so an embedder doesn't need a second logging pipe just to
// surface operational warnings in its UI.
type logEntryHook struct {
	egress *egress.Egress
}

func newLogEntryHook(e *egress.Egress) *logEntryHook {
	return &logEntryHook{egress: e}
}

func (h *logEntryHook) Levels() []logrus.Level {
	return []logrus.Level{logrus.PanicLevel, logrus.FatalLevel, logrus.ErrorLevel, logrus.WarnLevel}
}

func (h *logEntryHook) Fire(entry *logrus.Entry) error {
	h.egress.LogEntry(map[string]any{
		"level":   entry.Level.String(),
		"message": entry.Message,
		"fields":  entry.Data,
	})
	return nil
}
