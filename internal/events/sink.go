package events

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	pkgerrors "github.com/pkg/errors"
	"go.uber.org/zap"
)

// Sink delivers a notification to its final destination
type Sink interface {
	Deliver(ctx context.Context, n Notification) error
}

// FileSink writes one text file per delivered notification
type FileSink struct {
	dir string
	log *zap.Logger
	now func() time.Time
}

// NewFileSink creates a sink writing into dir
func NewFileSink(dir string, log *zap.Logger) *FileSink {
	return &FileSink{dir: dir, log: log, now: time.Now}
}

// FileName returns the artifact name for n delivered at t
func FileName(n Notification, t time.Time) string {
	return fmt.Sprintf("%s_%d_%s.txt", n.Type, n.OrderID, t.Format("20060102_150405.000"))
}

// Render returns the artifact content for n
func Render(n Notification) string {
	return fmt.Sprintf("Type: %s\nRecipient: %s\nSubject: %s\nOrder ID: %d\nTimestamp: %s\n\nContent:\n%s\n",
		n.Type, n.Recipient, n.Subject, n.OrderID, n.Timestamp.Format(time.RFC3339), n.Content)
}

// Deliver writes the artifact through a temporary file so that readers never see a partial file
func (s *FileSink) Deliver(ctx context.Context, n Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	name := FileName(n, s.now())
	if !typePattern.MatchString(n.Type) || strings.ContainsAny(name, `/\`) {
		return pkgerrors.Wrapf(ErrMalformedMessage, "unsafe notification file name %q", name)
	}
	path := filepath.Join(s.dir, name)
	if filepath.Dir(path) != filepath.Clean(s.dir) {
		return pkgerrors.Wrapf(ErrMalformedMessage, "notification file %q escapes %s", name, s.dir)
	}

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return pkgerrors.Wrapf(err, "failed to create notifications directory %s", s.dir)
	}

	tmp, err := os.CreateTemp(s.dir, ".notification-*")
	if err != nil {
		return pkgerrors.Wrap(err, "failed to create notification file")
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.WriteString(Render(n)); err != nil {
		tmp.Close()
		return pkgerrors.Wrap(err, "failed to write notification file")
	}
	if err := tmp.Close(); err != nil {
		return pkgerrors.Wrap(err, "failed to write notification file")
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		return pkgerrors.Wrap(err, "failed to store notification file")
	}

	s.log.Info("Notification delivered",
		zap.String("event_type", n.Type),
		zap.String("recipient", n.Recipient),
		zap.Uint("order_id", n.OrderID),
		zap.String("path", path),
	)
	return nil
}
