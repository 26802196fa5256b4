// Package notify delivers review notification intents.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nats-io/nats.go"

	"github.com/joescharf/taskreview/internal/review"
)

// DefaultSubjectPrefix is prepended to the notification kind.
const DefaultSubjectPrefix = "taskreview.notifications"

// LogSink writes notifications to a structured logger.
type LogSink struct {
	Log *slog.Logger
}

func (s LogSink) Emit(_ context.Context, n review.NotificationIntent) error {
	log := s.Log
	if log == nil {
		log = slog.Default()
	}
	log.Info("notification",
		"id", n.ID, "kind", n.Kind, "task_id", n.TaskID,
		"recipient", n.RecipientID, "actor", n.ActorID, "status", n.Status)
	return nil
}

// Publisher is the subset of *nats.Conn used to publish notifications.
type Publisher interface {
	Publish(subject string, data []byte) error
}

var _ Publisher = (*nats.Conn)(nil)

// NATSSink publishes notifications as JSON on <prefix>.<kind>.
type NATSSink struct {
	pub    Publisher
	prefix string
}

// NewNATSSink creates a sink over pub. An empty prefix uses DefaultSubjectPrefix.
func NewNATSSink(pub Publisher, prefix string) *NATSSink {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &NATSSink{pub: pub, prefix: strings.TrimSuffix(prefix, ".")}
}

// Connect dials url and returns a sink on the connection along with a
// close function.
func Connect(url, prefix string) (*NATSSink, func(), error) {
	nc, err := nats.Connect(url, nats.Name("taskreview"))
	if err != nil {
		return nil, nil, fmt.Errorf("connect to NATS: %w", err)
	}
	closeFn := func() {
		if err := nc.Drain(); err != nil {
			nc.Close()
		}
	}
	return NewNATSSink(nc, prefix), closeFn, nil
}

// Subject returns the subject a notification of kind is published on.
func (s *NATSSink) Subject(kind review.NotificationKind) string {
	return s.prefix + "." + string(kind)
}

func (s *NATSSink) Emit(ctx context.Context, n review.NotificationIntent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	if err := s.pub.Publish(s.Subject(n.Kind), data); err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}
	return nil
}

// Multi fans a notification out to every sink and joins their errors.
type Multi []review.NotificationSink

func (m Multi) Emit(ctx context.Context, n review.NotificationIntent) error {
	var errs []error
	for _, s := range m {
		if err := s.Emit(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
