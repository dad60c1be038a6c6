package metrics

import (
	"context"
	"sort"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Logger forwards critic scalars to logrus and, if set, a Store. It
// satisfies critic.ScalarLogger.
type Logger struct {
	log     logrus.FieldLogger
	store   *Store
	session uuid.UUID
}

// NewLogger returns a Logger for one session. store may be nil.
func NewLogger(log logrus.FieldLogger, store *Store, session uuid.UUID) *Logger {
	return &Logger{log: log, store: store, session: session}
}

// AddScalars logs values at debug level and appends them to the store.
// Store failures are logged, not returned, so diagnostics never abort a pass.
func (l *Logger) AddScalars(tag string, values map[string]float64, step int) {
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)

	fields := logrus.Fields{"tag": tag, "step": step}
	rows := make([]Scalar, 0, len(names))
	for _, name := range names {
		fields[name] = values[name]
		rows = append(rows, Scalar{Session: l.session, Step: step, Tag: tag, Name: name, Value: values[name]})
	}
	l.log.WithFields(fields).Debug("scalars")

	if l.store == nil || len(rows) == 0 {
		return
	}
	if err := l.store.Insert(context.Background(), rows...); err != nil {
		l.log.WithError(err).WithField("tag", tag).Warn("metrics store insert failed")
	}
}
