package observer

import (
	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"
)

// Logrus forwards events to a logrus entry.
type Logrus struct {
	entry *logrus.Entry
}

// NewLogrus returns an Observer that logs through entry. A nil entry logs
// through the standard logrus logger.
func NewLogrus(entry *logrus.Entry) *Logrus {
	if entry == nil {
		entry = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Logrus{entry: entry}
}

// Observe logs ev at a level chosen by its kind.
func (l *Logrus) Observe(ev Event) {
	fields := logrus.Fields{
		"event": ev.Kind.String(),
	}
	if ev.Addr != "" {
		fields["addr"] = ev.Addr
	}
	if ev.Err != nil {
		fields["error"] = ev.Err.Error()
	}
	entry := l.entry.WithFields(fields)

	switch ev.Kind {
	case KindConnecting:
		entry.Infof("Connecting to: %s", ev.Addr)
	case KindConnected:
		entry.Debug("Connection established")
	case KindPreallocating:
		entry.WithField("size", ev.Bytes).
			Debugf("Requesting preallocation of file of size %s [%d B]", humanize.IBytes(ev.Bytes), ev.Bytes)
	case KindSourceOpened:
		entry.Debugf("Opened content source: %s", ev.Detail)
	case KindCompression:
		entry.Debugf("Compression mode: %s", ev.Detail)
	case KindMessageSent:
		entry.WithField("size", ev.Bytes).Debugf("Wrote message: %s", ev.Detail)
	case KindMessageFailed:
		entry.Warn("Inline message write failed, continuing with payload")
	case KindSent:
		entry.WithField("bytes", ev.Bytes).
			Infof("Sent %s [%d B]", humanize.IBytes(ev.Bytes), ev.Bytes)
	case KindAdvisory:
		entry.Warn(ev.Detail)
	case KindRemoteCommand:
		entry.Debugf("Running remote command '%s'", ev.Detail)
	case KindRemoteExit:
		entry = entry.WithField("exit_status", ev.Status)
		if ev.Detail != "" {
			entry.Debugf("Remote command terminated: %s", ev.Detail)
			return
		}
		entry.Debug("Remote command exited")
	case KindRemoteOutput:
		entry.Tracef("Received raw output %q", ev.Raw)
	default:
		entry.Debugf("unhandled event %s", ev.Kind)
	}
}
