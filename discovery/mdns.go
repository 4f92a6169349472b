package discovery

import (
	"net"

	"github.com/pion/logging"
	"github.com/pion/mdns"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/ipv4"
)

func openMulticast() (Querier, error) {
	return OpenMulticast(&mdns.Config{})
}

// OpenMulticast binds the mDNS multicast address and returns a querier using
// cfg. A nil LoggerFactory in cfg routes pion's logs to logrus.
func OpenMulticast(cfg *mdns.Config) (Querier, error) {
	if cfg.LoggerFactory == nil {
		cfg.LoggerFactory = LoggerFactory{Logger: logrus.StandardLogger()}
	}
	addr, err := net.ResolveUDPAddr("udp4", mdns.DefaultAddress)
	if err != nil {
		return nil, err
	}
	l, err := net.ListenUDP("udp4", addr)
	if err != nil {
		return nil, err
	}
	conn, err := mdns.Server(ipv4.NewPacketConn(l), cfg)
	if err != nil {
		l.Close()
		return nil, err
	}
	return conn, nil
}

// LoggerFactory adapts logrus to pion's logging.LoggerFactory.
type LoggerFactory struct {
	Logger *logrus.Logger
}

// NewLogger returns a leveled logger tagged with scope.
func (f LoggerFactory) NewLogger(scope string) logging.LeveledLogger {
	logger := f.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return pionLogger{entry: logger.WithField("scope", scope)}
}

type pionLogger struct {
	entry *logrus.Entry
}

func (l pionLogger) Trace(msg string) { l.entry.Trace(msg) }
func (l pionLogger) Tracef(format string, args ...any) { l.entry.Tracef(format, args...) }
func (l pionLogger) Debug(msg string) { l.entry.Debug(msg) }
func (l pionLogger) Debugf(format string, args ...any) { l.entry.Debugf(format, args...) }
func (l pionLogger) Info(msg string) { l.entry.Info(msg) }
func (l pionLogger) Infof(format string, args ...any) { l.entry.Infof(format, args...) }
func (l pionLogger) Warn(msg string) { l.entry.Warn(msg) }
func (l pionLogger) Warnf(format string, args ...any) { l.entry.Warnf(format, args...) }
func (l pionLogger) Error(msg string) { l.entry.Error(msg) }
func (l pionLogger) Errorf(format string, args ...any) { l.entry.Errorf(format, args...) }
