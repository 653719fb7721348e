package raftlog

import (
	"github.com/neo4j/neo4j-sub236/logging"
)

// AppendIndexMonitor is notified whenever the append index of a log changes.
type AppendIndexMonitor interface {
	AppendIndex(prevAppendIndex, appendIndex int64)
}

// LoggingMonitor is an AppendIndexMonitor that logs every change.
type LoggingMonitor struct {
	logger *logging.Logger
}

// NewLoggingMonitor creates a monitor that writes to logger.
func NewLoggingMonitor(logger *logging.Logger) *LoggingMonitor {
	return &LoggingMonitor{logger: logger.Named("monitor")}
}

func (m *LoggingMonitor) AppendIndex(prevAppendIndex, appendIndex int64) {
	m.logger.Debugf("append index %d -> %d", prevAppendIndex, appendIndex)
}

// MonitoredLog decorates a Log and reports append index changes caused by
// appends, truncations and skips. Reporting never affects the operation.
type MonitoredLog struct {
	Log
	monitor AppendIndexMonitor
}

// NewMonitoredLog wraps log.
func NewMonitoredLog(log Log, monitor AppendIndexMonitor) *MonitoredLog {
	return &MonitoredLog{Log: log, monitor: monitor}
}

func (l *MonitoredLog) Append(entries ...Entry) (int64, error) {
	prev := l.Log.AppendIndex()
	appendIndex, err := l.Log.Append(entries...)
	if err == nil && appendIndex != prev {
		l.monitor.AppendIndex(prev, appendIndex)
	}
	return appendIndex, err
}

func (l *MonitoredLog) Truncate(fromIndex int64) error {
	prev := l.Log.AppendIndex()
	if err := l.Log.Truncate(fromIndex); err != nil {
		return err
	}
	if appendIndex := l.Log.AppendIndex(); appendIndex != prev {
		l.monitor.AppendIndex(prev, appendIndex)
	}
	return nil
}

func (l *MonitoredLog) Skip(index, term int64) (int64, error) {
	prev := l.Log.AppendIndex()
	appendIndex, err := l.Log.Skip(index, term)
	if err == nil && appendIndex != prev {
		l.monitor.AppendIndex(prev, appendIndex)
	}
	return appendIndex, err
}
