// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package log implements the logging singleton used by the probe, backed by seelog
package log

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/cihub/seelog"
)

var (
	logger *DatadogLogger

	// This buffer holds log lines sent to the logger before its
	// initialization. Loading the configuration happens before the logger
	// is set up and may log.
	//
	// This buffer should be very short lived.
	logsBuffer           = []func(){}
	bufferLogsBeforeInit = true
	bufferMutex          sync.Mutex
	defaultStackDepth    = 3
)

// DatadogLogger wrapper structure for seelog
type DatadogLogger struct {
	inner seelog.LoggerInterface
	level seelog.LogLevel
	l     sync.RWMutex
}

// SetupDatadogLogger configure logger singleton with seelog interface
func SetupDatadogLogger(l seelog.LoggerInterface, level string) {
	logger = &DatadogLogger{
		inner: l,
	}

	lvl, ok := seelog.LogLevelFromString(strings.ToLower(level))
	if !ok {
		lvl = seelog.InfoLvl
	}
	logger.level = lvl

	// the exported functions below add two frames that must be skipped to get to the caller
	logger.inner.SetAdditionalStackDepth(defaultStackDepth) //nolint:errcheck

	bufferMutex.Lock()
	bufferLogsBeforeInit = false
	defer bufferMutex.Unlock()
	for _, logLine := range logsBuffer {
		logLine()
	}
	logsBuffer = []func(){}
}

func addLogToBuffer(logHandle func()) {
	bufferMutex.Lock()
	defer bufferMutex.Unlock()

	logsBuffer = append(logsBuffer, logHandle)
}

func (sw *DatadogLogger) changeLogLevel(level string) error {
	sw.l.Lock()
	defer sw.l.Unlock()

	lvl, ok := seelog.LogLevelFromString(strings.ToLower(level))
	if !ok {
		return errors.New("bad log level")
	}
	sw.level = lvl
	return nil
}

func (sw *DatadogLogger) shouldLog(level seelog.LogLevel) bool {
	sw.l.RLock()
	defer sw.l.RUnlock()

	return level >= sw.level
}

func (sw *DatadogLogger) getLogLevel() seelog.LogLevel {
	sw.l.RLock()
	defer sw.l.RUnlock()

	return sw.level
}

func (sw *DatadogLogger) write(level seelog.LogLevel, s string) error {
	sw.l.Lock()
	defer sw.l.Unlock()

	switch level {
	case seelog.TraceLvl:
		sw.inner.Trace(s)
	case seelog.DebugLvl:
		sw.inner.Debug(s)
	case seelog.InfoLvl:
		sw.inner.Info(s)
	case seelog.WarnLvl:
		return sw.inner.Warn(s)
	case seelog.ErrorLvl:
		return sw.inner.Error(s)
	case seelog.CriticalLvl:
		return sw.inner.Critical(s)
	}
	return nil
}

func buildLogEntry(v ...interface{}) string {
	var fmtBuffer bytes.Buffer

	for i := 0; i < len(v)-1; i++ {
		fmtBuffer.WriteString("%v ")
	}
	fmtBuffer.WriteString("%v")

	return fmt.Sprintf(fmtBuffer.String(), v...)
}

func isReady() bool {
	return logger != nil && logger.inner != nil
}

func log(logLevel seelog.LogLevel, bufferFunc func(), s func() string) error {
	if isReady() {
		if logger.shouldLog(logLevel) {
			return logger.write(logLevel, s())
		}
		return nil
	}

	bufferMutex.Lock()
	buffering := bufferLogsBeforeInit
	bufferMutex.Unlock()
	if buffering {
		addLogToBuffer(bufferFunc)
	}
	return nil
}

func logWithError(logLevel seelog.LogLevel, bufferFunc func(), fallbackStderr bool, s func() string) error {
	msg := s()
	if isReady() {
		if logger.shouldLog(logLevel) {
			logger.write(logLevel, msg) //nolint:errcheck
		}
	} else {
		addLogToBuffer(bufferFunc)
		if fallbackStderr {
			fmt.Fprintf(os.Stderr, "%s: %s\n", logLevel.String(), msg)
		}
	}
	return errors.New(msg)
}

// Trace logs at the trace level
func Trace(v ...interface{}) {
	log(seelog.TraceLvl, func() { Trace(v...) }, func() string { return buildLogEntry(v...) }) //nolint:errcheck
}

// Tracef logs with format at the trace level
func Tracef(format string, params ...interface{}) {
	log(seelog.TraceLvl, func() { Tracef(format, params...) }, func() string { return fmt.Sprintf(format, params...) }) //nolint:errcheck
}

// Debug logs at the debug level
func Debug(v ...interface{}) {
	log(seelog.DebugLvl, func() { Debug(v...) }, func() string { return buildLogEntry(v...) }) //nolint:errcheck
}

// Debugf logs with format at the debug level
func Debugf(format string, params ...interface{}) {
	log(seelog.DebugLvl, func() { Debugf(format, params...) }, func() string { return fmt.Sprintf(format, params...) }) //nolint:errcheck
}

// Info logs at the info level
func Info(v ...interface{}) {
	log(seelog.InfoLvl, func() { Info(v...) }, func() string { return buildLogEntry(v...) }) //nolint:errcheck
}

// Infof logs with format at the info level
func Infof(format string, params ...interface{}) {
	log(seelog.InfoLvl, func() { Infof(format, params...) }, func() string { return fmt.Sprintf(format, params...) }) //nolint:errcheck
}

// Warn logs at the warn level and returns an error containing the formated log message
func Warn(v ...interface{}) error {
	return logWithError(seelog.WarnLvl, func() { Warn(v...) }, false, func() string { return buildLogEntry(v...) })
}

// Warnf logs with format at the warn level and returns an error containing the formated log message
func Warnf(format string, params ...interface{}) error {
	return logWithError(seelog.WarnLvl, func() { Warnf(format, params...) }, false, func() string { return fmt.Sprintf(format, params...) })
}

// Error logs at the error level and returns an error containing the formated log message
func Error(v ...interface{}) error {
	return logWithError(seelog.ErrorLvl, func() { Error(v...) }, true, func() string { return buildLogEntry(v...) })
}

// Errorf logs with format at the error level and returns an error containing the formated log message
func Errorf(format string, params ...interface{}) error {
	return logWithError(seelog.ErrorLvl, func() { Errorf(format, params...) }, true, func() string { return fmt.Sprintf(format, params...) })
}

// Criticalf logs with format at the critical level and returns an error containing the formated log message
func Criticalf(format string, params ...interface{}) error {
	return logWithError(seelog.CriticalLvl, func() { Criticalf(format, params...) }, true, func() string { return fmt.Sprintf(format, params...) })
}

// ShouldLog returns whether a given log level should be logged by the default logger
func ShouldLog(lvl seelog.LogLevel) bool {
	if isReady() {
		return logger.shouldLog(lvl)
	}
	return false
}

// Flush flushes the underlying inner log
func Flush() {
	if isReady() {
		logger.inner.Flush()
	}
}

// GetLogLevel returns a seelog native representation of the current log level
func GetLogLevel() (seelog.LogLevel, error) {
	if isReady() {
		return logger.getLogLevel(), nil
	}

	// need to return something, just set to Info (expected default)
	return seelog.InfoLvl, errors.New("cannot get loglevel: logger not initialized")
}

// ChangeLogLevel changes the current log level, valid levels are trace, debug,
// info, warn, error, critical and off
func ChangeLogLevel(level string) error {
	if isReady() {
		return logger.changeLogLevel(level)
	}
	return errors.New("cannot change loglevel: logger not initialized")
}
