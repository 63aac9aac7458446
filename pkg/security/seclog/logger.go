// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package seclog holds the logger used by the security packages
package seclog

import (
	"fmt"
	"strings"
	"sync"

	"github.com/cihub/seelog"

	"github.com/DataDog/cws-deletion-probe/pkg/util/log"
)

// Logger wraps the agent logger, adding per tag tracing
type Logger struct {
	sync.RWMutex
	tags map[string]bool
}

// DefaultLogger default logger of the security packages
var DefaultLogger = &Logger{tags: map[string]bool{}}

// SetTags restricts tracing to the given tags, an empty list traces everything
func (l *Logger) SetTags(tags ...string) {
	m := make(map[string]bool, len(tags))
	for _, tag := range tags {
		m[strings.ToLower(tag)] = true
	}

	l.Lock()
	l.tags = m
	l.Unlock()
}

// IsTracing returns whether trace logs are emitted
func (l *Logger) IsTracing() bool {
	return log.ShouldLog(seelog.TraceLvl)
}

func (l *Logger) traceEnabled(tag fmt.Stringer) bool {
	if !l.IsTracing() {
		return false
	}

	l.RLock()
	defer l.RUnlock()
	return len(l.tags) == 0 || l.tags[strings.ToLower(tag.String())]
}

// TraceTagf logs at trace level if the tag is enabled
func (l *Logger) TraceTagf(tag fmt.Stringer, format string, params ...interface{}) {
	if l.traceEnabled(tag) {
		log.Tracef("[%s] "+format, append([]interface{}{tag}, params...)...)
	}
}

// SetTags restricts the tagged trace logs of the default logger to the given tags
func SetTags(tags ...string) {
	DefaultLogger.SetTags(tags...)
}

// TraceTagf logs at trace level with the default logger if the tag is enabled
func TraceTagf(tag fmt.Stringer, format string, params ...interface{}) {
	DefaultLogger.TraceTagf(tag, format, params...)
}

// Tracef is used to print a trace level log
func Tracef(format string, params ...interface{}) {
	log.Tracef(format, params...)
}

// Debugf is used to print a debug level log
func Debugf(format string, params ...interface{}) {
	log.Debugf(format, params...)
}

// Infof is used to print an info level log
func Infof(format string, params ...interface{}) {
	log.Infof(format, params...)
}

// Warnf is used to print a warn level log
func Warnf(format string, params ...interface{}) {
	_ = log.Warnf(format, params...)
}

// Errorf is used to print an error level log
func Errorf(format string, params ...interface{}) {
	_ = log.Errorf(format, params...)
}
