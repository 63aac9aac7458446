// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package log

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"

	"github.com/cihub/seelog"
)

// LoggerName is the name of the logger, printed on every line
type LoggerName string

const (
	// DefaultLogFileMaxSize is the size at which the log file is rolled
	DefaultLogFileMaxSize = 10 * 1024 * 1024
	// DefaultLogFileMaxRolls is the number of rolled log files kept
	DefaultLogFileMaxRolls = 1

	logDateFormat = "2006-01-02 15:04:05 MST"
)

const seelogConfigTemplate = `<seelog minlevel="{{.MinLevel}}">
	<outputs formatid="common">
		{{- if .Console}}
		<console/>
		{{- end}}
		{{- if .LogFile}}
		<rollingfile type="size" filename="{{.LogFile}}" maxsize="{{.MaxSize}}" maxrolls="{{.MaxRolls}}"/>
		{{- end}}
	</outputs>
	<formats>
		<format id="common" format="{{.Format}}"/>
	</formats>
</seelog>`

func init() {
	_ = seelog.RegisterCustomFormatter("ShortFilePath", createShortFilePathFormatter)
}

func createShortFilePathFormatter(_ string) seelog.FormatterFunc {
	return func(_ string, _ seelog.LogLevel, context seelog.LogContextInterface) interface{} {
		return extractShortPathFromFullPath(context.FullPath())
	}
}

// extractShortPathFromFullPath trims the project location from the path of the caller. Files
// of dependencies are printed from their versioned module directory.
func extractShortPathFromFullPath(fullPath string) string {
	if _, shortPath, found := strings.Cut(fullPath, "cws-deletion-probe/"); found {
		return shortPath
	}

	slices := strings.Split(fullPath, "/")
	atSignIndex := len(slices) - 1
	for ; atSignIndex > 0; atSignIndex-- {
		if strings.Contains(slices[atSignIndex], "@") {
			break
		}
	}
	return strings.Join(slices[atSignIndex:], "/")
}

type seelogConfig struct {
	MinLevel string
	Console  bool
	LogFile  string
	MaxSize  int
	MaxRolls int
	Format   string
}

// buildCommonFormat returns the log common format seelog string
func buildCommonFormat(loggerName LoggerName) string {
	return fmt.Sprintf("%%Date(%s) | %s | %%LEVEL | (%%ShortFilePath:%%Line in %%FuncShort) | %%Msg%%n", logDateFormat, loggerName)
}

func buildSeelogConfig(loggerName LoggerName, level string, logFile string, console bool) (string, error) {
	if !console && logFile == "" {
		console = true
	}

	tmpl, err := template.New("seelog").Parse(seelogConfigTemplate)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	err = tmpl.Execute(&buf, seelogConfig{
		MinLevel: strings.ToLower(level),
		Console:  console,
		LogFile:  logFile,
		MaxSize:  DefaultLogFileMaxSize,
		MaxRolls: DefaultLogFileMaxRolls,
		Format:   buildCommonFormat(loggerName),
	})
	if err != nil {
		return "", err
	}
	return buf.String(), nil
}

// SetupLogger sets up the default logger, writing to the console and/or to a rolling file
func SetupLogger(loggerName LoggerName, level string, logFile string, console bool) error {
	if _, ok := seelog.LogLevelFromString(strings.ToLower(level)); !ok {
		return fmt.Errorf("unknown log level: %s", level)
	}

	cfg, err := buildSeelogConfig(loggerName, level, logFile, console)
	if err != nil {
		return err
	}

	l, err := seelog.LoggerFromConfigAsString(cfg)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}

	SetupDatadogLogger(l, level)
	return nil
}
