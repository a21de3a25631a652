// Package sklog defines the logging functions (e.g. Info, Errorf, etc.).
//
// Output goes to stderr. Functions ending in f use fmt.Sprintf to format the
// arguments, the others use fmt.Sprint.
package sklog

import (
	"fmt"
	"log"
	"os"
)

type severity string

const (
	debug   severity = "D"
	info    severity = "I"
	warning severity = "W"
	errorS  severity = "E"
	fatal   severity = "F"
)

var logger = log.New(os.Stderr, "", log.LstdFlags|log.Lmicroseconds)

// SetOutput redirects all log output, mainly for tests.
func SetOutput(l *log.Logger) {
	logger = l
}

func emit(s severity, format string, v ...interface{}) {
	var msg string
	if format == "" {
		msg = fmt.Sprint(v...)
	} else {
		msg = fmt.Sprintf(format, v...)
	}
	logger.Printf("%s %s", s, msg)
	if s == fatal {
		os.Exit(255)
	}
}

func Debug(msg ...interface{}) { emit(debug, "", msg...) }

func Debugf(format string, v ...interface{}) { emit(debug, format, v...) }

func Info(msg ...interface{}) { emit(info, "", msg...) }

func Infof(format string, v ...interface{}) { emit(info, format, v...) }

func Warning(msg ...interface{}) { emit(warning, "", msg...) }

func Warningf(format string, v ...interface{}) { emit(warning, format, v...) }

func Error(msg ...interface{}) { emit(errorS, "", msg...) }

func Errorf(format string, v ...interface{}) { emit(errorS, format, v...) }

// Fatal* exits the program after logging.
func Fatal(msg ...interface{}) { emit(fatal, "", msg...) }

func Fatalf(format string, v ...interface{}) { emit(fatal, format, v...) }
