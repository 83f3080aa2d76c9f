// Package logger queues object tagged log lines and writes them through logrus from one goroutine.
package logger

import (
	"bytes"
	"fmt"
	"reflect"
	"sync"

	"github.com/sirupsen/logrus"
)

type stringer interface {
	String() string
}

type logPair struct {
	logFn func(...any)
	obj   string
	msg   string
}

const (
	logSize    = 1000
	objColumns = 20
)

var (
	logCh     = make(chan logPair, logSize)
	writeOnce sync.Once
)

func objToString(obj any) (objStr string) {
	if obj == nil {
		objStr = "NIL"
	} else if stringerObj, ok := obj.(stringer); ok {
		objStr = stringerObj.String()
	} else if objStr, ok = obj.(string); ok {
	} else {
		objStr = reflect.TypeOf(obj).Name()
	}
	if len(objStr) > objColumns {
		objStr = objStr[:objColumns]
	}
	return
}

func startWriter() {
	writeOnce.Do(func() {
		go func() {
			sb := new(bytes.Buffer)
			for logPair := range logCh {
				fmt.Fprintf(sb, "|%20s|%-100s", logPair.obj, logPair.msg)
				logPair.logFn(sb.String())
				sb.Reset()
			}
		}()
	})
}

// Init sets the level and the formatter. Logging works without Init using logrus defaults.
func Init(lvl logrus.Level) {
	logrus.SetLevel(lvl)
	logrus.SetFormatter(&logrus.TextFormatter{
		ForceColors:     true,
		FullTimestamp:   true,
		PadLevelText:    true,
		TimestampFormat: "2006/02/01 15:04:05",
	})
	startWriter()
}

func enqueue(lvl logrus.Level, logFn func(...any), object any, msg func() string) {
	if logrus.GetLevel() < lvl {
		return
	}
	startWriter()
	logCh <- logPair{
		logFn: logFn,
		obj:   objToString(object),
		msg:   msg(),
	}
}

func Trace(object any, message string) {
	enqueue(logrus.TraceLevel, logrus.Trace, object, func() string { return message })
}

func Tracef(object any, message string, args ...any) {
	enqueue(logrus.TraceLevel, logrus.Trace, object, func() string { return fmt.Sprintf(message, args...) })
}

func Debug(object any, message string) {
	enqueue(logrus.DebugLevel, logrus.Debug, object, func() string { return message })
}

func Debugf(object any, message string, args ...any) {
	enqueue(logrus.DebugLevel, logrus.Debug, object, func() string { return fmt.Sprintf(message, args...) })
}

func Info(object any, message string) {
	enqueue(logrus.InfoLevel, logrus.Info, object, func() string { return message })
}

func Infof(object any, message string, args ...any) {
	enqueue(logrus.InfoLevel, logrus.Info, object, func() string { return fmt.Sprintf(message, args...) })
}

func Warning(object any, message string) {
	enqueue(logrus.WarnLevel, logrus.Warning, object, func() string { return message })
}

func Warningf(object any, message string, args ...any) {
	enqueue(logrus.WarnLevel, logrus.Warning, object, func() string { return fmt.Sprintf(message, args...) })
}

func Error(object any, message string) {
	enqueue(logrus.ErrorLevel, logrus.Error, object, func() string { return message })
}

func Errorf(object any, message string, args ...any) {
	enqueue(logrus.ErrorLevel, logrus.Error, object, func() string { return fmt.Sprintf(message, args...) })
}

func Fatal(object any, message string) {
	logrus.Fatalf("|%20s|%-100s", objToString(object), message)
}

func Fatalf(object any, message string, args ...any) {
	logrus.Fatalf("|%20s|%-100s", objToString(object), fmt.Sprintf(message, args...))
}
