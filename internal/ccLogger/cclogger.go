// Leveled component logger for all quotareport packages. Messages go to
// stderr except the plain informational stream, which goes to stdout so cron
// mails only contain warnings and errors.
package cclogger

import (
	"fmt"
	"log"
	"os"
	"runtime"
)

const (
	levelDebug = iota
	levelInfo
	levelWarn
	levelError
)

var (
	minLevel = levelInfo

	debugLog = log.New(os.Stderr, "DEBUG ", log.LstdFlags)
	infoLog  = log.New(os.Stdout, "INFO ", log.LstdFlags)
	warnLog  = log.New(os.Stderr, "WARN ", log.LstdFlags)
	errorLog = log.New(os.Stderr, "ERROR ", log.LstdFlags)
)

// Init sets the minimum level from its string form. Unknown levels fall back
// to info.
func Init(level string) {
	switch level {
	case "debug":
		minLevel = levelDebug
	case "info":
		minLevel = levelInfo
	case "warn", "warning":
		minLevel = levelWarn
	case "error":
		minLevel = levelError
	default:
		minLevel = levelInfo
	}
}

func Debug(e ...interface{}) {
	if minLevel <= levelDebug {
		debugLog.Print(e...)
	}
}

func Info(e ...interface{}) {
	if minLevel <= levelInfo {
		infoLog.Print(e...)
	}
}

func Warn(e ...interface{}) {
	if minLevel <= levelWarn {
		warnLog.Print(e...)
	}
}

func Error(e ...interface{}) {
	if minLevel <= levelError {
		_, fn, line, _ := runtime.Caller(1)
		errorLog.Print(fmt.Sprintf("[%s:%d] ", fn, line), fmt.Sprintln(e...))
	}
}

func ComponentDebug(component string, e ...interface{}) {
	if minLevel <= levelDebug {
		debugLog.Print(fmt.Sprintf("[%s] ", component), fmt.Sprintln(e...))
	}
}

func ComponentInfo(component string, e ...interface{}) {
	if minLevel <= levelInfo {
		infoLog.Print(fmt.Sprintf("[%s] ", component), fmt.Sprintln(e...))
	}
}

func ComponentWarn(component string, e ...interface{}) {
	if minLevel <= levelWarn {
		warnLog.Print(fmt.Sprintf("[%s] ", component), fmt.Sprintln(e...))
	}
}

func ComponentError(component string, e ...interface{}) {
	if minLevel <= levelError {
		_, fn, line, _ := runtime.Caller(1)
		errorLog.Print(fmt.Sprintf("[%s|%s:%d] ", component, fn, line), fmt.Sprintln(e...))
	}
}
