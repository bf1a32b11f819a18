// Package log provides a leveled debug logger used throughout the pipeline
// instead of fmt.Println or the standard library log package.
//
// Verbosity is controlled by a single integer level (1 = always visible in
// normal usage, up to 5 = very verbose). The level, timestamp and color
// behaviour can all be set programmatically or via the DEBUG_LVL,
// DEBUG_TIME and DEBUG_COLOR environment variables (see ParseEnv).
package log

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"
)

// NamePadding sets the amount of padding used for the calling function's
// name in the log output. A negative value disables padding entirely.
var NamePadding = 40

// LinePadding sets the amount of padding used for the calling line number.
var LinePadding = 3

// Testing is used by the test-suite to redirect output into an in-memory
// buffer instead of stdout/stderr. 0 means "not testing"; any other value
// turns on capture of every written line.
var Testing = 0

// TestStr holds the last line written while Testing != 0.
var TestStr string

var mu sync.Mutex
var debugVisible = 1
var showTime = false
var useColors = true

var stdOut = func(s string) { fmt.Fprint(os.Stdout, s) }
var stdErr = func(s string) { fmt.Fprint(os.Stderr, s) }

// testOutBuf and testErrBuf hold the last stdout and stderr line written
// while Testing != 0. resetTestBuffers clears both before a fresh
// single-call assertion.
var testOutBuf string
var testErrBuf string

func resetTestBuffers() {
	mu.Lock()
	defer mu.Unlock()
	testOutBuf = ""
	testErrBuf = ""
}

// SetDebugVisible sets the maximum level that will be printed.
func SetDebugVisible(lvl int) {
	mu.Lock()
	defer mu.Unlock()
	debugVisible = lvl
}

// DebugVisible returns the currently configured maximum level.
func DebugVisible() int {
	mu.Lock()
	defer mu.Unlock()
	return debugVisible
}

// SetShowTime toggles whether a relative timestamp is printed with each line.
func SetShowTime(b bool) {
	mu.Lock()
	defer mu.Unlock()
	showTime = b
}

// ShowTime reports whether timestamps are currently printed.
func ShowTime() bool {
	mu.Lock()
	defer mu.Unlock()
	return showTime
}

// SetUseColors toggles ANSI coloring of the level marker.
func SetUseColors(b bool) {
	mu.Lock()
	defer mu.Unlock()
	useColors = b
}

// UseColors reports whether ANSI coloring is currently enabled.
func UseColors() bool {
	mu.Lock()
	defer mu.Unlock()
	return useColors
}

// ParseEnv reads DEBUG_LVL, DEBUG_TIME and DEBUG_COLOR from the
// environment and applies them. A missing or unparsable DEBUG_LVL leaves
// the level untouched; a missing DEBUG_TIME or DEBUG_COLOR turns that
// option off.
func ParseEnv() {
	if s := os.Getenv("DEBUG_LVL"); s != "" {
		if lvl, err := strconv.Atoi(s); err == nil {
			SetDebugVisible(lvl)
		}
	}
	if s := os.Getenv("DEBUG_TIME"); s != "" {
		SetShowTime(s == "true" || s == "1")
	} else {
		SetShowTime(false)
	}
	if s := os.Getenv("DEBUG_COLOR"); s != "" {
		SetUseColors(s == "true" || s == "1")
	} else {
		SetUseColors(false)
	}
}

var start = time.Now()

// callerString names the function and line `skip` frames up the stack,
// counting callerString itself as frame 0.
func callerString(skip int) string {
	pc, file, line, ok := runtime.Caller(skip)
	name := "???"
	if ok {
		fn := runtime.FuncForPC(pc)
		if fn != nil {
			full := fn.Name()
			parts := strings.Split(full, "/")
			name = parts[len(parts)-1]
		} else {
			name = file
		}
	}
	if NamePadding > 0 {
		if len(name) > NamePadding {
			name = name[len(name)-NamePadding:]
		}
		name = fmt.Sprintf("%*s", NamePadding, name)
	}
	return fmt.Sprintf("%s:%*d", name, LinePadding, line)
}

// write renders one log line. skip is the depth, counted from
// callerString, of the code that called the Lvl*/LLvl* entry point, so that the
// reported caller name is always the code that asked to log something,
// regardless of how many formatting helpers sit in between.
func write(toErr bool, level int, bang string, skip int, args ...interface{}) {
	mu.Lock()
	visible := debugVisible
	t := showTime
	mu.Unlock()
	if bang != "!" && level > visible {
		return
	}
	msg := fmt.Sprint(args...)
	var timeStr string
	if t {
		timeStr = fmt.Sprintf(" +%s", time.Since(start))
	}
	line := fmt.Sprintf("%d%s: (%s) -%s %s\n", level, bang, callerString(skip), timeStr, msg)
	if Testing != 0 {
		TestStr = strings.TrimSuffix(line, "\n")
		mu.Lock()
		if toErr {
			testErrBuf = TestStr
		} else {
			testOutBuf = TestStr
		}
		mu.Unlock()
	}
	if toErr {
		stdErr(line)
	} else {
		stdOut(line)
	}
}

func writef(toErr bool, level int, bang string, format string, args ...interface{}) {
	write(toErr, level, bang, 4, fmt.Sprintf(format, args...))
}

// Lvl1 prints the given arguments if the configured level is >= 1.
func Lvl1(args ...interface{}) { write(false, 1, " ", 3, args...) }

// Lvl2 prints the given arguments if the configured level is >= 2.
func Lvl2(args ...interface{}) { write(false, 2, " ", 3, args...) }

// Lvl3 prints the given arguments if the configured level is >= 3.
func Lvl3(args ...interface{}) { write(false, 3, " ", 3, args...) }

// Lvl4 prints the given arguments if the configured level is >= 4.
func Lvl4(args ...interface{}) { write(false, 4, " ", 3, args...) }

// Lvl5 prints the given arguments if the configured level is >= 5.
func Lvl5(args ...interface{}) { write(false, 5, " ", 3, args...) }

// LLvl1 is like Lvl1 but always printed, regardless of the configured level.
func LLvl1(args ...interface{}) { write(false, 1, "!", 3, args...) }

// LLvl2 is like Lvl2 but always printed.
func LLvl2(args ...interface{}) { write(false, 2, "!", 3, args...) }

// LLvl3 is like Lvl3 but always printed.
func LLvl3(args ...interface{}) { write(false, 3, "!", 3, args...) }

// Lvlf1 is Lvl1 with printf-style formatting.
func Lvlf1(format string, args ...interface{}) { writef(false, 1, " ", format, args...) }

// Lvlf2 is Lvl2 with printf-style formatting.
func Lvlf2(format string, args ...interface{}) { writef(false, 2, " ", format, args...) }

// Lvlf3 is Lvl3 with printf-style formatting.
func Lvlf3(format string, args ...interface{}) { writef(false, 3, " ", format, args...) }

// Lvlf4 is Lvl4 with printf-style formatting.
func Lvlf4(format string, args ...interface{}) { writef(false, 4, " ", format, args...) }

// LLvlf1 is Lvlf1 but always printed.
func LLvlf1(format string, args ...interface{}) { writef(false, 1, "!", format, args...) }

// Print always prints its arguments to stdout, ignoring the level filter.
func Print(args ...interface{}) {
	msg := fmt.Sprint(args...)
	line := fmt.Sprintf("I : (%s) - %s\n", callerString(2), msg)
	if Testing != 0 {
		TestStr = strings.TrimSuffix(line, "\n")
		mu.Lock()
		testOutBuf = TestStr
		mu.Unlock()
	}
	stdOut(line)
}

// Warn always prints its arguments to stderr.
func Warn(args ...interface{}) {
	msg := fmt.Sprint(args...)
	line := fmt.Sprintf("W : (%s) - %s\n", callerString(2), msg)
	if Testing != 0 {
		TestStr = strings.TrimSuffix(line, "\n")
		mu.Lock()
		testErrBuf = TestStr
		mu.Unlock()
	}
	stdErr(line)
}

// Error always prints its arguments to stderr.
func Error(args ...interface{}) {
	msg := fmt.Sprint(args...)
	line := fmt.Sprintf("E : (%s) - %s\n", callerString(2), msg)
	if Testing != 0 {
		TestStr = strings.TrimSuffix(line, "\n")
		mu.Lock()
		testErrBuf = TestStr
		mu.Unlock()
	}
	stdErr(line)
}

// Errorf is Error with printf-style formatting.
func Errorf(format string, args ...interface{}) {
	Error(fmt.Sprintf(format, args...))
}

// Fatal prints its arguments to stderr then terminates the process.
func Fatal(args ...interface{}) {
	Error(args...)
	os.Exit(1)
}

// Panic prints its arguments to stderr then panics. Used for invariant
// breaches that should never happen on a well-typed input.
func Panic(args ...interface{}) {
	msg := fmt.Sprint(args...)
	Error(msg)
	panic(msg)
}

// ErrFatal calls Fatal with the given message and error if err is non-nil.
func ErrFatal(err error, args ...interface{}) {
	if err == nil {
		return
	}
	Fatal(append(args, err)...)
}

func stdToOs() {
	stdOut = func(s string) { fmt.Fprint(os.Stdout, s) }
	stdErr = func(s string) { fmt.Fprint(os.Stderr, s) }
}

func stdToBuf() {
	stdOut = func(s string) { TestStr = strings.TrimSuffix(s, "\n") }
	stdErr = func(s string) { TestStr = strings.TrimSuffix(s, "\n") }
}

func getStdOut() string {
	mu.Lock()
	defer mu.Unlock()
	return testOutBuf
}

func getStdErr() string {
	mu.Lock()
	defer mu.Unlock()
	return testErrBuf
}
