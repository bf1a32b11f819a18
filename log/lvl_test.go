package log

import (
	"errors"
	"os"
	"strings"
	"testing"
)

func init() {
	Testing = 1
	SetUseColors(false)
}

func TestTime(t *testing.T) {
	Testing = 2
	SetDebugVisible(1)
	defer func() { Testing = 1 }()
	Lvl1("No time")
	if !strings.Contains(TestStr, "1 : (") {
		t.Fatal("Didn't get correct string: ", TestStr)
	}
	SetShowTime(true)
	defer func() { SetShowTime(false) }()
	Lvl1("With time")
	if !strings.Contains(TestStr, "1 : (") {
		t.Fatal("Didn't get correct string: ", TestStr)
	}
	if !strings.Contains(TestStr, " +") {
		t.Fatal("Didn't get correct string: ", TestStr)
	}
	if !strings.Contains(TestStr, "With time") {
		t.Fatal("Didn't get correct string: ", TestStr)
	}
}

func TestFlags(t *testing.T) {
	test := Testing
	Testing = 2
	lvl := DebugVisible()
	time := ShowTime()
	color := UseColors()
	SetDebugVisible(1)

	os.Setenv("DEBUG_LVL", "")
	os.Setenv("DEBUG_TIME", "")
	os.Setenv("DEBUG_COLOR", "")
	ParseEnv()
	if DebugVisible() != 1 {
		t.Fatal("DebugVisible should be 1")
	}
	if ShowTime() {
		t.Fatal("ShowTime should be false")
	}
	if UseColors() {
		t.Fatal("UseColors should be false")
	}

	os.Setenv("DEBUG_LVL", "3")
	os.Setenv("DEBUG_TIME", "true")
	os.Setenv("DEBUG_COLOR", "false")
	ParseEnv()
	if DebugVisible() != 3 {
		t.Fatal("DebugVisible should be 3")
	}
	if !ShowTime() {
		t.Fatal("ShowTime should be true")
	}
	if UseColors() {
		t.Fatal("UseColors should be false")
	}

	os.Setenv("DEBUG_LVL", "")
	os.Setenv("DEBUG_TIME", "")
	os.Setenv("DEBUG_COLOR", "")
	SetDebugVisible(lvl)
	SetShowTime(time)
	SetUseColors(color)
	Testing = test
}

func TestOutputFuncs(t *testing.T) {
	ErrFatal(checkOutput(func() {
		Lvl1("Testing stdout")
	}, true, false))
	ErrFatal(checkOutput(func() {
		LLvl1("Testing stdout")
	}, true, false))
	ErrFatal(checkOutput(func() {
		Print("Testing stdout")
	}, true, false))
	ErrFatal(checkOutput(func() {
		Warn("Testing stdout")
	}, false, true))
	ErrFatal(checkOutput(func() {
		Error("Testing errout")
	}, false, true))
}

func checkOutput(f func(), wantsStd, wantsErr bool) error {
	resetTestBuffers()
	f()
	stdStr := getStdOut()
	errStr := getStdErr()
	if wantsStd {
		if len(stdStr) == 0 {
			return errors.New("Stdout was empty")
		}
	} else {
		if len(stdStr) > 0 {
			return errors.New("Stdout was full")
		}
	}
	if wantsErr {
		if len(errStr) == 0 {
			return errors.New("Stderr was empty")
		}
	} else {
		if len(errStr) > 0 {
			return errors.New("Stderr was full")
		}
	}
	return nil
}

func TestLLvlAlwaysPrints(t *testing.T) {
	visible := DebugVisible()
	SetDebugVisible(0)
	defer SetDebugVisible(visible)

	ErrFatal(checkOutput(func() {
		Lvl1("should be suppressed")
	}, false, false))
	ErrFatal(checkOutput(func() {
		LLvl1("should still print")
	}, true, false))
}

func TestLvlfFormatsArguments(t *testing.T) {
	resetTestBuffers()
	Lvlf1("%d-%s", 3, "x")
	if !strings.Contains(TestStr, "3-x") {
		t.Fatal("Didn't format arguments: ", TestStr)
	}
}
