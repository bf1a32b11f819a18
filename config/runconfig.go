// Package config loads and saves the TOML-encoded run configuration used
// to parameterize the call-stack manager and the three simulators, and
// resolves the search path a module's import statements are looked up
// against. It deliberately does not read or parse Scribble source text
// itself — that remains a CLI concern (spec.md §1).
package config

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// ChoiceStrategy selects how the CFG simulator resolves a branch choice.
type ChoiceStrategy string

// Recognized ChoiceStrategy values.
const (
	ChoiceFirst  ChoiceStrategy = "first"
	ChoiceRandom ChoiceStrategy = "random"
	ChoiceManual ChoiceStrategy = "manual"
)

// TransitionStrategy selects how a CFSM simulator picks among several
// simultaneously-enabled local transitions.
type TransitionStrategy string

// Recognized TransitionStrategy values.
const (
	TransitionFirst  TransitionStrategy = "first"
	TransitionRandom TransitionStrategy = "random"
)

// SchedulingStrategy selects how the distributed simulator picks the next
// role to step.
type SchedulingStrategy string

// Recognized SchedulingStrategy values.
const (
	ScheduleRoundRobin SchedulingStrategy = "round_robin"
	ScheduleFair       SchedulingStrategy = "fair"
	ScheduleRandom     SchedulingStrategy = "random"
)

// DeliveryModel selects whether the distributed simulator honours
// per-pair FIFO delivery or delivers messages in arbitrary order.
type DeliveryModel string

// Recognized DeliveryModel values.
const (
	DeliveryFIFO      DeliveryModel = "fifo"
	DeliveryUnordered DeliveryModel = "unordered"
)

// CallStackConfig configures a callstack.Manager.
type CallStackConfig struct {
	MaxDepth      int  `toml:"max_depth"`
	MaxIterations int  `toml:"max_iterations"`
	EmitEvents    bool `toml:"emit_events"`
}

// CFGSimulatorConfig configures a cfgsim.Simulator.
type CFGSimulatorConfig struct {
	ChoiceStrategy ChoiceStrategy `toml:"choice_strategy"`
	RecordTrace    bool           `toml:"record_trace"`
	PreviewLimit   int            `toml:"preview_limit"`
	MaxSteps       int            `toml:"max_steps"`
}

// CFSMSimulatorConfig configures a cfsmsim.Simulator.
type CFSMSimulatorConfig struct {
	MaxBufferSize      int                `toml:"max_buffer_size"`
	RecordTrace        bool               `toml:"record_trace"`
	TransitionStrategy TransitionStrategy `toml:"transition_strategy"`
	VerifyFIFO         bool               `toml:"verify_fifo"`
}

// DistributedSimulatorConfig configures a distsim.Simulator.
type DistributedSimulatorConfig struct {
	SchedulingStrategy SchedulingStrategy `toml:"scheduling_strategy"`
	DeliveryModel      DeliveryModel      `toml:"delivery_model"`
	MaxGlobalSteps     int                `toml:"max_global_steps"`
	RecordTrace        bool               `toml:"record_trace"`
}

// RunConfig is the top-level TOML document describing one simulation run.
type RunConfig struct {
	CallStack    CallStackConfig            `toml:"call_stack"`
	CFG          CFGSimulatorConfig         `toml:"cfg_simulator"`
	CFSM         CFSMSimulatorConfig        `toml:"cfsm_simulator"`
	Distributed  DistributedSimulatorConfig `toml:"distributed_simulator"`
	StrictVerify bool                       `toml:"strict_verify"`
}

// DefaultRunConfig returns a RunConfig with conservative, always-terminating
// defaults suitable for running an unfamiliar protocol for the first time.
func DefaultRunConfig() RunConfig {
	return RunConfig{
		CallStack: CallStackConfig{
			MaxDepth:      64,
			MaxIterations: 1000,
			EmitEvents:    true,
		},
		CFG: CFGSimulatorConfig{
			ChoiceStrategy: ChoiceFirst,
			RecordTrace:    true,
			PreviewLimit:   3,
			MaxSteps:       1000,
		},
		CFSM: CFSMSimulatorConfig{
			MaxBufferSize:      0,
			RecordTrace:        true,
			TransitionStrategy: TransitionFirst,
			VerifyFIFO:         true,
		},
		Distributed: DistributedSimulatorConfig{
			SchedulingStrategy: ScheduleRoundRobin,
			DeliveryModel:      DeliveryFIFO,
			MaxGlobalSteps:     10000,
			RecordTrace:        true,
		},
	}
}

// Save writes rc to file as TOML.
func (rc RunConfig) Save(file string) error {
	fd, err := os.Create(file)
	if err != nil {
		return err
	}
	defer fd.Close()
	return toml.NewEncoder(fd).Encode(rc)
}

// LoadRunConfig reads a RunConfig from a TOML file, starting from
// DefaultRunConfig so that a partial file only overrides what it mentions.
func LoadRunConfig(file string) (RunConfig, error) {
	rc := DefaultRunConfig()
	_, err := toml.DecodeFile(file, &rc)
	if err != nil {
		return RunConfig{}, err
	}
	return rc, nil
}

// ModuleSource describes where a Scribble module's text lives and where
// its `import` statements should be resolved against.
type ModuleSource struct {
	Path       string
	ImportDirs []string
}

// Resolve looks up an imported module name, trying "<name>.scr" first in
// the directory containing Path and then in each of ImportDirs in order,
// and returns the first match.
func (m ModuleSource) Resolve(name string) (string, error) {
	candidates := append([]string{filepath.Dir(m.Path)}, m.ImportDirs...)
	for _, dir := range candidates {
		p := filepath.Join(dir, name+".scr")
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", &ImportNotFoundError{Name: name, Dirs: candidates}
}

// ImportNotFoundError is returned by ModuleSource.Resolve when no import
// directory contains a matching module file.
type ImportNotFoundError struct {
	Name string
	Dirs []string
}

func (e *ImportNotFoundError) Error() string {
	return "import not found: " + e.Name
}
