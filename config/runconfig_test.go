package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "run.toml")

	rc := DefaultRunConfig()
	rc.CFG.MaxSteps = 42
	rc.Distributed.SchedulingStrategy = ScheduleFair

	require.NoError(t, rc.Save(file))

	loaded, err := LoadRunConfig(file)
	require.NoError(t, err)
	require.Equal(t, 42, loaded.CFG.MaxSteps)
	require.Equal(t, ScheduleFair, loaded.Distributed.SchedulingStrategy)
	require.Equal(t, ChoiceFirst, loaded.CFG.ChoiceStrategy)
}

func TestLoadPartialOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "partial.toml")
	require.NoError(t, os.WriteFile(file, []byte("[cfg_simulator]\nmax_steps = 5\n"), 0o644))

	rc, err := LoadRunConfig(file)
	require.NoError(t, err)
	require.Equal(t, 5, rc.CFG.MaxSteps)
	require.Equal(t, DefaultRunConfig().CallStack.MaxDepth, rc.CallStack.MaxDepth)
}

func TestModuleSourceResolve(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Sub.scr"), []byte("protocol Sub(role A) {}"), 0o644))

	ms := ModuleSource{Path: filepath.Join(dir, "Main.scr")}
	p, err := ms.Resolve("Sub")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "Sub.scr"), p)

	_, err = ms.Resolve("Missing")
	require.Error(t, err)
	var notFound *ImportNotFoundError
	require.ErrorAs(t, err, &notFound)
}
