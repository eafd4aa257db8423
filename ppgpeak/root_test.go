package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itohio/pulsepeak/pkg/config"
	"github.com/itohio/pulsepeak/pkg/performer"
	"github.com/itohio/pulsepeak/pkg/store"
)

func writeConfig(t *testing.T, edit func(*config.Config)) string {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Labels.DatasetDir = filepath.Join(dir, "missing")
	cfg.Logging.Level = "error"
	cfg.Store.DSN = filepath.Join(dir, "sessions.db")
	cfg.Store.EnvFile = ""
	if edit != nil {
		edit(cfg)
	}
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, cfg.Save(path))
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := RootCommand(&appContext{})
	cmd.SetArgs(args)
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestRootCommand_Subcommands(t *testing.T) {
	cmd := RootCommand(&appContext{})
	var names []string
	for _, c := range cmd.Commands() {
		names = append(names, c.Name())
	}
	assert.Subset(t, names, []string{"label", "train", "loso", "detect", "serve", "acquire", "export", "report"})
	assert.NotNil(t, cmd.PersistentFlags().Lookup("config"))
}

func TestRootCommand_BadLogLevel(t *testing.T) {
	cfg := writeConfig(t, nil)
	_, err := run(t, "--config", cfg, "--log-level", "loud", "label")
	assert.Error(t, err)
}

func TestLabel_SyntheticFallback(t *testing.T) {
	cfg := writeConfig(t, nil)
	outDir := filepath.Join(t.TempDir(), "peaks")

	out, err := run(t, "--config", cfg, "label", "--out", outDir)
	require.NoError(t, err)
	assert.Contains(t, out, "SUBJECT")
	assert.Contains(t, out, "synth01")

	f, err := os.Open(filepath.Join(outDir, "peaks_synth01.csv"))
	require.NoError(t, err)
	defer f.Close()
	peaks, err := store.ReadAnnotations(f)
	require.NoError(t, err)
	assert.NotEmpty(t, peaks)
}

func TestLabel_NoFallback(t *testing.T) {
	cfg := writeConfig(t, func(c *config.Config) { c.Labels.DatasetFallback = false })
	_, err := run(t, "--config", cfg, "label")
	assert.Error(t, err)
}

func TestExport(t *testing.T) {
	dir := t.TempDir()
	model, err := performer.New(performer.Config{Window: 16, DModel: 8, Heads: 2, Layers: 1, Features: 4, FFMultiple: 2, Seed: 1})
	require.NoError(t, err)
	ckpt := filepath.Join(dir, "model.msgpack")
	require.NoError(t, model.Checkpoint(125).SaveFile(ckpt))

	out := filepath.Join(dir, "model_f16.msgpack")
	stdout, err := run(t, "--config", writeConfig(t, nil), "export", "--model", ckpt, out)
	require.NoError(t, err)
	assert.Contains(t, stdout, "values")

	info, err := os.Stat(out)
	require.NoError(t, err)
	assert.Positive(t, info.Size())
}

func TestExport_MissingModel(t *testing.T) {
	_, err := run(t, "--config", writeConfig(t, nil), "export", "--model", filepath.Join(t.TempDir(), "none"), "out.msgpack")
	assert.Error(t, err)
}

func TestAcquire_MockSaves(t *testing.T) {
	cfg := writeConfig(t, nil)
	out, err := run(t, "--config", cfg, "acquire", "--mock", "--duration", "300ms", "--save", "--user", "ana")
	require.NoError(t, err)
	assert.Contains(t, out, "Stored session")
}
