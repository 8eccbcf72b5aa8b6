// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package devio

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseConfig(t *testing.T) {
	cfg, err := ParseConfig(testConfig)
	require.NoError(t, err)
	require.Len(t, cfg.Devices, 5)

	d, ok := cfg.Device("ctty")
	require.True(t, ok)
	require.Equal(t, DeviceConfig{Major: 5, Name: "ctty", Style: "ctty", Driver: "tty"}, d)
	_, ok = cfg.Device("printer")
	require.False(t, ok)

	tab := cfg.Table()
	require.IsType(t, TTYStyle{}, tab.Lookup(ttyMajor).Style)
	require.IsType(t, CttyStyle{}, tab.Lookup(cttyMajor).Style)
	require.IsType(t, CloneStyle{}, tab.Lookup(cloneMajor).Style)
	require.IsType(t, GenStyle{}, tab.Lookup(diskMajor).Style)
	require.IsType(t, NoDevStyle{}, tab.Lookup(9).Style)
	require.Equal(t, "tty", tab.Lookup(cttyMajor).Label)
	for i := 0; i < NR_DEVICES; i++ {
		require.Equal(t, None, tab.Lookup(i).Driver, "major %d", i)
	}
}

func TestParseConfigErrors(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{"syntax", `[[device]` + "\n"},
		{"style", "[[device]]\nmajor = 2\nname = \"x\"\nstyle = \"fancy\"\n"},
		{"range", "[[device]]\nmajor = 32\nname = \"x\"\nstyle = \"gen\"\n"},
		{"negative", "[[device]]\nmajor = -1\nname = \"x\"\nstyle = \"gen\"\n"},
		{"duplicate", "[[device]]\nmajor = 2\nname = \"x\"\nstyle = \"gen\"\n[[device]]\nmajor = 2\nname = \"y\"\nstyle = \"gen\"\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseConfig(tt.text)
			require.Error(t, err)
			require.Contains(t, err.Error(), "parse config")
		})
	}
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "dev.toml")
	require.NoError(t, os.WriteFile(file, []byte(testConfig), 0o666))
	cfg, err := LoadConfig(file)
	require.NoError(t, err)
	require.Len(t, cfg.Devices, 5)

	_, err = LoadConfig(filepath.Join(dir, "missing.toml"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "load config")
}
