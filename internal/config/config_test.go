package config

import (
	"bytes"
	"flag"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	var out bytes.Buffer
	c, err := Parse([]string{
		"-struct", "_PEB", "-addr", "0x7ff000", "-count", "2", "-shallow",
		"-image", "dump.bin", "-image-base", "0o100", "-pointer-size", "4",
		"file.pdb",
	}, &out)
	require.NoError(t, err)

	assert.Equal(t, "file.pdb", c.PDBFile)
	assert.Equal(t, "_PEB", c.Struct)
	assert.EqualValues(t, 0x7ff000, c.Addr)
	assert.Equal(t, 2, c.Count)
	assert.True(t, c.Shallow)
	assert.EqualValues(t, 0o100, c.ImageBase)
	assert.Equal(t, 4, c.PointerSize)
	assert.False(t, c.Info, "an action was given")
	assert.Empty(t, out.String())
}

func TestParseDefaults(t *testing.T) {
	c, err := Parse([]string{"file.pdb"}, &bytes.Buffer{})
	require.NoError(t, err)
	assert.True(t, c.Info)
	assert.Equal(t, 1, c.Count)
	assert.Zero(t, c.PointerSize)
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"no file", nil},
		{"two files", []string{"a.pdb", "b.pdb"}},
		{"bad address", []string{"-addr", "zz", "a.pdb"}},
		{"bad pointer size", []string{"-pointer-size", "2", "a.pdb"}},
		{"bad count", []string{"-count", "0", "a.pdb"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.args, &bytes.Buffer{})
			assert.Error(t, err)
		})
	}

	_, err := Parse([]string{"-h"}, &bytes.Buffer{})
	assert.ErrorIs(t, err, flag.ErrHelp)
}
