package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jtang613/pdbview/internal/config"
	"github.com/jtang613/pdbview/internal/pdbtest"
)

// emptyPDB writes a container with only the old directory stream.
func emptyPDB(t *testing.T) string {
	t.Helper()
	b := pdbtest.NewMSF(512)
	b.AddStream([]byte{})
	path := filepath.Join(t.TempDir(), "empty.pdb")
	require.NoError(t, os.WriteFile(path, b.Bytes(), 0o600))
	return path
}

func runArgs(t *testing.T, args ...string) (map[string]json.RawMessage, error) {
	t.Helper()
	cfg, err := config.Parse(args, &bytes.Buffer{})
	require.NoError(t, err)

	var out bytes.Buffer
	if err := run(cfg, zap.NewNop(), &out, false); err != nil {
		return nil, err
	}
	var result map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(out.Bytes(), &result))
	return result, nil
}

func TestRunInfo(t *testing.T) {
	result, err := runArgs(t, emptyPDB(t))
	require.NoError(t, err)

	var info struct {
		Streams     int `json:"streams"`
		PointerSize int `json:"pointer_size"`
	}
	require.NoError(t, json.Unmarshal(result["info"], &info))
	assert.Equal(t, 1, info.Streams)
	assert.Equal(t, 8, info.PointerSize)
}

func TestRunExpr(t *testing.T) {
	result, err := runArgs(t, "-pointer-size", "4", "-expr", "sizeof(int *) * 2 + sizeof(short)", emptyPDB(t))
	require.NoError(t, err)
	assert.JSONEq(t, `{"value": 10}`, string(result["expr"]))
	assert.NotContains(t, result, "info")

	image := filepath.Join(t.TempDir(), "image.bin")
	require.NoError(t, os.WriteFile(image, []byte{0x2a, 0, 0, 0}, 0o600))
	result, err = runArgs(t, "-image", image, "-image-base", "0x1000", "-expr", "*(int *)0x1000", emptyPDB(t))
	require.NoError(t, err)

	var f struct {
		Address uint64 `json:"address"`
		Value   uint64 `json:"value"`
	}
	require.NoError(t, json.Unmarshal(result["expr"], &f))
	assert.EqualValues(t, 0x1000, f.Address)
	assert.EqualValues(t, 42, f.Value)
}

func TestRunErrors(t *testing.T) {
	_, err := runArgs(t, "-struct", "Missing", emptyPDB(t))
	assert.ErrorContains(t, err, "materializing Missing")

	_, err = runArgs(t, "-expr", "nope", emptyPDB(t))
	assert.ErrorContains(t, err, "Unknown identifier 'nope'")

	_, err = runArgs(t, filepath.Join(t.TempDir(), "missing.pdb"))
	assert.ErrorContains(t, err, "opening PDB")
}
