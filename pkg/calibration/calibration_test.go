package calibration

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stores(t *testing.T) map[string]Store {
	return map[string]Store{
		"file":   NewFileStore(filepath.Join(t.TempDir(), "calibration.yaml")),
		"memory": NewMemoryStore(),
	}
}

func TestStore_RoundTrip(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			zeros := []uint16{5250, 5301, 5199}
			require.NoError(t, store.Write(KeyVoltage, zeros))

			got, err := store.Read(KeyVoltage, 3)
			require.NoError(t, err)
			assert.Equal(t, zeros, got)

			// Stored copy must not alias the caller slice.
			zeros[0] = 1
			got, err = store.Read(KeyVoltage, 3)
			require.NoError(t, err)
			assert.Equal(t, uint16(5250), got[0])
		})
	}
}

func TestStore_NeverWritten(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			got, err := store.Read(KeyCurrent, 3)
			require.NoError(t, err)
			assert.Equal(t, []uint16{0, 0, 0}, got)
			assert.True(t, Uncalibrated(got))
		})
	}
}

func TestStore_KeysAreIndependent(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, store.Write(KeyVoltage, []uint16{1, 2, 3}))
			require.NoError(t, store.Write(KeyCurrent, []uint16{4, 5, 6}))
			require.NoError(t, store.Write(KeyVoltage, []uint16{7, 8, 9}))

			v, err := store.Read(KeyVoltage, 3)
			require.NoError(t, err)
			c, err := store.Read(KeyCurrent, 3)
			require.NoError(t, err)
			assert.Equal(t, []uint16{7, 8, 9}, v)
			assert.Equal(t, []uint16{4, 5, 6}, c)
		})
	}
}

func TestStore_FitsLength(t *testing.T) {
	store := NewMemoryStore()
	require.NoError(t, store.Write(KeyVoltage, []uint16{1, 2}))

	got, err := store.Read(KeyVoltage, 3)
	require.NoError(t, err)
	assert.Equal(t, []uint16{1, 2, 0}, got)

	got, err = store.Read(KeyVoltage, 1)
	require.NoError(t, err)
	assert.Equal(t, []uint16{1}, got)
}

func TestFileStore_Persists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "calibration.yaml")
	require.NoError(t, NewFileStore(path).Write(KeyCurrent, []uint16{10, 20, 30}))

	got, err := NewFileStore(path).Read(KeyCurrent, 3)
	require.NoError(t, err)
	assert.Equal(t, []uint16{10, 20, 30}, got)
}

func TestFileStore_Corrupted(t *testing.T) {
	path := filepath.Join(t.TempDir(), "calibration.yaml")
	require.NoError(t, os.WriteFile(path, []byte("voltage: [1, 2"), 0644))

	store := NewFileStore(path)
	got, err := store.Read(KeyVoltage, 2)
	assert.Error(t, err)
	assert.Equal(t, []uint16{0, 0}, got)

	assert.Error(t, store.Write(KeyVoltage, []uint16{1, 2}))
}

func TestUncalibrated(t *testing.T) {
	assert.True(t, Uncalibrated(nil))
	assert.True(t, Uncalibrated([]uint16{0, 5, 5}))
	assert.False(t, Uncalibrated([]uint16{5, 0, 0}))
}
