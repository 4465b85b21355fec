package main

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"inferpay/config"
)

func TestOpenStorageBackends(t *testing.T) {
	for _, backend := range []string{config.BackendMemory, config.BackendBolt, config.BackendLevelDB} {
		t.Run(backend, func(t *testing.T) {
			db, err := openStorage(backend, filepath.Join(t.TempDir(), "data"))
			require.NoError(t, err)
			require.NoError(t, db.Put([]byte("k"), []byte("v")))
			got, err := db.Get([]byte("k"))
			require.NoError(t, err)
			require.Equal(t, []byte("v"), got)
			require.NoError(t, db.Close())
		})
	}
}

func TestOpenStorageRejectsUnknownBackend(t *testing.T) {
	_, err := openStorage("rocksdb", t.TempDir())
	require.Error(t, err)
}
