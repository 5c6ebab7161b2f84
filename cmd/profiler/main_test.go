package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunProfile(t *testing.T) {
	t.Parallel()

	for _, mode := range []string{modeMemory, modeDisk} {
		for _, compression := range []string{"none", "zstd", "gzip", "lz4"} {
			t.Run(mode+"/"+compression, func(t *testing.T) {
				t.Parallel()
				cfg := config{
					mode:        mode,
					files:       8,
					fileSize:    2048,
					chunkSize:   512,
					dirCount:    2,
					compression: compression,
					iterations:  2,
					tempDir:     t.TempDir(),
					randomSeed:  1,
				}
				data, err := buildArchive(cfg)
				require.NoError(t, err)
				open, cleanup, err := newOpener(cfg, data)
				require.NoError(t, err)
				assert.Nil(t, cleanup)

				stats, err := runProfile(cfg, open)
				require.NoError(t, err)
				assert.Equal(t, 2, stats.ops)
				assert.Equal(t, int64(2*8*2048), stats.bytes)
			})
		}
	}
}

func TestRunProfileOverHTTP(t *testing.T) {
	t.Parallel()

	cfg := config{
		mode:        modeMemory,
		files:       4,
		fileSize:    1024,
		compression: "zstd",
		iterations:  1,
		dataURL:     "local",
		dataHTTPBPS: 1 << 30,
	}
	data, err := buildArchive(cfg)
	require.NoError(t, err)
	open, cleanup, err := newOpener(cfg, data)
	require.NoError(t, err)
	require.NotNil(t, cleanup)
	t.Cleanup(cleanup)

	stats, err := runProfile(cfg, open)
	require.NoError(t, err)
	assert.Equal(t, int64(4*1024), stats.bytes)
}

func TestBuildArchiveUnknownCompression(t *testing.T) {
	t.Parallel()

	_, err := buildArchive(config{files: 1, fileSize: 1, compression: "brotli"})
	require.Error(t, err)
}
