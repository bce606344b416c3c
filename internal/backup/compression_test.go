package backup

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zesty-backup/internal/errors"
)

func TestGetCodec(t *testing.T) {
	tests := []struct {
		format    CompressionType
		extension string
		maxLevel  int
	}{
		{CompressionTypeZstd, "tar.zst", 22},
		{CompressionTypeGzip, "tar.gz", 9},
		{CompressionTypeLZ4, "tar.lz4", 9},
		{CompressionTypeNone, "tar", 0},
		{"", "tar.zst", 22},
		{"GZIP", "tar.gz", 9},
	}

	for _, tt := range tests {
		t.Run(string(tt.format), func(t *testing.T) {
			codec, err := GetCodec(tt.format)
			require.NoError(t, err)
			assert.Equal(t, tt.extension, codec.Extension())
			assert.Equal(t, tt.maxLevel, codec.MaxLevel())
		})
	}

	_, err := GetCodec("brotli")
	require.Error(t, err)
	assert.Equal(t, errors.ErrorTypeConfig, errors.GetErrorType(err))
}

func TestResolveCodec_LevelValidation(t *testing.T) {
	tests := []struct {
		name      string
		format    CompressionType
		level     int
		wantErr   bool
		wantCodec CompressionType
	}{
		{"zstd default", CompressionTypeZstd, 3, false, CompressionTypeZstd},
		{"zstd max", CompressionTypeZstd, 22, false, CompressionTypeZstd},
		{"zstd above max", CompressionTypeZstd, 23, true, ""},
		{"negative", CompressionTypeZstd, -1, true, ""},
		{"gzip above max", CompressionTypeGzip, 10, true, ""},
		{"lz4 max", CompressionTypeLZ4, 9, false, CompressionTypeLZ4},
		{"store only", CompressionTypeGzip, 0, false, CompressionTypeNone},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			codec, err := ResolveCodec(tt.format, tt.level)
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, errors.ErrorTypeConfig, errors.GetErrorType(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantCodec, codec.Format())
		})
	}
}

func TestCodecForName(t *testing.T) {
	tests := map[string]CompressionType{
		"backup-20240101-120000.tar.zst": CompressionTypeZstd,
		"backup-20240101-120000.tar.gz":  CompressionTypeGzip,
		"backup-20240101-120000.tar.lz4": CompressionTypeLZ4,
		"backup-20240101-120000.tar":     CompressionTypeNone,
	}
	for name, want := range tests {
		codec, err := CodecForName(name)
		require.NoError(t, err, name)
		assert.Equal(t, want, codec.Format(), name)
	}

	_, err := CodecForName("backup-20240101-120000.zip")
	assert.Error(t, err)
}

func TestCodecs_StreamRoundTrip(t *testing.T) {
	payload := []byte(strings.Repeat("zesty backup payload ", 2048))

	for _, format := range SupportedFormats() {
		t.Run(string(format), func(t *testing.T) {
			codec, err := GetCodec(format)
			require.NoError(t, err)

			var buf bytes.Buffer
			writer, err := codec.NewWriter(&buf, codec.MaxLevel())
			require.NoError(t, err)
			_, err = writer.Write(payload)
			require.NoError(t, err)
			require.NoError(t, writer.Close())

			if format != CompressionTypeNone {
				assert.Less(t, buf.Len(), len(payload), "expected compressed output to be smaller")
			}

			reader, err := codec.NewReader(&buf)
			require.NoError(t, err)
			defer reader.Close()

			decoded, err := io.ReadAll(reader)
			require.NoError(t, err)
			assert.Equal(t, payload, decoded)
		})
	}
}

func TestCalculateCompressionRatio(t *testing.T) {
	assert.Equal(t, 1.0, CalculateCompressionRatio(0, 10))
	assert.Equal(t, 0.25, CalculateCompressionRatio(400, 100))
}
