package backup

import (
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"zesty-backup/internal/errors"
)

// CompressionType identifies the container/compression format of an archive
type CompressionType string

const (
	CompressionTypeNone CompressionType = "none"
	CompressionTypeGzip CompressionType = "gzip"
	CompressionTypeLZ4  CompressionType = "lz4"
	CompressionTypeZstd CompressionType = "zstd"
)

// Codec wraps a tar stream in a compression format
type Codec interface {
	Format() CompressionType
	// Extension is the archive suffix without the leading dot, e.g. "tar.zst"
	Extension() string
	DefaultLevel() int
	MaxLevel() int
	NewWriter(w io.Writer, level int) (io.WriteCloser, error)
	NewReader(r io.Reader) (io.ReadCloser, error)
}

var codecs = map[CompressionType]Codec{
	CompressionTypeNone: noneCodec{},
	CompressionTypeGzip: gzipCodec{},
	CompressionTypeLZ4:  lz4Codec{},
	CompressionTypeZstd: zstdCodec{},
}

// GetCodec returns the codec registered for a format name
func GetCodec(format CompressionType) (Codec, error) {
	if format == "" {
		format = CompressionTypeZstd
	}
	codec, ok := codecs[CompressionType(strings.ToLower(string(format)))]
	if !ok {
		return nil, errors.NewConfigError(fmt.Sprintf("unsupported compression format: %s", format), nil)
	}
	return codec, nil
}

// SupportedFormats lists the accepted compression_format values
func SupportedFormats() []CompressionType {
	return []CompressionType{CompressionTypeZstd, CompressionTypeGzip, CompressionTypeLZ4, CompressionTypeNone}
}

// ValidateLevel rejects a level outside [0, codec.MaxLevel()]
func ValidateLevel(codec Codec, level int) error {
	if level < 0 || level > codec.MaxLevel() {
		return errors.NewConfigError(
			fmt.Sprintf("compression level %d out of range [0, %d] for %s", level, codec.MaxLevel(), codec.Format()), nil).
			WithContext("level", level)
	}
	return nil
}

// ResolveCodec validates the level and returns the codec that writes it.
// Level 0 is store-only and always produces a plain tar.
func ResolveCodec(format CompressionType, level int) (Codec, error) {
	codec, err := GetCodec(format)
	if err != nil {
		return nil, err
	}
	if err := ValidateLevel(codec, level); err != nil {
		return nil, err
	}
	if level == 0 {
		return codecs[CompressionTypeNone], nil
	}
	return codec, nil
}

// CodecForName picks the codec from an archive file name
func CodecForName(name string) (Codec, error) {
	// Longest suffixes first so "tar.zst" wins over "tar"
	for _, format := range []CompressionType{CompressionTypeZstd, CompressionTypeGzip, CompressionTypeLZ4, CompressionTypeNone} {
		codec := codecs[format]
		if strings.HasSuffix(name, "."+codec.Extension()) {
			return codec, nil
		}
	}
	return nil, errors.NewRestoreError(fmt.Sprintf("unrecognized archive format: %s", name), nil)
}

// CalculateCompressionRatio calculates the compression ratio
func CalculateCompressionRatio(originalSize, compressedSize int64) float64 {
	if originalSize == 0 {
		return 1.0
	}
	return float64(compressedSize) / float64(originalSize)
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

// noneCodec writes a plain tar
type noneCodec struct{}

func (noneCodec) Format() CompressionType { return CompressionTypeNone }
func (noneCodec) Extension() string       { return "tar" }
func (noneCodec) DefaultLevel() int       { return 0 }
func (noneCodec) MaxLevel() int           { return 0 }

func (noneCodec) NewWriter(w io.Writer, level int) (io.WriteCloser, error) {
	return nopWriteCloser{w}, nil
}

func (noneCodec) NewReader(r io.Reader) (io.ReadCloser, error) {
	return io.NopCloser(r), nil
}

// gzipCodec implements gzip compression
type gzipCodec struct{}

func (gzipCodec) Format() CompressionType { return CompressionTypeGzip }
func (gzipCodec) Extension() string       { return "tar.gz" }
func (gzipCodec) DefaultLevel() int       { return 6 }
func (gzipCodec) MaxLevel() int           { return gzip.BestCompression }

func (gzipCodec) NewWriter(w io.Writer, level int) (io.WriteCloser, error) {
	writer, err := gzip.NewWriterLevel(w, level)
	if err != nil {
		return nil, errors.NewArchiveBuildError("failed to create gzip writer", err)
	}
	return writer, nil
}

func (gzipCodec) NewReader(r io.Reader) (io.ReadCloser, error) {
	reader, err := gzip.NewReader(r)
	if err != nil {
		return nil, errors.NewRestoreError("failed to open gzip stream", err)
	}
	return reader, nil
}

// lz4Codec implements LZ4 frame compression
type lz4Codec struct{}

var lz4Levels = [...]lz4.CompressionLevel{
	lz4.Fast, lz4.Level1, lz4.Level2, lz4.Level3, lz4.Level4,
	lz4.Level5, lz4.Level6, lz4.Level7, lz4.Level8, lz4.Level9,
}

func (lz4Codec) Format() CompressionType { return CompressionTypeLZ4 }
func (lz4Codec) Extension() string       { return "tar.lz4" }
func (lz4Codec) DefaultLevel() int       { return 1 }
func (lz4Codec) MaxLevel() int           { return len(lz4Levels) - 1 }

func (lz4Codec) NewWriter(w io.Writer, level int) (io.WriteCloser, error) {
	writer := lz4.NewWriter(w)
	if err := writer.Apply(lz4.CompressionLevelOption(lz4Levels[level])); err != nil {
		return nil, errors.NewArchiveBuildError("failed to set LZ4 compression level", err)
	}
	return writer, nil
}

func (lz4Codec) NewReader(r io.Reader) (io.ReadCloser, error) {
	return io.NopCloser(lz4.NewReader(r)), nil
}

// zstdCodec implements Zstandard compression
type zstdCodec struct{}

func (zstdCodec) Format() CompressionType { return CompressionTypeZstd }
func (zstdCodec) Extension() string       { return "tar.zst" }
func (zstdCodec) DefaultLevel() int       { return 3 }
func (zstdCodec) MaxLevel() int           { return 22 }

func (zstdCodec) NewWriter(w io.Writer, level int) (io.WriteCloser, error) {
	encoder, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)))
	if err != nil {
		return nil, errors.NewArchiveBuildError("failed to create zstd encoder", err)
	}
	return encoder, nil
}

func (zstdCodec) NewReader(r io.Reader) (io.ReadCloser, error) {
	decoder, err := zstd.NewReader(r)
	if err != nil {
		return nil, errors.NewRestoreError("failed to open zstd stream", err)
	}
	return decoder.IOReadCloser(), nil
}
