package dpdb

import "github.com/klauspost/compress/zstd"

// compressEncoder/compressDecoder mirror the teacher's package-level zstd
// wrapper, but here compression is opt-in per Options.Compress rather than
// applied to every payload unconditionally: scalar payloads only, and only
// when the caller asked for it, so the D tag's wire format matches the
// spec literally by default.
var compressEncoder, _ = zstd.NewWriter(nil)

func compressBytes(src []byte) []byte {
	return compressEncoder.EncodeAll(src, make([]byte, 0, len(src)))
}

// compressDecoder caches decompressors; supplied a nil Reader since callers
// always hand it a complete in-memory frame.
var compressDecoder, _ = zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))

func decompressBytes(src []byte) ([]byte, error) {
	return compressDecoder.DecodeAll(src, nil)
}
