package dpdb

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
)

// signature is the fixed 4-byte file header every dpdb file begins with.
const signature = "DPDB"

// Tag kinds, one ASCII byte each.
const (
	tagMap    byte = 'H' // map-root or child-map
	tagList   byte = 'A' // list-root or child-list
	tagIndex  byte = 'I' // index node
	tagBucket byte = 'B' // bucket list
	tagData   byte = 'D' // scalar bytes
	tagNull   byte = 'N' // null
)

// tag is the universal framing record: kind || pack_W(len(payload)) || payload.
// contentOffset is offset+1+W, the byte position of the first payload byte.
type tag struct {
	kind          byte
	offset        int64
	contentOffset int64
	payload       []byte
}

// file wraps the *os.File with the tag codec. It has no knowledge of the
// digest index, bucket engine, or value store built on top of it.
type file struct {
	f        *os.File
	cfg      Config
	end      int64
	compress bool
}

// packW encodes n as a big-endian unsigned integer in cfg.OffsetWidth bytes
// (4 or 8), the same encoding/binary big-endian codec the teacher uses for
// its own fixed-header fields.
func (cfg Config) packW(n int64) []byte {
	buf := make([]byte, cfg.OffsetWidth)
	if cfg.OffsetWidth == 8 {
		binary.BigEndian.PutUint64(buf, uint64(n))
		return buf
	}
	binary.BigEndian.PutUint32(buf, uint32(n))
	return buf
}

// unpackW decodes a big-endian unsigned integer from exactly cfg.OffsetWidth bytes.
func (cfg Config) unpackW(buf []byte) int64 {
	if cfg.OffsetWidth == 8 {
		return int64(binary.BigEndian.Uint64(buf))
	}
	return int64(binary.BigEndian.Uint32(buf))
}

// createTag writes kind||pack_W(len(content))||content at offset. If offset
// equals the file's current end, end is advanced by the record's size.
func (fl *file) createTag(offset int64, kind byte, content []byte) (*tag, error) {
	header := make([]byte, fl.cfg.tagHeaderSize())
	header[0] = kind
	copy(header[1:], fl.cfg.packW(int64(len(content))))

	if _, err := fl.f.WriteAt(header, offset); err != nil {
		return nil, fmt.Errorf("dpdb: write tag header at %d: %w", offset, err)
	}
	if len(content) > 0 {
		if _, err := fl.f.WriteAt(content, offset+int64(len(header))); err != nil {
			return nil, fmt.Errorf("dpdb: write tag payload at %d: %w", offset, err)
		}
	}

	size := int64(len(header) + len(content))
	if offset == fl.end {
		fl.end += size
	}

	return &tag{
		kind:          kind,
		offset:        offset,
		contentOffset: offset + int64(len(header)),
		payload:       content,
	}, nil
}

// loadTag reads the tag at offset. Returns (nil, nil) if offset is at or
// past end-of-file (absent), performing no validation beyond a reachable read.
func (fl *file) loadTag(offset int64) (*tag, error) {
	if offset < 0 || offset >= fl.end {
		return nil, nil
	}

	header := make([]byte, fl.cfg.tagHeaderSize())
	if _, err := io.ReadFull(io.NewSectionReader(fl.f, offset, int64(len(header))), header); err != nil {
		return nil, fmt.Errorf("dpdb: read tag header at %d: %w", offset, err)
	}

	kind := header[0]
	length := fl.cfg.unpackW(header[1:])
	payload := make([]byte, length)
	if length > 0 {
		if _, err := io.ReadFull(io.NewSectionReader(fl.f, offset+int64(len(header)), length), payload); err != nil {
			return nil, fmt.Errorf("dpdb: read tag payload at %d: %w", offset, err)
		}
	}

	return &tag{
		kind:          kind,
		offset:        offset,
		contentOffset: offset + int64(len(header)),
		payload:       payload,
	}, nil
}

// openFile opens path, writing the signature and an empty root tag if the
// file is new, or verifying the signature and loading the root tag's kind
// if it already exists.
func openFile(path string, cfg Config, wantType RootKind, readOnly bool) (*file, RootKind, error) {
	flag := os.O_RDWR | os.O_CREATE
	if readOnly {
		flag = os.O_RDONLY
	}
	f, err := os.OpenFile(path, flag, 0644)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrCannotOpen, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, fmt.Errorf("%w: %v", ErrCannotOpen, err)
	}

	fl := &file{f: f, cfg: cfg, end: info.Size()}

	if info.Size() == 0 {
		if readOnly {
			f.Close()
			return nil, 0, fmt.Errorf("%w: empty file opened read-only", ErrCannotOpen)
		}
		if _, err := f.WriteAt([]byte(signature), 0); err != nil {
			f.Close()
			return nil, 0, fmt.Errorf("%w: %v", ErrCannotOpen, err)
		}
		fl.end = int64(len(signature))
		kind := byte(wantType)
		if kind == 0 {
			kind = tagMap
		}
		if _, err := fl.createTag(fl.end, kind, make([]byte, cfg.indexNodeSize())); err != nil {
			f.Close()
			return nil, 0, err
		}
		return fl, RootKind(kind), nil
	}

	sig := make([]byte, len(signature))
	if _, err := io.ReadFull(io.NewSectionReader(f, 0, int64(len(sig))), sig); err != nil || string(sig) != signature {
		f.Close()
		return nil, 0, ErrSignatureMismatch
	}

	root, err := fl.loadTag(int64(len(signature)))
	if err != nil {
		f.Close()
		return nil, 0, err
	}
	if root == nil {
		f.Close()
		return nil, 0, fmt.Errorf("%w: missing root tag", ErrCannotOpen)
	}

	return fl, RootKind(root.kind), nil
}

func (fl *file) restat() error {
	info, err := fl.f.Stat()
	if err != nil {
		return err
	}
	fl.end = info.Size()
	return nil
}

func (fl *file) sync() error {
	return fl.f.Sync()
}

func (fl *file) close() error {
	return fl.f.Close()
}

const rootOffset = int64(len(signature))
