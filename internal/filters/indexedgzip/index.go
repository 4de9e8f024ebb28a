// Package indexedgzip implements the indexed-decompression layer of
// spec.md §4.5: a random-access index over a compressed stream, built by
// walking it once and recording an access point at each valid decoder
// restart boundary that lies at least span bytes past the previous point,
// plus an LRU of recently decompressed blocks.
//
// Go's compress/flate exposes no inflatePrime/inflateSetDictionary
// equivalent, so arbitrary mid-stream seeking with bit-level priming
// (spec.md §9's "bit-level seek into a deflate stream" note) is not
// available here. Access points are only ever recorded at byte-aligned,
// independently decodable boundaries: for multi-member gzip, that is
// every member's own header (no dictionary priming needed, since each
// member is self-contained); for zlib, raw deflate and bzip2, the only
// such boundary is the very start of the stream, so those modes get a
// single access point and every read before it replays from offset 0 —
// the same reduced-capability shape already used for bzip2 in this
// project's design notes. BuildIndex picks the mode from the first byte
// alone (gzip, zlib, otherwise raw deflate), so it never selects
// ModeBzip2; that mode is reached only through a loaded index file whose
// header names it.
package indexedgzip

import (
	"compress/bzip2"
	"compress/flate"
	"compress/gzip"
	"compress/zlib"
	"io"

	"github.com/rclone/rnbd/internal/nbderr"
)

// StreamMode identifies the compression container detected from the
// stream's leading bytes (spec.md §4.5.1).
type StreamMode int32

const (
	ModeRaw StreamMode = iota
	ModeZlib
	ModeGzip
	ModeBzip2
)

// AccessPoint is one entry of spec.md §3's access-point index. Window is
// the dictionary payload recorded for this point; it is empty for every
// point this package records, since every recorded point is a fresh
// decoder boundary that needs no prior history.
type AccessPoint struct {
	UncompressedOffset int64
	CompressedOffset   int64
	BitRemainder       uint8
	Window             []byte
}

// Index is the built, immutable access-point table for one compressed
// stream (spec.md §3).
type Index struct {
	Mode                    StreamMode
	TotalUncompressedLength int64
	Points                  []AccessPoint
}

// DetectMode implements spec.md §4.5.1's leading-byte sniff.
func DetectMode(first byte) StreamMode {
	switch {
	case first == 0x1f:
		return ModeGzip
	case first&0x0f == 8:
		return ModeZlib
	default:
		return ModeRaw
	}
}

// offsetReader sequentially reads an io.ReaderAt, tracking the cumulative
// byte offset consumed so far. Constructing a fresh decoder over it at a
// given starting pos, then continuing to read from the same instance
// across gzip member boundaries, is what lets BuildIndex and Extract
// share one notion of "current compressed offset" without the stdlib
// compression readers needing to expose it themselves.
type offsetReader struct {
	ra  io.ReaderAt
	pos int64
}

func (o *offsetReader) Read(p []byte) (int, error) {
	n, err := o.ra.ReadAt(p, o.pos)
	o.pos += int64(n)
	return n, err
}

// ReadByte makes offsetReader a flate.Reader, so the gzip, zlib and flate
// decoders read from it directly instead of through a read-ahead buffer,
// and pos never runs past what they have actually consumed.
func (o *offsetReader) ReadByte() (byte, error) {
	var b [1]byte
	n, err := o.ra.ReadAt(b[:], o.pos)
	if n == 1 {
		o.pos++
		return b[0], nil
	}
	if err == nil {
		err = io.EOF
	}
	return 0, err
}

// BuildIndex walks the whole stream once (spec.md §4.5.1), detecting the
// container from the first byte and recording access points at every
// boundary span bytes (or more) past the previous one.
func BuildIndex(ra io.ReaderAt, span int64) (*Index, error) {
	var firstByte [1]byte
	if _, err := ra.ReadAt(firstByte[:], 0); err != nil {
		return nil, nbderr.Wrap(nbderr.FormatError, err, "indexedgzip: read leading byte")
	}
	mode := DetectMode(firstByte[0])

	if mode == ModeGzip {
		return buildGzipIndex(ra, span)
	}
	return buildSingleAccessIndex(ra, mode)
}

func buildGzipIndex(ra io.ReaderAt, span int64) (*Index, error) {
	or := &offsetReader{ra: ra}
	gz, err := gzip.NewReader(or)
	if err != nil {
		return nil, nbderr.Wrap(nbderr.FormatError, err, "indexedgzip: gzip header")
	}
	gz.Multistream(false)

	idx := &Index{Mode: ModeGzip}
	var totalOut int64
	var memberStart int64
	for {
		if len(idx.Points) == 0 || totalOut-idx.Points[len(idx.Points)-1].UncompressedOffset >= span {
			idx.Points = append(idx.Points, AccessPoint{
				UncompressedOffset: totalOut,
				CompressedOffset:   memberStart,
			})
		}

		n, cerr := io.Copy(io.Discard, gz)
		totalOut += n
		if cerr != nil && cerr != io.EOF {
			return nil, nbderr.Wrap(nbderr.FormatError, cerr, "indexedgzip: decompress member")
		}

		memberStart = or.pos
		rerr := gz.Reset(or)
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return nil, nbderr.Wrap(nbderr.FormatError, rerr, "indexedgzip: next member header")
		}
		gz.Multistream(false)
	}

	idx.TotalUncompressedLength = totalOut
	if len(idx.Points) == 0 {
		return nil, nbderr.New(nbderr.FormatError, "indexedgzip: empty stream")
	}
	return idx, nil
}

func buildSingleAccessIndex(ra io.ReaderAt, mode StreamMode) (*Index, error) {
	or := &offsetReader{ra: ra}
	var r io.Reader
	switch mode {
	case ModeZlib:
		zr, err := zlib.NewReader(or)
		if err != nil {
			return nil, nbderr.Wrap(nbderr.FormatError, err, "indexedgzip: zlib header")
		}
		r = zr
	case ModeBzip2:
		r = bzip2.NewReader(or)
	default:
		r = flate.NewReader(or)
	}

	n, err := io.Copy(io.Discard, r)
	if err != nil {
		return nil, nbderr.Wrap(nbderr.FormatError, err, "indexedgzip: decompress stream")
	}

	return &Index{
		Mode:                    mode,
		TotalUncompressedLength: n,
		Points:                  []AccessPoint{{UncompressedOffset: 0, CompressedOffset: 0}},
	}, nil
}
