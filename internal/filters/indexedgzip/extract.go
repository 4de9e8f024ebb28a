package indexedgzip

import (
	"compress/bzip2"
	"compress/flate"
	"compress/gzip"
	"compress/zlib"
	"io"
	"sort"

	"github.com/rclone/rnbd/internal/nbderr"
)

// pointFor returns the access point with the greatest UncompressedOffset
// not exceeding offset (spec.md §4.5.2 step 2's binary search).
func (idx *Index) pointFor(offset int64) AccessPoint {
	i := sort.Search(len(idx.Points), func(i int) bool {
		return idx.Points[i].UncompressedOffset > offset
	})
	if i == 0 {
		return idx.Points[0]
	}
	return idx.Points[i-1]
}

func (idx *Index) newDecoderAt(ra io.ReaderAt, p AccessPoint) (io.Reader, *offsetReader, error) {
	or := &offsetReader{ra: ra, pos: p.CompressedOffset}
	switch idx.Mode {
	case ModeGzip:
		gz, err := gzip.NewReader(or)
		if err != nil {
			return nil, nil, nbderr.Wrap(nbderr.FormatError, err, "indexedgzip: reopen gzip member")
		}
		gz.Multistream(false)
		return gz, or, nil
	case ModeZlib:
		zr, err := zlib.NewReader(or)
		if err != nil {
			return nil, nil, nbderr.Wrap(nbderr.FormatError, err, "indexedgzip: reopen zlib stream")
		}
		return zr, or, nil
	case ModeBzip2:
		return bzip2.NewReader(or), or, nil
	default:
		return flate.NewReader(or), or, nil
	}
}

// Extract serves spec.md §4.5.2: locate the nearest access point at or
// before offset, discard forward to it, then emit len(buf) bytes,
// transparently crossing gzip member boundaries as needed.
func (idx *Index) Extract(ra io.ReaderAt, buf []byte, offset int64) error {
	if offset >= idx.TotalUncompressedLength || len(buf) == 0 {
		return nil
	}

	p := idx.pointFor(offset)
	dec, or, err := idx.newDecoderAt(ra, p)
	if err != nil {
		return err
	}

	if toDiscard := offset - p.UncompressedOffset; toDiscard > 0 {
		if _, err := io.CopyN(io.Discard, dec, toDiscard); err != nil {
			return nbderr.Wrap(nbderr.IOFailure, err, "indexedgzip: seek to offset")
		}
	}

	want := len(buf)
	got := 0
	for got < want {
		n, rerr := dec.Read(buf[got:])
		got += n
		if rerr == nil {
			continue
		}
		if rerr != io.EOF {
			return nbderr.Wrap(nbderr.IOFailure, rerr, "indexedgzip: extract")
		}
		if idx.Mode != ModeGzip {
			return nil
		}
		gz := dec.(*gzip.Reader)
		switch rerr2 := gz.Reset(or); rerr2 {
		case io.EOF:
			return nil
		case nil:
			gz.Multistream(false)
		default:
			return nbderr.Wrap(nbderr.FormatError, rerr2, "indexedgzip: next member header")
		}
	}
	return nil
}
