package indexedgzip

import (
	"encoding/binary"
	"io"
	"os"
	"runtime"

	"github.com/rclone/rnbd/internal/nbderr"
)

// nativeOrder picks the byte order spec.md §4.5.4/§9 call "host-endian":
// real persisted indexes are only ever read back on the machine that
// wrote them, so the exact choice doesn't matter for correctness, only
// for determinism of what gets written. We select by GOARCH rather than
// hardcoding one value so the on-disk bytes actually match this host's
// native order, per the format's own stated assumption.
func nativeOrder() binary.ByteOrder {
	switch runtime.GOARCH {
	case "s390x", "ppc64", "mips", "mips64":
		return binary.BigEndian
	default:
		return binary.LittleEndian
	}
}

const maxPersistedPoints = 1_000_000

// SaveIndex writes idx to path in the fixed-width record format of
// spec.md §4.5.4: header {have, mode, length} then one record per access
// point {out, in, bits, dict, window}.
func SaveIndex(path string, idx *Index) error {
	f, err := os.Create(path)
	if err != nil {
		return nbderr.Wrap(nbderr.IOFailure, err, "indexedgzip: create index file")
	}
	defer f.Close()

	order := nativeOrder()
	if err := binary.Write(f, order, int32(len(idx.Points))); err != nil {
		return nbderr.Wrap(nbderr.IOFailure, err, "indexedgzip: write header")
	}
	if err := binary.Write(f, order, int32(idx.Mode)); err != nil {
		return nbderr.Wrap(nbderr.IOFailure, err, "indexedgzip: write header")
	}
	if err := binary.Write(f, order, idx.TotalUncompressedLength); err != nil {
		return nbderr.Wrap(nbderr.IOFailure, err, "indexedgzip: write header")
	}

	for _, p := range idx.Points {
		if err := binary.Write(f, order, p.UncompressedOffset); err != nil {
			return nbderr.Wrap(nbderr.IOFailure, err, "indexedgzip: write record")
		}
		if err := binary.Write(f, order, p.CompressedOffset); err != nil {
			return nbderr.Wrap(nbderr.IOFailure, err, "indexedgzip: write record")
		}
		if err := binary.Write(f, order, int32(p.BitRemainder)); err != nil {
			return nbderr.Wrap(nbderr.IOFailure, err, "indexedgzip: write record")
		}
		if err := binary.Write(f, order, uint32(len(p.Window))); err != nil {
			return nbderr.Wrap(nbderr.IOFailure, err, "indexedgzip: write record")
		}
		if len(p.Window) > 0 {
			if _, err := f.Write(p.Window); err != nil {
				return nbderr.Wrap(nbderr.IOFailure, err, "indexedgzip: write window")
			}
		}
	}
	return nil
}

// LoadIndex reads an index file previously written by SaveIndex,
// rejecting anything that fails spec.md §4.5.4's validation rules rather
// than trusting a corrupt or foreign-format file.
func LoadIndex(path string) (*Index, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nbderr.Wrap(nbderr.IOFailure, err, "indexedgzip: open index file")
	}
	defer f.Close()

	order := nativeOrder()
	var have, mode int32
	var length int64
	if err := binary.Read(f, order, &have); err != nil {
		return nil, nbderr.Wrap(nbderr.FormatError, err, "indexedgzip: read header")
	}
	if err := binary.Read(f, order, &mode); err != nil {
		return nil, nbderr.Wrap(nbderr.FormatError, err, "indexedgzip: read header")
	}
	if err := binary.Read(f, order, &length); err != nil {
		return nil, nbderr.Wrap(nbderr.FormatError, err, "indexedgzip: read header")
	}

	if have < 0 || have > maxPersistedPoints {
		return nil, nbderr.New(nbderr.FormatError, "indexedgzip: implausible access-point count")
	}
	if StreamMode(mode) < ModeRaw || StreamMode(mode) > ModeBzip2 {
		return nil, nbderr.New(nbderr.FormatError, "indexedgzip: unknown stream mode")
	}
	if length < 0 {
		return nil, nbderr.New(nbderr.FormatError, "indexedgzip: negative length")
	}

	idx := &Index{Mode: StreamMode(mode), TotalUncompressedLength: length}
	idx.Points = make([]AccessPoint, 0, have)
	for i := int32(0); i < have; i++ {
		var out, in int64
		var bits int32
		var dict uint32
		if err := binary.Read(f, order, &out); err != nil {
			return nil, nbderr.Wrap(nbderr.FormatError, err, "indexedgzip: read record")
		}
		if err := binary.Read(f, order, &in); err != nil {
			return nil, nbderr.Wrap(nbderr.FormatError, err, "indexedgzip: read record")
		}
		if err := binary.Read(f, order, &bits); err != nil {
			return nil, nbderr.Wrap(nbderr.FormatError, err, "indexedgzip: read record")
		}
		if err := binary.Read(f, order, &dict); err != nil {
			return nil, nbderr.Wrap(nbderr.FormatError, err, "indexedgzip: read record")
		}
		if bits < 0 || bits > 7 {
			return nil, nbderr.New(nbderr.FormatError, "indexedgzip: bit_remainder out of range")
		}
		if dict > 32768 {
			return nil, nbderr.New(nbderr.FormatError, "indexedgzip: dictionary too large")
		}
		window := make([]byte, dict)
		if dict > 0 {
			if _, err := io.ReadFull(f, window); err != nil {
				return nil, nbderr.Wrap(nbderr.FormatError, err, "indexedgzip: read window")
			}
		}
		idx.Points = append(idx.Points, AccessPoint{
			UncompressedOffset: out,
			CompressedOffset:   in,
			BitRemainder:       uint8(bits),
			Window:             window,
		})
	}
	return idx, nil
}
