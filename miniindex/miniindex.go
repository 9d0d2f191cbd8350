// Package miniindex implements the minimizer Index: a mapping from
// minimizer hash to the set of PRG occurrences that produced it, with a
// binary persisted form.
package miniindex

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sort"

	metro "github.com/dgryski/go-metro"
	"github.com/klauspost/compress/zstd"

	"github.com/Danderson123/pandora/minimizer"
	"github.com/Danderson123/pandora/perrors"
)

const magic uint32 = 0x50414e44 // "PAND"

// recordKey identifies a distinct MiniRecord within one hash bucket.
type recordKey struct {
	prgID, knodeID uint32
	strand         bool
}

// Index maps a minimizer hash to a deduplicated set of MiniRecords.
type Index struct {
	W, K    int
	buckets map[uint64]map[recordKey]minimizer.MiniRecord
}

// New creates an empty Index for the given (w, k).
func New(w, k int) *Index {
	return &Index{W: w, K: k, buckets: make(map[uint64]map[recordKey]minimizer.MiniRecord)}
}

// Reserve hints at the expected number of distinct keys, for build-time
// allocation only.
func (idx *Index) Reserve(n int) {
	if idx.buckets == nil {
		idx.buckets = make(map[uint64]map[recordKey]minimizer.MiniRecord, n)
	}
}

// Add inserts mr into the set at key h. Idempotent.
func (idx *Index) Add(h uint64, mr minimizer.MiniRecord) {
	bucket, ok := idx.buckets[h]
	if !ok {
		bucket = make(map[recordKey]minimizer.MiniRecord, 1)
		idx.buckets[h] = bucket
	}
	k := recordKey{prgID: mr.PrgID, knodeID: mr.KnodeID, strand: mr.Strand}
	bucket[k] = mr
}

// Get returns the set of MiniRecords stored at h, or an empty slice when
// absent.
func (idx *Index) Get(h uint64) []minimizer.MiniRecord {
	bucket := idx.buckets[h]
	if len(bucket) == 0 {
		return nil
	}
	out := make([]minimizer.MiniRecord, 0, len(bucket))
	for _, mr := range bucket {
		out = append(out, mr)
	}
	return out
}

// NumKeys returns the number of distinct minimizer hashes stored.
func (idx *Index) NumKeys() int { return len(idx.buckets) }

// Save persists the index to prefix + ".w{W}.k{K}.idx", zstd-compressed,
// using a binary layout of magic, w, k, N keys, then N records of
// (h, count, [prg_id, knode_id, strand, path]...).
func (idx *Index) Save(prefix string) error {
	fn := indexFilename(prefix, idx.W, idx.K)
	fp, err := os.Create(fn)
	if err != nil {
		return &perrors.IOError{Path: fn, Cause: err}
	}
	defer fp.Close()

	zw, err := zstd.NewWriter(fp)
	if err != nil {
		return &perrors.IOError{Path: fn, Cause: err}
	}
	defer zw.Close()
	w := bufio.NewWriterSize(zw, 1<<20)

	if err := binary.Write(w, binary.LittleEndian, magic); err != nil {
		return &perrors.IOError{Path: fn, Cause: err}
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(idx.W)); err != nil {
		return &perrors.IOError{Path: fn, Cause: err}
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(idx.K)); err != nil {
		return &perrors.IOError{Path: fn, Cause: err}
	}

	keys := make([]uint64, 0, len(idx.buckets))
	for h := range idx.buckets {
		keys = append(keys, h)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	if err := binary.Write(w, binary.LittleEndian, uint64(len(keys))); err != nil {
		return &perrors.IOError{Path: fn, Cause: err}
	}

	for _, h := range keys {
		bucket := idx.buckets[h]
		if err := binary.Write(w, binary.LittleEndian, h); err != nil {
			return &perrors.IOError{Path: fn, Cause: err}
		}
		if err := binary.Write(w, binary.LittleEndian, uint32(len(bucket))); err != nil {
			return &perrors.IOError{Path: fn, Cause: err}
		}
		records := make([]minimizer.MiniRecord, 0, len(bucket))
		for _, mr := range bucket {
			records = append(records, mr)
		}
		sort.Slice(records, func(i, j int) bool {
			if records[i].PrgID != records[j].PrgID {
				return records[i].PrgID < records[j].PrgID
			}
			return records[i].KnodeID < records[j].KnodeID
		})
		for _, mr := range records {
			if err := writeRecord(w, mr); err != nil {
				return &perrors.IOError{Path: fn, Cause: err}
			}
		}
	}
	if err := w.Flush(); err != nil {
		return &perrors.IOError{Path: fn, Cause: err}
	}
	return nil
}

// Load reads an index previously written by Save. It rejects a file whose
// (w, k) header doesn't match the caller's request.
func Load(prefix string, w, k int) (*Index, error) {
	fn := indexFilename(prefix, w, k)
	fp, err := os.Open(fn)
	if err != nil {
		return nil, &perrors.IOError{Path: fn, Cause: err}
	}
	defer fp.Close()

	zr, err := zstd.NewReader(fp)
	if err != nil {
		return nil, &perrors.IOError{Path: fn, Cause: err}
	}
	defer zr.Close()
	r := bufio.NewReaderSize(zr, 1<<20)

	var gotMagic, gotW, gotK uint32
	if err := binary.Read(r, binary.LittleEndian, &gotMagic); err != nil {
		return nil, &perrors.IOError{Path: fn, Cause: err}
	}
	if gotMagic != magic {
		return nil, &perrors.ParseError{Line: 0, Reason: "bad index file magic"}
	}
	if err := binary.Read(r, binary.LittleEndian, &gotW); err != nil {
		return nil, &perrors.IOError{Path: fn, Cause: err}
	}
	if err := binary.Read(r, binary.LittleEndian, &gotK); err != nil {
		return nil, &perrors.IOError{Path: fn, Cause: err}
	}
	if int(gotW) != w || int(gotK) != k {
		return nil, &perrors.ParseError{
			Line:   0,
			Reason: fmt.Sprintf("index (w=%d,k=%d) does not match requested (w=%d,k=%d)", gotW, gotK, w, k),
		}
	}

	var numKeys uint64
	if err := binary.Read(r, binary.LittleEndian, &numKeys); err != nil {
		return nil, &perrors.IOError{Path: fn, Cause: err}
	}

	idx := New(w, k)
	idx.Reserve(int(numKeys))
	for i := uint64(0); i < numKeys; i++ {
		var h uint64
		if err := binary.Read(r, binary.LittleEndian, &h); err != nil {
			return nil, &perrors.IOError{Path: fn, Cause: err}
		}
		var count uint32
		if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
			return nil, &perrors.IOError{Path: fn, Cause: err}
		}
		for j := uint32(0); j < count; j++ {
			mr, err := readRecord(r)
			if err != nil {
				return nil, &perrors.IOError{Path: fn, Cause: err}
			}
			idx.Add(h, mr)
		}
	}
	return idx, nil
}

func indexFilename(prefix string, w, k int) string {
	return fmt.Sprintf("%s.w%d.k%d.idx", prefix, w, k)
}

// encodeRecord serializes mr into the same byte layout written by
// writeRecord, minus the trailing checksum, so the checksum can be computed
// over and verified against identical bytes on both ends.
func encodeRecord(mr minimizer.MiniRecord) []byte {
	buf := make([]byte, 0, 13+8*len(mr.Path))
	buf = binary.LittleEndian.AppendUint32(buf, mr.PrgID)
	buf = binary.LittleEndian.AppendUint32(buf, mr.KnodeID)
	if mr.Strand {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(mr.Path)))
	for _, iv := range mr.Path {
		buf = binary.LittleEndian.AppendUint32(buf, uint32(iv.Start))
		buf = binary.LittleEndian.AppendUint32(buf, uint32(iv.End))
	}
	return buf
}

// checksum computes the metro hash of a record's encoded bytes, written
// after every record so Load can detect a corrupt or truncated .idx file.
func checksum(enc []byte) uint64 {
	return metro.Hash64(enc, 0)
}

func writeRecord(w io.Writer, mr minimizer.MiniRecord) error {
	enc := encodeRecord(mr)
	if _, err := w.Write(enc); err != nil {
		return err
	}
	return binary.Write(w, binary.LittleEndian, checksum(enc))
}

func readRecord(r io.Reader) (minimizer.MiniRecord, error) {
	var mr minimizer.MiniRecord
	header := make([]byte, 13)
	if _, err := io.ReadFull(r, header); err != nil {
		return mr, err
	}
	mr.PrgID = binary.LittleEndian.Uint32(header[0:4])
	mr.KnodeID = binary.LittleEndian.Uint32(header[4:8])
	mr.Strand = header[8] != 0
	numIv := binary.LittleEndian.Uint32(header[9:13])

	pathBytes := make([]byte, 8*numIv)
	if numIv > 0 {
		if _, err := io.ReadFull(r, pathBytes); err != nil {
			return mr, err
		}
	}
	mr.Path = make(minimizer.Path, numIv)
	for i := uint32(0); i < numIv; i++ {
		s := binary.LittleEndian.Uint32(pathBytes[i*8 : i*8+4])
		e := binary.LittleEndian.Uint32(pathBytes[i*8+4 : i*8+8])
		mr.Path[i] = minimizer.Interval{Start: int(s), End: int(e)}
	}

	var gotChecksum uint64
	if err := binary.Read(r, binary.LittleEndian, &gotChecksum); err != nil {
		return mr, err
	}
	enc := append(header, pathBytes...)
	if checksum(enc) != gotChecksum {
		return mr, &perrors.ParseError{Line: 0, Reason: "minimizer record checksum mismatch"}
	}
	return mr, nil
}
