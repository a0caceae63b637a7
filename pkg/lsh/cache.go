package lsh

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc64"
	"os"
	"path/filepath"

	"github.com/maci0/resembl/pkg/minhash"
	"github.com/maci0/resembl/pkg/types"
)

const (
	cacheMagic   = "RSMB"
	cacheVersion = uint16(1)

	flagGeneralize = uint16(1) << 0
)

var crcTable = crc64.MakeTable(crc64.ISO)

// Fingerprint summarizes the storage state the cache was built from (e.g.
// a count-and-last-checksum digest); a mismatch on load means the
// underlying snippets changed since the cache was written, and triggers a
// rebuild.
type Fingerprint uint64

// Save atomically writes idx to path: a temp file is written, fsynced, and
// renamed into place, so readers never observe a partial file.
func Save(path string, idx *Index, fp Fingerprint) error {
	buf := &bytes.Buffer{}

	var flags uint16
	if idx.Params.Generalize {
		flags |= flagGeneralize
	}

	header := make([]byte, 40)
	copy(header[0:4], cacheMagic)
	binary.LittleEndian.PutUint16(header[4:6], cacheVersion)
	binary.LittleEndian.PutUint16(header[6:8], flags)
	binary.LittleEndian.PutUint32(header[8:12], idx.Params.NumPermutations)
	binary.LittleEndian.PutUint32(header[12:16], idx.Params.NgramSize)
	binary.LittleEndian.PutUint32(header[16:20], idx.bands)
	binary.LittleEndian.PutUint32(header[20:24], idx.rows)
	binary.LittleEndian.PutUint64(header[24:32], uint64(fp))

	checksums := idx.Checksums()
	binary.LittleEndian.PutUint64(header[32:40], uint64(len(checksums)))
	buf.Write(header)

	for _, c := range checksums {
		buf.Write(c.Bytes())
		sig := idx.signatures[c]
		buf.Write(minhash.Serialize(sig)[8:]) // drop the per-signature magic+P header
	}

	bucketKeys := make([]bucketKey, 0, len(idx.buckets))
	for k := range idx.buckets {
		bucketKeys = append(bucketKeys, k)
	}

	var nBuckets [8]byte
	binary.LittleEndian.PutUint64(nBuckets[:], uint64(len(bucketKeys)))
	buf.Write(nBuckets[:])

	for _, bk := range bucketKeys {
		members := idx.buckets[bk]
		entry := make([]byte, 1+8+4)
		entry[0] = byte(bk.band)
		binary.LittleEndian.PutUint64(entry[1:9], bk.key)
		binary.LittleEndian.PutUint32(entry[9:13], uint32(len(members)))
		buf.Write(entry)
		for c := range members {
			buf.Write(c.Bytes())
		}
	}

	crc := crc64.Checksum(buf.Bytes(), crcTable)
	var trailer [8]byte
	binary.LittleEndian.PutUint64(trailer[:], crc)
	buf.Write(trailer[:])

	return writeAtomic(path, buf.Bytes())
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("resembl: create lsh cache temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("resembl: write lsh cache: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("resembl: fsync lsh cache: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("resembl: close lsh cache temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("resembl: rename lsh cache into place: %w", err)
	}
	return nil
}

// ErrCacheMissing is returned by Load whenever the cache is absent,
// corrupt, or built under incompatible parameters; all three are treated
// identically by the orchestrator (rebuild).
var ErrCacheMissing = fmt.Errorf("resembl: lsh cache missing or invalid")

// Load reads and validates the cache at path against want. Any structural
// problem (missing file, bad magic, CRC mismatch, incompatible params) is
// reported as ErrCacheMissing so the caller can uniformly fall back to a
// rebuild rather than branching on the failure mode.
func Load(path string, want types.IndexParams, fp Fingerprint) (*Index, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrCacheMissing
		}
		return nil, fmt.Errorf("resembl: read lsh cache: %w", err)
	}

	idx, err := parseCache(data, want, fp)
	if err != nil {
		return nil, err
	}
	return idx, nil
}

func parseCache(data []byte, want types.IndexParams, fp Fingerprint) (*Index, error) {
	if len(data) < 48 {
		return nil, ErrCacheMissing
	}
	body, trailer := data[:len(data)-8], data[len(data)-8:]
	crc := binary.LittleEndian.Uint64(trailer)
	if crc64.Checksum(body, crcTable) != crc {
		return nil, ErrCacheMissing
	}

	if string(data[0:4]) != cacheMagic {
		return nil, ErrCacheMissing
	}
	version := binary.LittleEndian.Uint16(data[4:6])
	if version != cacheVersion {
		return nil, ErrCacheMissing
	}
	flags := binary.LittleEndian.Uint16(data[6:8])
	p := binary.LittleEndian.Uint32(data[8:12])
	k := binary.LittleEndian.Uint32(data[12:16])
	b := binary.LittleEndian.Uint32(data[16:20])
	r := binary.LittleEndian.Uint32(data[20:24])
	storedFp := binary.LittleEndian.Uint64(data[24:32])
	nEntries := binary.LittleEndian.Uint64(data[32:40])

	generalize := flags&flagGeneralize != 0
	if p != want.NumPermutations || k != want.NgramSize || generalize != want.Generalize {
		return nil, ErrCacheMissing
	}
	if b != want.Bands || r != want.RowsPerBand {
		return nil, ErrCacheMissing
	}
	if Fingerprint(storedFp) != fp {
		return nil, ErrCacheMissing
	}

	params := types.IndexParams{
		NumPermutations: p,
		NgramSize:       k,
		Bands:           b,
		RowsPerBand:     r,
		Generalize:      generalize,
	}
	idx := newWithBands(params, b, r)

	off := 40
	sigBytes := int(p) * 8
	entrySize := 32 + sigBytes
	for i := uint64(0); i < nEntries; i++ {
		if off+entrySize > len(body) {
			return nil, ErrCacheMissing
		}
		checksum, err := types.ChecksumFromBytes(body[off : off+32])
		if err != nil {
			return nil, ErrCacheMissing
		}
		sigData := body[off+32 : off+entrySize]
		sig := make(minhash.Signature, p)
		for j := uint32(0); j < p; j++ {
			sig[j] = binary.LittleEndian.Uint64(sigData[j*8 : j*8+8])
		}
		idx.signatures[checksum] = sig
		off += entrySize
	}

	if off+8 > len(body) {
		return nil, ErrCacheMissing
	}
	nBuckets := binary.LittleEndian.Uint64(body[off : off+8])
	off += 8

	for i := uint64(0); i < nBuckets; i++ {
		if off+13 > len(body) {
			return nil, ErrCacheMissing
		}
		band := uint32(body[off])
		key := binary.LittleEndian.Uint64(body[off+1 : off+9])
		count := binary.LittleEndian.Uint32(body[off+9 : off+13])
		off += 13

		set := make(map[types.Checksum]struct{}, count)
		for j := uint32(0); j < count; j++ {
			if off+32 > len(body) {
				return nil, ErrCacheMissing
			}
			c, err := types.ChecksumFromBytes(body[off : off+32])
			if err != nil {
				return nil, ErrCacheMissing
			}
			set[c] = struct{}{}
			off += 32
		}
		idx.buckets[bucketKey{band: band, key: key}] = set
	}

	return idx, nil
}
