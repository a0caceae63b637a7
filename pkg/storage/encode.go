package storage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/maci0/resembl/pkg/types"
	"github.com/ulikunitz/xz/lzma"
)

// snippetRecord is the on-disk shape of a stored snippet: a flat,
// JSON-friendly projection of types.Snippet that gets lzma-compressed as a
// whole before it's written to the kvstore.
type snippetRecord struct {
	Code       string   `json:"code"`
	Names      []string `json:"names"`
	Tags       []string `json:"tags"`
	MinHash    []byte   `json:"minhash"`
	Collection string   `json:"collection,omitempty"`
	CreatedAt  int64    `json:"created_at"`
}

func toRecord(s types.Snippet) snippetRecord {
	tags := make([]string, 0, len(s.Tags))
	for t := range s.Tags {
		tags = append(tags, t)
	}
	return snippetRecord{
		Code:       s.Code,
		Names:      s.Names,
		Tags:       tags,
		MinHash:    s.MinHash,
		Collection: s.Collection,
		CreatedAt:  s.CreatedAt,
	}
}

func fromRecord(checksum types.Checksum, r snippetRecord) types.Snippet {
	tags := make(map[string]struct{}, len(r.Tags))
	for _, t := range r.Tags {
		tags[t] = struct{}{}
	}
	return types.Snippet{
		Checksum:   checksum,
		Code:       r.Code,
		Names:      r.Names,
		Tags:       tags,
		MinHash:    r.MinHash,
		Collection: r.Collection,
		CreatedAt:  r.CreatedAt,
	}
}

func encodeSnippet(s types.Snippet) ([]byte, error) {
	raw, err := json.Marshal(toRecord(s))
	if err != nil {
		return nil, fmt.Errorf("resembl: marshal snippet record: %w", err)
	}
	compressed, err := compressWithLzma(raw)
	if err != nil {
		return nil, fmt.Errorf("resembl: compress snippet record: %w", err)
	}
	return compressed, nil
}

func decodeSnippet(checksum types.Checksum, data []byte) (types.Snippet, error) {
	raw, err := decompressWithLzma(data)
	if err != nil {
		return types.Snippet{}, fmt.Errorf("resembl: decompress snippet record: %w", err)
	}
	var r snippetRecord
	if err := json.Unmarshal(raw, &r); err != nil {
		return types.Snippet{}, fmt.Errorf("resembl: unmarshal snippet record: %w", err)
	}
	return fromRecord(checksum, r), nil
}

type collectionRecord struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	CreatedAt   int64  `json:"created_at"`
}

func encodeCollection(c types.Collection) ([]byte, error) {
	return json.Marshal(collectionRecord{Name: c.Name, Description: c.Description, CreatedAt: c.CreatedAt})
}

func decodeCollection(data []byte) (types.Collection, error) {
	var r collectionRecord
	if err := json.Unmarshal(data, &r); err != nil {
		return types.Collection{}, fmt.Errorf("resembl: unmarshal collection record: %w", err)
	}
	return types.Collection{Name: r.Name, Description: r.Description, CreatedAt: r.CreatedAt}, nil
}

type versionRecord struct {
	ID        uint64 `json:"id"`
	Name      string `json:"name"`
	Checksum  string `json:"checksum"`
	Code      string `json:"code"`
	MinHash   []byte `json:"minhash"`
	CreatedAt int64  `json:"created_at"`
}

func encodeVersion(v types.SnippetVersion) ([]byte, error) {
	return json.Marshal(versionRecord{
		ID:        v.ID,
		Name:      v.Name,
		Checksum:  v.Checksum.String(),
		Code:      v.Code,
		MinHash:   v.MinHash,
		CreatedAt: v.CreatedAt,
	})
}

func decodeVersion(data []byte) (types.SnippetVersion, error) {
	var r versionRecord
	if err := json.Unmarshal(data, &r); err != nil {
		return types.SnippetVersion{}, fmt.Errorf("resembl: unmarshal version record: %w", err)
	}
	checksum, err := types.ParseChecksum(r.Checksum)
	if err != nil {
		return types.SnippetVersion{}, fmt.Errorf("resembl: version record checksum: %w", err)
	}
	return types.SnippetVersion{
		ID:        r.ID,
		Name:      r.Name,
		Checksum:  checksum,
		Code:      r.Code,
		MinHash:   r.MinHash,
		CreatedAt: r.CreatedAt,
	}, nil
}

// compressWithLzma and decompressWithLzma mirror the on-disk storage
// pipeline compression step, substituting resembl's snippet records for
// the stored content chunks.
func compressWithLzma(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := lzma.NewWriter(&buf)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decompressWithLzma(data []byte) ([]byte, error) {
	r, err := lzma.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	return io.ReadAll(r)
}
