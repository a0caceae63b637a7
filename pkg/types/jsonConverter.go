package types

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// MarshalJSON renders the checksum as a hex string rather than a raw byte
// array, so it round-trips through the CLI's JSON output format.
func (c Checksum) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

// UnmarshalJSON accepts a hex-encoded checksum string.
func (c *Checksum) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseChecksum(s)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

func (s Snippet) MarshalJSON() ([]byte, error) {
	tags := make([]string, 0, len(s.Tags))
	for t := range s.Tags {
		tags = append(tags, t)
	}
	return json.Marshal(&struct {
		Checksum   string   `json:"checksum"`
		Names      []string `json:"names"`
		Tags       []string `json:"tags"`
		Collection string   `json:"collection,omitempty"`
		CreatedAt  int64    `json:"created_at"`
		MinHashHex string   `json:"minhash"`
	}{
		Checksum:   s.Checksum.String(),
		Names:      s.Names,
		Tags:       tags,
		Collection: s.Collection,
		CreatedAt:  s.CreatedAt,
		MinHashHex: hex.EncodeToString(s.MinHash),
	})
}

func (m Match) MarshalJSON() ([]byte, error) {
	return json.Marshal(&struct {
		Checksum    string  `json:"checksum"`
		Hybrid      float64 `json:"hybrid"`
		Jaccard     float64 `json:"jaccard"`
		Levenshtein float64 `json:"levenshtein"`
	}{
		Checksum:    m.Checksum.String(),
		Hybrid:      m.Hybrid,
		Jaccard:     m.Jaccard,
		Levenshtein: m.Levenshtein,
	})
}

func (s Snippet) PrettyPrint() {
	jsonBytes, err := s.MarshalJSON()
	if err != nil {
		fmt.Println("error marshalling snippet to JSON:", err)
		return
	}
	fmt.Println(string(jsonBytes))
}
