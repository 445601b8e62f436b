package journal

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/zeebo/blake3"
)

const (
	// checksumSize is the blake3 header length prepended to archives.
	checksumSize = 32
)

// Doc is the decoded archive document.
type Doc struct {
	CreatedAt     time.Time `json:"createdAt"`
	Validations   []Entry   `json:"validations"`
	Conservations []Entry   `json:"conservations"`
}

// Archive exports every journal record as one JSON document compressed
// with zstd. The blake3 checksum of the uncompressed document is prepended
// so readers can detect tampering.
func (j *Journal) Archive() ([]byte, error) {
	doc := Doc{CreatedAt: time.Now()}

	err := j.iterPrefix(prefixValidation, func(e Entry) error {
		doc.Validations = append(doc.Validations, e)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("collect validations:\n%w", err)
	}

	err = j.iterPrefix(prefixConservation, func(e Entry) error {
		doc.Conservations = append(doc.Conservations, e)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("collect conservations:\n%w", err)
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshal archive:\n%w", err)
	}

	compressed, err := compress(data)
	if err != nil {
		return nil, fmt.Errorf("compress archive:\n%w", err)
	}

	checksum := blake3.Sum256(data)

	out := make([]byte, 0, checksumSize+len(compressed))
	out = append(out, checksum[:]...)
	out = append(out, compressed...)

	return out, nil
}

// DecodeArchive verifies and decodes an archive produced by Archive.
func DecodeArchive(data []byte) (*Doc, error) {
	if len(data) < checksumSize {
		return nil, fmt.Errorf("archive too short: %d bytes", len(data))
	}

	payload, err := decompress(data[checksumSize:])
	if err != nil {
		return nil, fmt.Errorf("decompress archive:\n%w", err)
	}

	checksum := blake3.Sum256(payload)
	if !bytes.Equal(checksum[:], data[:checksumSize]) {
		return nil, fmt.Errorf("archive checksum mismatch")
	}

	var doc Doc
	if err := json.Unmarshal(payload, &doc); err != nil {
		return nil, fmt.Errorf("unmarshal archive:\n%w", err)
	}

	return &doc, nil
}

// compress compresses data using zstd.
func compress(data []byte) ([]byte, error) {
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create encoder:\n%w", err)
	}
	defer encoder.Close()

	return encoder.EncodeAll(data, nil), nil
}

// decompress decompresses zstd data.
func decompress(data []byte) ([]byte, error) {
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("create decoder:\n%w", err)
	}
	defer decoder.Close()

	return decoder.DecodeAll(data, nil)
}
