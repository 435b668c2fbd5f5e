package dbfs

import (
	"database/sql/driver"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/blake2b"
)

const HashSize = 32

// Hash is the content hash keying content records and blob files.
type Hash [HashSize]byte

// Sum hashes data with BLAKE2b-256.
func Sum(data []byte) Hash {
	return Hash(blake2b.Sum256(data))
}

// ParseHash decodes the lowercase or uppercase hex form of a hash.
func ParseHash(s string) (Hash, error) {
	var h Hash
	if len(s) != HashSize*2 {
		return h, fmt.Errorf("invalid hash length %d", len(s))
	}
	if _, err := hex.Decode(h[:], []byte(s)); err != nil {
		return h, fmt.Errorf("invalid hash '%s': %w", s, err)
	}
	return h, nil
}

// String returns the lowercase hex form used for blob file names.
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

func (h Hash) Bytes() []byte {
	b := make([]byte, HashSize)
	copy(b, h[:])
	return b
}

func (h Hash) Value() (driver.Value, error) {
	return h[:], nil
}

func (h *Hash) Scan(src any) error {
	b, ok := src.([]byte)
	if !ok {
		return fmt.Errorf("cannot scan %T into Hash", src)
	}
	if len(b) != HashSize {
		return fmt.Errorf("cannot scan %d bytes into Hash", len(b))
	}
	copy(h[:], b)
	return nil
}
