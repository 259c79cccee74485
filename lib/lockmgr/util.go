package lockmgr

import (
	"encoding/hex"

	"github.com/google/uuid"
)

// generateOwnerID creates a new unique owner ID: the 16 bytes of a random (v4) UUID.
func generateOwnerID() ([]byte, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return nil, err
	}
	return id[:], nil
}

// FormatOwnerID renders an owner ID the way the CLI prints it.
// IDs that are not UUIDs are returned as hex.
func FormatOwnerID(ownerID []byte) string {
	id, err := uuid.FromBytes(ownerID)
	if err != nil {
		return hex.EncodeToString(ownerID)
	}
	return id.String()
}

// ParseOwnerID is the inverse of FormatOwnerID.
func ParseOwnerID(s string) ([]byte, error) {
	if id, err := uuid.Parse(s); err == nil {
		return id[:], nil
	}
	return hex.DecodeString(s)
}
