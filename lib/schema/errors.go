package schema

import "github.com/pkg/errors"

var (
	// ErrUnsupportedSchemaVersion is returned when a version is newer than MaxVersion.
	// It usually means the data was written by a newer build or is corrupt.
	ErrUnsupportedSchemaVersion = errors.New("unsupported value schema version")

	// ErrMalformedValue is returned when raw bytes are too short to hold the header.
	ErrMalformedValue = errors.New("malformed value")
)

func unsupported(v Version) error {
	return errors.Wrapf(ErrUnsupportedSchemaVersion, "version %d (max supported %d)", v, MaxVersion)
}

func malformed(v Version, n int) error {
	return errors.Wrapf(ErrMalformedValue, "schema v%d: %d bytes, need at least %d", v, n, HeaderSize)
}
