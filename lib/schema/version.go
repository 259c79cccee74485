package schema

import (
	"encoding/binary"
	"fmt"
)

// Version identifies the layout an encoded value was written with.
type Version uint32

const (
	// MaxVersion is the highest schema version this build can read and write.
	MaxVersion Version = 0

	// HeaderSize is the size of the expiration header of every version so far.
	HeaderSize = 4
)

// wireOrder is part of the wire contract and must never follow the host order.
var wireOrder = binary.BigEndian

// layout is one entry of the dispatch table.
type layout struct {
	generate func(g *Generator, userData []byte, expireTs uint32) Segments
	decode   func(raw []byte) (expireTs uint32, userData []byte, err error)
	header   func(raw []byte) (expireTs uint32, err error)
}

// layouts is indexed by Version. Entries are only ever appended: a new version
// gets a new pair and existing ones keep their behaviour and wire format.
var layouts = []layout{
	0: {generate: generateV0, decode: decodeV0, header: headerV0},
}

// CheckVersion reports whether v can be handled by this build.
func CheckVersion(v Version) error {
	if v > MaxVersion {
		return unsupported(v)
	}
	return nil
}

// layoutOf returns the layout for a version that passed CheckVersion.
func layoutOf(v Version) layout {
	if int(v) >= len(layouts) || layouts[v].generate == nil {
		panic(fmt.Sprintf("schema: no layout registered for version %d <= MaxVersion %d", v, MaxVersion))
	}
	return layouts[v]
}

func (v Version) String() string {
	return fmt.Sprintf("v%d", uint32(v))
}
