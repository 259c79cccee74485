package serializer

import (
	"encoding/binary"

	"github.com/ValentinKolb/ttlKV/rpc/common"
	"github.com/pkg/errors"
)

// NewBinarySerializer creates a new serializer using a custom binary format
// optimized for speed and efficiency
func NewBinarySerializer() IRPCSerializer {
	return &binarySerializerImpl{}
}

// binarySerializerImpl implements IRPCSerializer using a custom binary format:
//
//	[msgType u8][flags u8][key][ttl][value][ok][code][err][meta]
//
// Only fields whose flag is set are present. Byte fields are prefixed with
// a u32 big endian length, ttl is an i64 big endian and code a uvarint.
type binarySerializerImpl struct {
}

// Bit flags to indicate which optional fields are present
const (
	hasKey   byte = 1 << 0
	hasTTL   byte = 1 << 1
	hasValue byte = 1 << 2
	hasOk    byte = 1 << 3
	hasCode  byte = 1 << 4
	hasErr   byte = 1 << 5
	hasMeta  byte = 1 << 6
)

var errShortMessage = errors.New("binary message truncated")

// --------------------------------------------------------------------------
// Interface Methods (docu see serializer.IRPCSerializer)
// --------------------------------------------------------------------------

func (b binarySerializerImpl) Serialize(msg *common.Message) ([]byte, error) {
	out := make([]byte, 2, b.sizeBytes(msg))
	out[0] = byte(msg.MsgType)

	var flags byte
	if msg.Key != "" {
		flags |= hasKey
		out = appendField(out, msg.Key)
	}
	if msg.TTL != 0 {
		flags |= hasTTL
		out = binary.BigEndian.AppendUint64(out, uint64(msg.TTL))
	}
	if msg.Value != nil {
		flags |= hasValue
		out = appendField(out, msg.Value)
	}
	if msg.Ok {
		flags |= hasOk
	}
	if msg.Code != 0 {
		flags |= hasCode
		out = binary.AppendUvarint(out, msg.Code)
	}
	if msg.Err != "" {
		flags |= hasErr
		out = appendField(out, msg.Err)
	}
	if msg.Meta != nil {
		flags |= hasMeta
		out = appendField(out, msg.Meta)
	}
	out[1] = flags
	return out, nil
}

func (b binarySerializerImpl) Deserialize(data []byte, msg *common.Message) error {
	if len(data) < 2 {
		return errors.Wrap(errShortMessage, "header")
	}
	r := fieldReader{data: data, pos: 2}
	flags := data[1]

	msg.MsgType = common.MessageType(data[0])
	msg.Key, msg.TTL, msg.Ok, msg.Code, msg.Err = "", 0, flags&hasOk != 0, 0, ""

	if flags&hasKey != 0 {
		key, err := r.field("key")
		if err != nil {
			return err
		}
		msg.Key = string(key)
	}
	if flags&hasTTL != 0 {
		if r.pos+8 > len(data) {
			return errors.Wrap(errShortMessage, "ttl")
		}
		msg.TTL = int64(binary.BigEndian.Uint64(data[r.pos:]))
		r.pos += 8
	}

	var err error
	if msg.Value, err = r.bytesInto(flags&hasValue != 0, msg.Value, "value"); err != nil {
		return err
	}

	if flags&hasCode != 0 {
		code, n := binary.Uvarint(data[r.pos:])
		if n <= 0 {
			return errors.Wrap(errShortMessage, "code")
		}
		msg.Code = code
		r.pos += n
	}
	if flags&hasErr != 0 {
		e, err := r.field("err")
		if err != nil {
			return err
		}
		msg.Err = string(e)
	}

	msg.Meta, err = r.bytesInto(flags&hasMeta != 0, msg.Meta, "meta")
	return err
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// sizeBytes calculates the total size needed for serialization
func (b binarySerializerImpl) sizeBytes(msg *common.Message) int {
	size := 2
	if msg.Key != "" {
		size += 4 + len(msg.Key)
	}
	if msg.TTL != 0 {
		size += 8
	}
	if msg.Value != nil {
		size += 4 + len(msg.Value)
	}
	if msg.Code != 0 {
		size += binary.MaxVarintLen64
	}
	if msg.Err != "" {
		size += 4 + len(msg.Err)
	}
	if msg.Meta != nil {
		size += 4 + len(msg.Meta)
	}
	return size
}

func appendField[T string | []byte](out []byte, v T) []byte {
	out = binary.BigEndian.AppendUint32(out, uint32(len(v)))
	return append(out, v...)
}

type fieldReader struct {
	data []byte
	pos  int
}

// field reads a length prefixed field, the result aliases the input
func (r *fieldReader) field(name string) ([]byte, error) {
	if r.pos+4 > len(r.data) {
		return nil, errors.Wrapf(errShortMessage, "%s length", name)
	}
	n := int(binary.BigEndian.Uint32(r.data[r.pos:]))
	r.pos += 4
	if n < 0 || r.pos+n > len(r.data) {
		return nil, errors.Wrapf(errShortMessage, "%s data", name)
	}
	f := r.data[r.pos : r.pos+n]
	r.pos += n
	return f, nil
}

// bytesInto copies a length prefixed field into dst, reusing its capacity.
// An absent field yields nil, a present but empty field a non nil empty slice.
func (r *fieldReader) bytesInto(present bool, dst []byte, name string) ([]byte, error) {
	if !present {
		return nil, nil
	}
	f, err := r.field(name)
	if err != nil {
		return nil, err
	}
	if dst == nil || cap(dst) < len(f) {
		dst = make([]byte, len(f))
	} else {
		dst = dst[:len(f)]
	}
	copy(dst, f)
	return dst, nil
}
