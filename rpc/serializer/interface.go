package serializer

import "github.com/ValentinKolb/ttlKV/rpc/common"

// IRPCSerializer is the interface for all Message Serializers
type IRPCSerializer interface {
	// Serialize serializes a Message into a freshly allocated byte slice.
	// The message is not retained, so the caller may release it afterwards.
	Serialize(msg *common.Message) ([]byte, error)
	// Deserialize deserializes a byte slice into a Message.
	// The message does not alias b, b may be reused after the call returns.
	Deserialize(b []byte, msg *common.Message) error
}
