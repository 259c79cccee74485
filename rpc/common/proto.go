package common

import (
	"encoding/json"
	"fmt"

	"github.com/ValentinKolb/ttlKV/lib/store"
)

// --------------------------------------------------------------------------
// Message Structure
// --------------------------------------------------------------------------

// Message represents a single message used for both requests and responses.
// Which fields are used depends on the type of message.
type Message struct {
	// Type of message
	MsgType MessageType `json:"msg_type"`

	// General fields
	Key   string `json:"key,omitempty"`   // Used for: Set, Get, Has, TTL, Expire, Delete, Acquire, Release
	TTL   int64  `json:"ttl,omitempty"`   // Used for: SetE, SetEIfUnset, Acquire (request), TTL (response)
	Value []byte `json:"value,omitempty"` // Used for: Set (request), Get (response), Acquire (response), Info (response)

	// Response only fields
	Ok   bool   `json:"ok,omitempty"`   // Used for: Get, Has, TTL, Acquire, Release responses
	Code uint64 `json:"code,omitempty"` // store.RetCode of Err
	Err  string `json:"err,omitempty"`  // Empty if no error, otherwise contains the error message

	// Meta information
	Meta []byte `json:"meta,omitempty"` // Unused, can be used for additional Adapters

	// release frees the storage Value points into. Never serialized.
	release func()
}

// SetRelease attaches a function that frees the memory backing Value.
func (m *Message) SetRelease(release func()) {
	m.release = release
}

// Release frees the memory backing Value (if any). Value must not be used afterwards.
// Calling Release more than once is a no-op.
func (m *Message) Release() {
	if m.release != nil {
		r := m.release
		m.release = nil
		r()
	}
}

// AsError converts the error fields of a response back into a *store.Error,
// or returns nil if the response carries no error.
func (m *Message) AsError() error {
	if m.Err == "" {
		return nil
	}
	return store.NewError(store.RetCode(m.Code), m.Err)
}

// setErr fills the error fields of a response message
func (m *Message) setErr(err error) *Message {
	if err == nil {
		return m
	}
	if e, ok := store.WrapError(err).(*store.Error); ok {
		m.Code = uint64(e.Code)
		m.Err = e.Msg
	} else {
		m.Code = uint64(store.RetCInternalError)
		m.Err = err.Error()
	}
	return m
}

// --------------------------------------------------------------------------
// Message Factory Functions
// --------------------------------------------------------------------------

// NewSetRequest creates a new Set request
func NewSetRequest(key string, value []byte) *Message {
	return &Message{
		MsgType: MsgTKVSet,
		Key:     key,
		Value:   value,
	}
}

// NewSetResponse creates a new Set response
func NewSetResponse(err error) *Message {
	return (&Message{MsgType: MsgTKVSet}).setErr(err)
}

// NewSetERequest creates a new SetE request, ttl is given in seconds (0 = never expires)
func NewSetERequest(key string, value []byte, ttl uint32) *Message {
	return &Message{
		MsgType: MsgTKVSetE,
		Key:     key,
		Value:   value,
		TTL:     int64(ttl),
	}
}

// NewSetEResponse creates a new SetE response
func NewSetEResponse(err error) *Message {
	return (&Message{MsgType: MsgTKVSetE}).setErr(err)
}

// NewSetEIfUnsetRequest creates a new SetEIfUnset request
func NewSetEIfUnsetRequest(key string, value []byte, ttl uint32) *Message {
	return &Message{
		MsgType: MsgTKVSetEIfUnset,
		Key:     key,
		Value:   value,
		TTL:     int64(ttl),
	}
}

// NewSetEIfUnsetResponse creates a new SetEIfUnset response
func NewSetEIfUnsetResponse(err error) *Message {
	return (&Message{MsgType: MsgTKVSetEIfUnset}).setErr(err)
}

// NewExpireRequest creates a new Expire request
func NewExpireRequest(key string) *Message {
	return &Message{
		MsgType: MsgTKVExpire,
		Key:     key,
	}
}

// NewExpireResponse creates a new Expire response
func NewExpireResponse(err error) *Message {
	return (&Message{MsgType: MsgTKVExpire}).setErr(err)
}

// NewDeleteRequest creates a new Delete request
func NewDeleteRequest(key string) *Message {
	return &Message{
		MsgType: MsgTKVDelete,
		Key:     key,
	}
}

// NewDeleteResponse creates a new Delete response
func NewDeleteResponse(err error) *Message {
	return (&Message{MsgType: MsgTKVDelete}).setErr(err)
}

// NewGetRequest creates a new Get request
func NewGetRequest(key string) *Message {
	return &Message{
		MsgType: MsgTKVGet,
		Key:     key,
	}
}

// NewGetResponse creates a new Get response. release (may be nil) frees value
// once the response has been written.
func NewGetResponse(value []byte, release func(), ok bool, err error) *Message {
	return (&Message{
		MsgType: MsgTKVGet,
		Ok:      ok,
		Value:   value,
		release: release,
	}).setErr(err)
}

// NewHasRequest creates a new Has request
func NewHasRequest(key string) *Message {
	return &Message{
		MsgType: MsgTKVHas,
		Key:     key,
	}
}

// NewHasResponse creates a new Has response
func NewHasResponse(ok bool, err error) *Message {
	return (&Message{MsgType: MsgTKVHas, Ok: ok}).setErr(err)
}

// NewTTLRequest creates a new TTL request
func NewTTLRequest(key string) *Message {
	return &Message{
		MsgType: MsgTKVTTL,
		Key:     key,
	}
}

// NewTTLResponse creates a new TTL response, ttl is -1 if the key never expires
func NewTTLResponse(ttl int64, ok bool, err error) *Message {
	return (&Message{MsgType: MsgTKVTTL, TTL: ttl, Ok: ok}).setErr(err)
}

// NewInfoRequest creates a new Info request
func NewInfoRequest() *Message {
	return &Message{MsgType: MsgTKVInfo}
}

// NewInfoResponse creates a new Info response, info is the json encoded db.DatabaseInfo
func NewInfoResponse(info []byte, err error) *Message {
	return (&Message{MsgType: MsgTKVInfo, Value: info}).setErr(err)
}

// NewAcquireRequest creates a new Acquire request
func NewAcquireRequest(key string, ttl uint32) *Message {
	return &Message{
		MsgType: MsgTLCKAcquire,
		Key:     key,
		TTL:     int64(ttl),
	}
}

// NewAcquireResponse creates a new Acquire response
func NewAcquireResponse(ok bool, value []byte, err error) *Message {
	return (&Message{MsgType: MsgTLCKAcquire, Ok: ok, Value: value}).setErr(err)
}

// NewReleaseRequest creates a new Release request
func NewReleaseRequest(key string, ownerId []byte) *Message {
	return &Message{
		MsgType: MsgTLCKRelease,
		Key:     key,
		Value:   ownerId,
	}
}

// NewReleaseResponse creates a new Release response
func NewReleaseResponse(ok bool, err error) *Message {
	return (&Message{MsgType: MsgTLCKRelease, Ok: ok}).setErr(err)
}

// NewCustomRequest creates a new Custom request
func NewCustomRequest(meta []byte) *Message {
	return &Message{
		MsgType: MsgTCustom,
		Meta:    meta,
	}
}

// NewCustomResponse creates a new Custom response
func NewCustomResponse(meta []byte, err error) *Message {
	return (&Message{MsgType: MsgTCustom, Meta: meta}).setErr(err)
}

// NewErrorResponse creates a new Error response
func NewErrorResponse(code store.RetCode, err string) *Message {
	return &Message{
		MsgType: MsgTError,
		Code:    uint64(code),
		Err:     err,
	}
}

// --------------------------------------------------------------------------
// Message Type Definition
// --------------------------------------------------------------------------

// MessageType defines the type of message used in RPC communication.
type MessageType uint8

var msgTypeNames = map[MessageType]string{
	MsgTSuccess:       "success",
	MsgTError:         "error",
	MsgTKVSet:         "set",
	MsgTKVSetE:        "setE",
	MsgTKVSetEIfUnset: "setEIfUnset",
	MsgTKVExpire:      "expire",
	MsgTKVDelete:      "delete",
	MsgTKVGet:         "get",
	MsgTKVHas:         "has",
	MsgTKVTTL:         "ttl",
	MsgTKVInfo:        "info",
	MsgTLCKAcquire:    "acquire",
	MsgTLCKRelease:    "release",
	MsgTCustom:        "custom",
}

// String returns the string representation of a MessageType.
func (t MessageType) String() string {
	if name, ok := msgTypeNames[t]; ok {
		return name
	}
	return "unknown"
}

// MarshalJSON implements the json.Marshaller interface for MessageType.
// This allows MessageType to be serialized as a string in JSON.
func (t MessageType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON implements the json.Unmarshaler interface for MessageType.
func (t *MessageType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	for msgType, name := range msgTypeNames {
		if name == s {
			*t = msgType
			return nil
		}
	}
	return fmt.Errorf("unknown message type: %s", s)
}

// --------------------------------------------------------------------------
// Message Type Constants
// --------------------------------------------------------------------------

const (
	// General message types

	MsgTUnknown MessageType = iota
	MsgTSuccess             // Indicates a successful operation
	MsgTError               // Indicates an error occurred

	// IStore operations

	MsgTKVSet         // Set a key-value pair
	MsgTKVSetE        // Set a key-value pair with a ttl
	MsgTKVSetEIfUnset // Set a key-value pair with a ttl if not already set
	MsgTKVExpire      // Expire a key
	MsgTKVDelete      // Delete a key-value pair
	MsgTKVGet         // Get a value by key
	MsgTKVHas         // Check if a key exists
	MsgTKVTTL         // Remaining ttl of a key
	MsgTKVInfo        // Database info

	// ILockProvider operations

	MsgTLCKAcquire // Acquire a lock
	MsgTLCKRelease // Release a lock

	// Custom operations

	MsgTCustom // Custom operation type
)
