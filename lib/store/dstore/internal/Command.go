package internal

import (
	"encoding/binary"
	"fmt"

	"github.com/ValentinKolb/ttlKV/lib/db"
)

// CommandType defines the possible operations for the state machine.
type CommandType uint8

const (
	CommandTSet        CommandType = iota // Insert or update an entry.
	CommandTSetIfUnset                    // Insert an entry if there is no live one.
	CommandTExpire                        // Rewrite the expiration timestamp of a live entry.
	CommandTDelete                        // Delete an entry.
)

func (ct CommandType) String() string {
	switch ct {
	case CommandTSet:
		return "Set"
	case CommandTSetIfUnset:
		return "SetIfUnset"
	case CommandTExpire:
		return "Expire"
	case CommandTDelete:
		return "Delete"
	default:
		return fmt.Sprintf("Unknown(%d)", ct)
	}
}

// ToDBFeature converts a CommandType to the corresponding db.Feature.
// This can be used for checking if the database supports a certain operation.
func (ct CommandType) ToDBFeature() (db.Feature, error) {
	switch ct {
	case CommandTSet:
		return db.FeaturePut, nil
	case CommandTSetIfUnset:
		return db.FeaturePutIfAbsent, nil
	case CommandTExpire:
		return db.FeatureExpire, nil
	case CommandTDelete:
		return db.FeatureDelete, nil
	default:
		return 0, fmt.Errorf("unknown command type %d", ct)
	}
}

// headerSize is Type + ExpireTs + KeyLen
const headerSize = 1 + 4 + 4

// Command represents a command to be executed by the state machine (a single entry in the raft log).
//
// ExpireTs is absolute (schema epoch seconds, 0 = never) and computed by the proposer,
// so replaying the log on any replica produces the same values.
type Command struct {
	Type     CommandType
	Key      string
	ExpireTs uint32
	Value    []byte
}

// SizeBytes returns the exact number of bytes needed to serialize this command
func (command *Command) SizeBytes() int {
	return headerSize + len(command.Key) + len(command.Value)
}

// Serialize serializes a command into a byte array with the format:
// 1 byte for operation type,
// 4 bytes for the expiration timestamp (big endian),
// 4 bytes for key length (big endian),
// N bytes for key data,
// N bytes for value data (optional)
func (command *Command) Serialize() []byte {
	result := make([]byte, command.SizeBytes())

	result[0] = byte(command.Type)
	binary.BigEndian.PutUint32(result[1:5], command.ExpireTs)
	binary.BigEndian.PutUint32(result[5:9], uint32(len(command.Key)))

	n := copy(result[headerSize:], command.Key)
	copy(result[headerSize+n:], command.Value)

	return result
}

// Deserialize extracts all Command fields from a byte array.
// Value aliases data; it is only valid as long as data is.
func (command *Command) Deserialize(data []byte) error {
	if len(data) < headerSize {
		return fmt.Errorf("data too short for command")
	}

	command.Type = CommandType(data[0])
	command.ExpireTs = binary.BigEndian.Uint32(data[1:5])
	keyLen := int(binary.BigEndian.Uint32(data[5:9]))

	if len(data) < headerSize+keyLen {
		return fmt.Errorf("data too short for key of length %d", keyLen)
	}
	command.Key = string(data[headerSize : headerSize+keyLen])

	if len(data) > headerSize+keyLen {
		command.Value = data[headerSize+keyLen:]
	} else {
		command.Value = nil
	}
	return nil
}
