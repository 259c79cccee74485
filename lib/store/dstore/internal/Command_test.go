package internal

import (
	"bytes"
	"encoding/binary"
	"math"
	"testing"

	"github.com/ValentinKolb/ttlKV/lib/db"
)

// TestSizeBytes tests the SizeBytes method
func TestSizeBytes(t *testing.T) {
	tests := []struct {
		name     string
		command  Command
		expected int
	}{
		{
			name:     "Command with key and value",
			command:  Command{Type: CommandTSet, Key: "testkey", ExpireTs: 100, Value: []byte("testvalue")},
			expected: 1 + 4 + 4 + 7 + 9, // Type + ExpireTs + KeyLen + Key + Value
		},
		{
			name:     "Command with empty key",
			command:  Command{Type: CommandTSet, ExpireTs: 100, Value: []byte("testvalue")},
			expected: 1 + 4 + 4 + 0 + 9,
		},
		{
			name:     "Command without value",
			command:  Command{Type: CommandTDelete, Key: "testkey"},
			expected: 1 + 4 + 4 + 7,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if size := tt.command.SizeBytes(); size != tt.expected {
				t.Errorf("SizeBytes() = %v, want %v", size, tt.expected)
			}
		})
	}
}

// TestSerializeDeserialize tests both Serialize and Deserialize methods
func TestSerializeDeserialize(t *testing.T) {
	tests := []struct {
		name    string
		command Command
	}{
		{"Standard command with value", Command{Type: CommandTSet, Key: "testkey", ExpireTs: 100, Value: []byte("testvalue")}},
		{"Command without value", Command{Type: CommandTDelete, Key: "testkey"}},
		{"Expire command", Command{Type: CommandTExpire, Key: "testkey", ExpireTs: 1}},
		{"Command with empty key", Command{Type: CommandTSetIfUnset, ExpireTs: 100, Value: []byte("testvalue")}},
		{"Command with max expiration", Command{Type: CommandTSet, Key: "testkey", ExpireTs: math.MaxUint32, Value: []byte("v")}},
		{"Command with binary value", Command{Type: CommandTSet, Key: "binary", Value: []byte{0, 1, 2, 3, 254, 255}}},
		{"Command with Unicode key", Command{Type: CommandTSet, Key: "你好世界", ExpireTs: 100, Value: []byte("unicode test")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := tt.command.Serialize()

			var newCommand Command
			if err := newCommand.Deserialize(data); err != nil {
				t.Fatalf("Deserialize() error = %v", err)
			}

			if newCommand.Type != tt.command.Type {
				t.Errorf("Type mismatch: got %v, want %v", newCommand.Type, tt.command.Type)
			}
			if newCommand.Key != tt.command.Key {
				t.Errorf("Key mismatch: got %q, want %q", newCommand.Key, tt.command.Key)
			}
			if newCommand.ExpireTs != tt.command.ExpireTs {
				t.Errorf("ExpireTs mismatch: got %v, want %v", newCommand.ExpireTs, tt.command.ExpireTs)
			}
			if !bytes.Equal(newCommand.Value, tt.command.Value) {
				t.Errorf("Value mismatch: got %v, want %v", newCommand.Value, tt.command.Value)
			}
			if tt.command.SizeBytes() != len(data) {
				t.Errorf("SizeBytes() = %d, but serialized data length = %d", tt.command.SizeBytes(), len(data))
			}
		})
	}
}

// TestDeserializeErrors tests error cases in Deserialize
func TestDeserializeErrors(t *testing.T) {
	tests := []struct {
		name        string
		data        []byte
		expectedErr string
	}{
		{"Empty data", []byte{}, "data too short for command"},
		{"Data too short (less than header)", []byte{1, 2, 3, 4, 5}, "data too short for command"},
		{
			name: "Invalid key length",
			data: func() []byte {
				data := make([]byte, headerSize)
				data[0] = byte(CommandTSet)
				binary.BigEndian.PutUint32(data[5:9], 1000)
				return data
			}(),
			expectedErr: "data too short for key of length 1000",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var cmd Command
			err := cmd.Deserialize(tt.data)
			if err == nil {
				t.Fatalf("Expected error but got nil")
			}
			if err.Error() != tt.expectedErr {
				t.Errorf("Expected error %q, got %q", tt.expectedErr, err.Error())
			}
		})
	}
}

// TestBinaryFormat tests the exact binary format of serialized commands
func TestBinaryFormat(t *testing.T) {
	cmd := Command{Type: CommandTSetIfUnset, Key: "testkey", ExpireTs: 0x01020304, Value: []byte("testvalue")}

	expected := []byte{byte(CommandTSetIfUnset), 0x01, 0x02, 0x03, 0x04, 0, 0, 0, 7}
	expected = append(expected, "testkey"...)
	expected = append(expected, "testvalue"...)

	if serialized := cmd.Serialize(); !bytes.Equal(serialized, expected) {
		t.Errorf("Binary format does not match:\nGot:      %v\nExpected: %v", serialized, expected)
	}
}

// TestValueAliasesInput checks that Deserialize does not copy the value
func TestValueAliasesInput(t *testing.T) {
	cmd := Command{Type: CommandTSet, Key: "key", Value: []byte("original")}
	data := cmd.Serialize()

	var decoded Command
	if err := decoded.Deserialize(data); err != nil {
		t.Fatalf("Deserialize() error = %v", err)
	}
	data[len(data)-1] = 'X'
	if string(decoded.Value) != "originaX" {
		t.Errorf("Value should alias the input, got %q", decoded.Value)
	}
}

func TestToDBFeature(t *testing.T) {
	tests := []struct {
		ct   CommandType
		want db.Feature
	}{
		{CommandTSet, db.FeaturePut},
		{CommandTSetIfUnset, db.FeaturePutIfAbsent},
		{CommandTExpire, db.FeatureExpire},
		{CommandTDelete, db.FeatureDelete},
	}
	for _, tt := range tests {
		t.Run(tt.ct.String(), func(t *testing.T) {
			got, err := tt.ct.ToDBFeature()
			if err != nil || got != tt.want {
				t.Errorf("ToDBFeature() = %v, %v; want %v", got, err, tt.want)
			}
		})
	}

	if _, err := CommandType(42).ToDBFeature(); err == nil {
		t.Error("expected an error for an unknown command type")
	}
}
