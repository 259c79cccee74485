package schema

import (
	"math"
	"time"
)

// EpochBegin is the reference point of expiration timestamps: 2016-01-01T00:00:00Z.
// With a uint32 this leaves room until the year 2152.
const EpochBegin int64 = 1451606400

// Clock returns the current time in epoch seconds.
type Clock func() uint32

// EpochNow returns the current time in epoch seconds.
func EpochNow() uint32 {
	return ToEpoch(time.Now())
}

// ToEpoch converts t to epoch seconds. Times before EpochBegin map to 0 and times
// past the uint32 horizon saturate.
func ToEpoch(t time.Time) uint32 {
	s := t.Unix() - EpochBegin
	switch {
	case s <= 0:
		return 0
	case s >= math.MaxUint32:
		return math.MaxUint32
	}
	return uint32(s)
}

// FromEpoch converts epoch seconds back to a wall clock time.
func FromEpoch(ts uint32) time.Time {
	return time.Unix(EpochBegin+int64(ts), 0).UTC()
}

// IsExpired reports whether a record with expireTs is dead at now.
// 0 means the record never expires. The boundary is inclusive.
func IsExpired(now, expireTs uint32) bool {
	return expireTs != 0 && expireTs <= now
}

// IsExpiredFromEncoded applies IsExpired to the header of raw without looking at
// the payload. raw may be just the header bytes.
func IsExpiredFromEncoded(v Version, now uint32, raw []byte) (bool, error) {
	expireTs, err := ExtractExpireTs(v, raw)
	if err != nil {
		return false, err
	}
	return IsExpired(now, expireTs), nil
}

// ExpireTsFromTTL converts a relative TTL into an absolute expiration timestamp.
// A TTL of 0 means the record never expires.
func ExpireTsFromTTL(now, ttlSeconds uint32) uint32 {
	if ttlSeconds == 0 {
		return 0
	}
	if ts := uint64(now) + uint64(ttlSeconds); ts < math.MaxUint32 {
		return uint32(ts)
	}
	return math.MaxUint32
}

// RemainingTTL returns the seconds a record has left: -1 if it never expires and
// 0 once it is expired.
func RemainingTTL(now, expireTs uint32) int64 {
	if expireTs == 0 {
		return -1
	}
	if IsExpired(now, expireTs) {
		return 0
	}
	return int64(expireTs) - int64(now)
}
