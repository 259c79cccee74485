package schema

// ExtractExpireTs reads only the header of raw.
func ExtractExpireTs(v Version, raw []byte) (uint32, error) {
	if err := CheckVersion(v); err != nil {
		return 0, err
	}
	return layoutOf(v).header(raw)
}

// Decode splits raw into its expiration timestamp and payload.
// The payload aliases raw, so raw must outlive it.
func Decode(v Version, raw []byte) (expireTs uint32, userData []byte, err error) {
	if err = CheckVersion(v); err != nil {
		return 0, nil, err
	}
	return layoutOf(v).decode(raw)
}

// ExtractUserData decodes raw and takes ownership of it.
//
// The returned Blob is a view into raw; no payload bytes are copied. release (may
// be nil) is how raw goes back to whoever allocated it, for example a buffer pool
// or a storage engine's value handle. It is called exactly once, when the last view
// derived from the returned Blob is released.
//
// The caller must not touch raw after the call. On error raw is released right away.
func ExtractUserData(v Version, raw []byte, release func()) (uint32, *Blob, error) {
	expireTs, userData, err := Decode(v, raw)
	if err != nil {
		if release != nil {
			release()
		}
		return 0, nil, err
	}
	offset := len(raw) - len(userData)
	return expireTs, newBlob(raw, offset, len(userData), release), nil
}

func headerV0(raw []byte) (uint32, error) {
	if len(raw) < HeaderSize {
		return 0, malformed(0, len(raw))
	}
	return wireOrder.Uint32(raw[:HeaderSize]), nil
}

func decodeV0(raw []byte) (uint32, []byte, error) {
	expireTs, err := headerV0(raw)
	if err != nil {
		return 0, nil, err
	}
	return expireTs, raw[HeaderSize:], nil
}
