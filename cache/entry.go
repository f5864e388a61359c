package cache

import (
	"encoding/binary"
	"errors"
	"time"
)

// Entry is a cached payload.
type Entry struct {
	Key       string
	Payload   []byte
	FetchedAt time.Time
	ExpiresAt time.Time
}

// Expired reports whether the entry is past its expiry at now.
func (e Entry) Expired(now time.Time) bool {
	return now.After(e.ExpiresAt)
}

var envelopeMagic = [4]byte{'E', 'B', 'Z', 'C'}

const (
	envelopeVersion    = 1
	envelopeHeaderSize = 4 + 1 + 8 + 8
)

var errBadEnvelope = errors.New("malformed cache envelope")

// encodeEnvelope serialises an entry for the durable tier: magic, version,
// fetchedAt and expiresAt as unix nanoseconds, then the payload.
func encodeEnvelope(e Entry) []byte {
	buf := make([]byte, envelopeHeaderSize+len(e.Payload))
	copy(buf, envelopeMagic[:])
	buf[4] = envelopeVersion
	binary.BigEndian.PutUint64(buf[5:], uint64(e.FetchedAt.UnixNano()))
	binary.BigEndian.PutUint64(buf[13:], uint64(e.ExpiresAt.UnixNano()))
	copy(buf[envelopeHeaderSize:], e.Payload)
	return buf
}

func decodeEnvelope(key string, data []byte) (Entry, error) {
	if len(data) < envelopeHeaderSize || [4]byte(data[:4]) != envelopeMagic || data[4] != envelopeVersion {
		return Entry{}, errBadEnvelope
	}
	return Entry{
		Key:       key,
		FetchedAt: time.Unix(0, int64(binary.BigEndian.Uint64(data[5:]))),
		ExpiresAt: time.Unix(0, int64(binary.BigEndian.Uint64(data[13:]))),
		Payload:   data[envelopeHeaderSize:],
	}, nil
}
