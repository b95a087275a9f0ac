package embedded

import (
	"encoding/binary"
	"encoding/json"
	"hash/crc32"

	"github.com/fazpi-ai/fazpi-qbull/pkg/store"
)

// Record value: payload JSON | crc32c(payload JSON)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

func encodeRecord(payload store.Payload) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(body)+4)
	out = append(out, body...)
	var cb [4]byte
	binary.BigEndian.PutUint32(cb[:], crc32.Checksum(body, castagnoli))
	return append(out, cb[:]...), nil
}

func decodeRecord(b []byte) (store.Payload, bool) {
	if len(b) < 4 {
		return nil, false
	}
	body := b[:len(b)-4]
	expect := binary.BigEndian.Uint32(b[len(b)-4:])
	if crc32.Checksum(body, castagnoli) != expect {
		return nil, false
	}
	var payload store.Payload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, false
	}
	return payload, true
}
