package embedded

import (
	"encoding/binary"
	"fmt"
)

// Keyspace layout, all keys prefixed qb/:
//
//	qb/stream/{stream}/meta               - lastSeq (8B BE)
//	qb/stream/{stream}/msg/{seq 8B BE}    - encoded payload record
//	qb/group/{stream}/{group}/cursor      - next never-delivered seq (8B BE)
//	qb/group/{stream}/{group}/pel/{seq}   - consumer name owning the pending entry
//	qb/kv/{key}                           - opaque scalar

func streamMetaKey(stream string) []byte {
	return []byte(fmt.Sprintf("qb/stream/%s/meta", stream))
}

func msgPrefix(stream string) []byte {
	return []byte(fmt.Sprintf("qb/stream/%s/msg/", stream))
}

func msgKey(stream string, seq uint64) []byte {
	prefix := msgPrefix(stream)
	key := make([]byte, len(prefix)+8)
	copy(key, prefix)
	binary.BigEndian.PutUint64(key[len(prefix):], seq)
	return key
}

func cursorKey(stream, group string) []byte {
	return []byte(fmt.Sprintf("qb/group/%s/%s/cursor", stream, group))
}

func pelPrefix(stream, group string) []byte {
	return []byte(fmt.Sprintf("qb/group/%s/%s/pel/", stream, group))
}

func pelKey(stream, group string, seq uint64) []byte {
	prefix := pelPrefix(stream, group)
	key := make([]byte, len(prefix)+8)
	copy(key, prefix)
	binary.BigEndian.PutUint64(key[len(prefix):], seq)
	return key
}

func kvKey(key string) []byte {
	return []byte("qb/kv/" + key)
}
