package common

import (
	"crypto/sha256"
	"encoding/binary"
)

type HashFunc func([]byte) uint32

func CalcPartition(hash uint32, numPartitions int) uint32 {
	return hash % uint32(numPartitions)
}

func DefaultHash(key []byte) uint32 {
	return KafkaCompatibleMurmur2Hash(key)
}

// CalcPartitionHash gives the 16 byte prefix under which all store entries for
// a (mapping, partition) pair live. Different mappings for the same partition
// id must not collide.
func CalcPartitionHash(mappingID string, partitionID uint64) []byte {
	b := make([]byte, 0, len(mappingID)+8)
	b = append(b, mappingID...)
	b = binary.BigEndian.AppendUint64(b, partitionID)
	res := sha256.Sum256(b)
	return res[:16]
}

// KafkaCompatibleMurmur2Hash mimics the murmur2 based partitioner used by the
// Kafka Java client, so keys land on the same partitions a Java producer would
// send them to. Ported from the movio/go-kafka implementation (MIT).
func KafkaCompatibleMurmur2Hash(data []byte) uint32 {
	const (
		m    = 0x5bd1e995
		r    = 24
		seed = int32(-1756908916)
	)
	h := seed ^ int32(len(data))
	var k int32
	for l := len(data); l >= 4; l -= 4 {
		k = int32(data[0]) | int32(data[1])<<8 | int32(data[2])<<16 | int32(data[3])<<24
		k *= m
		k ^= int32(uint32(k) >> r)
		k *= m
		h *= m
		h ^= k
		data = data[4:]
	}
	switch len(data) {
	case 3:
		h ^= int32(data[2]) << 16
		fallthrough
	case 2:
		h ^= int32(data[1]) << 8
		fallthrough
	case 1:
		h ^= int32(data[0])
		h *= m
	}
	h ^= int32(uint32(h) >> 13)
	h *= m
	h ^= int32(uint32(h) >> 15)
	return uint32(h & 0x7fffffff)
}
