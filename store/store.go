package store

import (
	"strings"
	"time"

	"github.com/emirpasic/gods/maps/treemap"
	"github.com/matview-io/matview/common"
	"github.com/matview-io/matview/errors"
	"github.com/matview-io/matview/kafka"
	log "github.com/matview-io/matview/logger"
)

// PartitionStore holds the aggregate state entries for one partition. It is
// owned exclusively by that partition's processor, so no locking: the
// structural partition-owns-keys invariant is the concurrency control.
//
// Durability is changelog based: every write is appended to the partition's
// changelog topic before it is applied to the in-memory map, and a lost
// store is rebuilt by replaying the changelog from offset zero. The
// changelog topic must be fully retained (or compacted) - that is a
// requirement on the log substrate, not something the store can relax.
type PartitionStore struct {
	partitionID  int
	entries      *treemap.Map
	changelog    kafka.MessageProducer
	pending      []common.KV
	writeVersion uint64
}

func NewPartitionStore(partitionID int, changelog kafka.MessageProducer) *PartitionStore {
	return &PartitionStore{
		partitionID: partitionID,
		entries:     treemap.NewWith(bytesComparator),
		changelog:   changelog,
	}
}

func bytesComparator(a, b interface{}) int {
	return strings.Compare(a.(string), b.(string))
}

func (s *PartitionStore) PartitionID() int {
	return s.partitionID
}

func (s *PartitionStore) Get(key []byte) ([]byte, error) {
	v, ok := s.entries.Get(common.ByteSliceToStringZeroCopy(key))
	if !ok {
		return nil, nil
	}
	return v.([]byte), nil
}

// Put stages a write. It is not visible to Get until Flush succeeds - Flush
// is called once per processed record, after all sub-state updates.
func (s *PartitionStore) Put(kv common.KV) {
	s.pending = append(s.pending, kv)
}

func (s *PartitionStore) Delete(key []byte) {
	s.pending = append(s.pending, common.KV{Key: key})
}

// Flush appends the staged writes to the changelog, then applies them to the
// in-memory map. A changelog append failure leaves the map untouched and is
// fatal for the partition processor: the caller must stop and let replay
// from the last durable offset recover.
func (s *PartitionStore) Flush() error {
	if len(s.pending) == 0 {
		return nil
	}
	if s.changelog != nil {
		messages := make([]kafka.Message, len(s.pending))
		for i, kv := range s.pending {
			messages[i] = kafka.Message{
				PartInfo:  kafka.PartInfo{PartitionID: int32(s.partitionID)},
				TimeStamp: time.Now(),
				Key:       kv.Key,
				Value:     kv.Value,
			}
		}
		if err := s.changelog.SendMessages(messages); err != nil {
			s.pending = s.pending[:0]
			return errors.NewMatViewErrorf(errors.StoreError,
				"failed to append to changelog for partition %d: %v", s.partitionID, err)
		}
	}
	for _, kv := range s.pending {
		s.apply(kv)
	}
	s.pending = s.pending[:0]
	s.writeVersion++
	return nil
}

// DiscardPending drops staged writes, used when the record that staged them
// is itself dropped.
func (s *PartitionStore) DiscardPending() {
	s.pending = s.pending[:0]
}

func (s *PartitionStore) apply(kv common.KV) {
	sKey := string(kv.Key)
	if kv.Value == nil {
		s.entries.Remove(sKey)
		return
	}
	s.entries.Put(sKey, kv.Value)
}

func (s *PartitionStore) EntryCount() int {
	return s.entries.Size()
}

func (s *PartitionStore) WriteVersion() uint64 {
	return s.writeVersion
}

// Range calls fn for each entry with startKey <= key < endKey in key order.
// A nil endKey means no upper bound.
func (s *PartitionStore) Range(startKey []byte, endKey []byte, fn func(key []byte, value []byte) bool) {
	sStart := common.ByteSliceToStringZeroCopy(startKey)
	var sEnd string
	if endKey != nil {
		sEnd = common.ByteSliceToStringZeroCopy(endKey)
	}
	iter := s.entries.Iterator()
	for iter.Next() {
		sKey := iter.Key().(string)
		if sKey < sStart {
			continue
		}
		if endKey != nil && sKey >= sEnd {
			break
		}
		if !fn([]byte(sKey), iter.Value().([]byte)) {
			break
		}
	}
}

// rehydrateMaxIdlePolls bounds how many consecutive empty polls Rehydrate
// tolerates before the missing tail of the changelog is treated as an error.
const rehydrateMaxIdlePolls = 100

// Rehydrate rebuilds the in-memory map by replaying the retained changelog up
// to highWaterMark. A slow fetch is retried rather than taken as end of log:
// stopping early would leave partial state and a stale committed offset with
// no indication anything is wrong.
func (s *PartitionStore) Rehydrate(provider kafka.MessageProvider, pollTimeout time.Duration,
	highWaterMark int64) error {
	if err := provider.Start(); err != nil {
		return errors.WithStack(err)
	}
	defer func() {
		if err := provider.Stop(); err != nil {
			log.Warnf("failed to stop changelog provider: %v", err)
		}
	}()
	count := 0
	idlePolls := 0
	var nextOffset int64
	for nextOffset < highWaterMark {
		msg, err := provider.GetMessage(pollTimeout)
		if err != nil {
			return errors.WithStack(err)
		}
		if msg == nil {
			idlePolls++
			if idlePolls >= rehydrateMaxIdlePolls {
				return errors.NewMatViewErrorf(errors.StoreError,
					"changelog replay for partition %d stalled at offset %d of %d",
					s.partitionID, nextOffset, highWaterMark)
			}
			continue
		}
		idlePolls = 0
		s.apply(common.KV{Key: msg.Key, Value: msg.Value})
		nextOffset = msg.PartInfo.Offset + 1
		count++
	}
	log.Debugf("rehydrated store for partition %d with %d changelog entries", s.partitionID, count)
	return nil
}
