package store

import (
	"testing"
	"time"

	"github.com/matview-io/matview/common"
	"github.com/matview-io/matview/kafka"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

type recordingProducer struct {
	messages []kafka.Message
	failWith error
}

func (r *recordingProducer) SendMessages(messages []kafka.Message) error {
	if r.failWith != nil {
		return r.failWith
	}
	r.messages = append(r.messages, messages...)
	return nil
}

func (r *recordingProducer) Start() error {
	return nil
}

func (r *recordingProducer) Stop() error {
	return nil
}

// sliceProvider serves a fixed changelog partition, optionally with a number
// of empty polls before every message, the way a slow fetch looks.
type sliceProvider struct {
	messages   []kafka.Message
	nilsBefore int
	pos        int
	nils       int
}

func (s *sliceProvider) GetMessage(_ time.Duration) (*kafka.Message, error) {
	if s.pos >= len(s.messages) {
		return nil, nil
	}
	if s.nils < s.nilsBefore {
		s.nils++
		return nil, nil
	}
	s.nils = 0
	msg := s.messages[s.pos]
	msg.PartInfo.Offset = int64(s.pos)
	s.pos++
	return &msg, nil
}

func (s *sliceProvider) Start() error {
	return nil
}

func (s *sliceProvider) Stop() error {
	return nil
}

func TestPutNotVisibleUntilFlush(t *testing.T) {
	st := NewPartitionStore(0, nil)
	st.Put(common.KV{Key: []byte("k1"), Value: []byte("v1")})

	v, err := st.Get([]byte("k1"))
	require.NoError(t, err)
	require.Nil(t, v)

	require.NoError(t, st.Flush())
	v, err = st.Get([]byte("k1"))
	require.NoError(t, err)
	require.Equal(t, []byte("v1"), v)
	require.Equal(t, uint64(1), st.WriteVersion())
}

func TestFlushWithNothingPendingIsNoOp(t *testing.T) {
	st := NewPartitionStore(0, nil)
	require.NoError(t, st.Flush())
	require.Equal(t, uint64(0), st.WriteVersion())
}

func TestDeleteRemovesEntry(t *testing.T) {
	st := NewPartitionStore(0, nil)
	st.Put(common.KV{Key: []byte("k1"), Value: []byte("v1")})
	require.NoError(t, st.Flush())
	st.Delete([]byte("k1"))
	require.NoError(t, st.Flush())
	v, err := st.Get([]byte("k1"))
	require.NoError(t, err)
	require.Nil(t, v)
	require.Equal(t, 0, st.EntryCount())
}

func TestDiscardPending(t *testing.T) {
	st := NewPartitionStore(0, nil)
	st.Put(common.KV{Key: []byte("k1"), Value: []byte("v1")})
	st.DiscardPending()
	require.NoError(t, st.Flush())
	v, err := st.Get([]byte("k1"))
	require.NoError(t, err)
	require.Nil(t, v)
	require.Equal(t, uint64(0), st.WriteVersion())
}

func TestFlushAppendsToChangelogBeforeApplying(t *testing.T) {
	changelog := &recordingProducer{}
	st := NewPartitionStore(3, changelog)
	st.Put(common.KV{Key: []byte("k1"), Value: []byte("v1")})
	st.Delete([]byte("k2"))
	require.NoError(t, st.Flush())

	require.Len(t, changelog.messages, 2)
	require.Equal(t, []byte("k1"), changelog.messages[0].Key)
	require.Equal(t, []byte("v1"), changelog.messages[0].Value)
	require.Equal(t, []byte("k2"), changelog.messages[1].Key)
	require.Nil(t, changelog.messages[1].Value)
	require.Equal(t, int32(3), changelog.messages[0].PartInfo.PartitionID)
}

func TestChangelogFailureLeavesStoreUntouched(t *testing.T) {
	changelog := &recordingProducer{failWith: errors.New("broker down")}
	st := NewPartitionStore(0, changelog)
	st.Put(common.KV{Key: []byte("k1"), Value: []byte("v1")})
	require.Error(t, st.Flush())

	v, err := st.Get([]byte("k1"))
	require.NoError(t, err)
	require.Nil(t, v)
	require.Equal(t, uint64(0), st.WriteVersion())

	// Pending writes from the failed flush are gone, not replayed later.
	changelog.failWith = nil
	require.NoError(t, st.Flush())
	require.Equal(t, 0, st.EntryCount())
}

func TestRehydrateReplaysChangelog(t *testing.T) {
	provider := &sliceProvider{messages: []kafka.Message{
		{Key: []byte("k1"), Value: []byte("v1")},
		{Key: []byte("k2"), Value: []byte("v2")},
		{Key: []byte("k1"), Value: []byte("v1b")},
		{Key: []byte("k2"), Value: nil},
	}}
	st := NewPartitionStore(0, nil)
	require.NoError(t, st.Rehydrate(provider, time.Millisecond, 4))

	v, err := st.Get([]byte("k1"))
	require.NoError(t, err)
	require.Equal(t, []byte("v1b"), v)
	v, err = st.Get([]byte("k2"))
	require.NoError(t, err)
	require.Nil(t, v)
	require.Equal(t, 1, st.EntryCount())
}

func TestRehydrateRetriesSlowFetches(t *testing.T) {
	// Every message takes several empty polls to arrive. Replay is bounded by
	// the high watermark, not by the first empty poll, so the full changelog
	// still lands.
	provider := &sliceProvider{
		messages: []kafka.Message{
			{Key: []byte("k1"), Value: []byte("v1")},
			{Key: []byte("k2"), Value: []byte("v2")},
		},
		nilsBefore: 3,
	}
	st := NewPartitionStore(0, nil)
	require.NoError(t, st.Rehydrate(provider, time.Millisecond, 2))
	require.Equal(t, 2, st.EntryCount())
}

func TestRehydrateStalledChangelogFails(t *testing.T) {
	// The changelog has one entry the provider never delivers. Truncating
	// silently would leave partial state, so this must fail.
	provider := &sliceProvider{}
	st := NewPartitionStore(0, nil)
	err := st.Rehydrate(provider, time.Millisecond, 1)
	require.Error(t, err)
	require.Contains(t, err.Error(), "stalled")
}

func TestRehydrateEmptyChangelogIsComplete(t *testing.T) {
	provider := &sliceProvider{}
	st := NewPartitionStore(0, nil)
	require.NoError(t, st.Rehydrate(provider, time.Millisecond, 0))
	require.Equal(t, 0, st.EntryCount())
}

func TestRange(t *testing.T) {
	st := NewPartitionStore(0, nil)
	for _, k := range []string{"b", "a", "d", "c"} {
		st.Put(common.KV{Key: []byte(k), Value: []byte("v-" + k)})
	}
	require.NoError(t, st.Flush())

	var keys []string
	st.Range([]byte("b"), []byte("d"), func(key []byte, value []byte) bool {
		keys = append(keys, string(key))
		return true
	})
	require.Equal(t, []string{"b", "c"}, keys)

	keys = nil
	st.Range([]byte("a"), nil, func(key []byte, value []byte) bool {
		keys = append(keys, string(key))
		return len(keys) < 2
	})
	require.Equal(t, []string{"a", "b"}, keys)
}
