package link

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moffa90/go-qbmidi/protocol"
	"github.com/moffa90/go-qbmidi/transport"
)

func TestSnapshotJSON(t *testing.T) {
	r := NewRoster()
	l := New(port("in-a"), port("out-a"), MethodEcho)
	l.SetIdentity("QB0123456789ABCD", false, time.Unix(100, 0).UTC())
	r.Add(l)

	data, err := json.Marshal(r.Snapshot("owner-1"))
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, float64(SnapshotVersion), decoded["version"])
	assert.Equal(t, "owner-1", decoded["owner"])

	links := decoded["links"].([]any)
	require.Len(t, links, 1)
	entry := links[0].(map[string]any)
	assert.Equal(t, "in-a", entry["input"])
	assert.Equal(t, "out-a", entry["output"])
	assert.Equal(t, "message-echo", entry["method"])
	assert.Equal(t, true, entry["midi"])
}

func TestSnapshotHighBytesUUID(t *testing.T) {
	msgs := make([]protocol.Message, 0, 8)
	for i := 0; i < 8; i++ {
		msgs = append(msgs, protocol.Message{Command: protocol.CmdData, Byte1: 'Q', Byte2: 0xC8})
	}
	sample := sampleString(msgs)
	uuid := VoteUUID([]string{sample, sample, sample})
	require.Len(t, uuid, UUIDLength)

	src := NewRoster()
	l := New(port("in-a"), port("out-a"), MethodEcho)
	l.SetIdentity(uuid, false, time.Unix(100, 0).UTC())
	src.Add(l)

	data, err := json.Marshal(src.Snapshot("owner-1"))
	require.NoError(t, err)
	var snap Snapshot
	require.NoError(t, json.Unmarshal(data, &snap))

	dst := NewRoster()
	res := dst.Merge(snap, []transport.Port{port("in-a")}, []transport.Port{port("out-a")})
	require.Len(t, res.Added, 1)
	assert.Len(t, res.Added[0].UUID(), UUIDLength)
	assert.Equal(t, uuid, res.Added[0].UUID())

	got, ok := dst.ByUUID(uuid)
	require.True(t, ok)
	assert.Equal(t, l.Key(), got.Key())
}

func TestMerge(t *testing.T) {
	now := time.Now()
	inputs := []transport.Port{port("in-a"), port("in-b"), port("in-c")}
	outputs := []transport.Port{port("out-a"), port("out-b"), port("out-c")}

	r := NewRoster()
	stale := New(port("in-a"), port("out-a"), MethodEcho)
	stale.SetIdentity(UnknownUUID, false, now.Add(-time.Minute))
	gone := New(port("in-c"), port("out-c"), MethodEcho)
	busy := New(port("in-x"), port("out-x"), MethodEcho)
	require.True(t, busy.TryBegin(StateUploading))
	r.Add(stale)
	r.Add(gone)
	r.Add(busy)

	snap := Snapshot{
		Version: SnapshotVersion,
		Owner:   "other",
		Links: []SnapshotLink{
			{Input: "in-a", Output: "out-a", Method: MethodEcho, UUID: "QB0123456789ABCD", Updated: now},
			{Input: "in-b", Output: "out-b", Method: MethodNaiveVersion, UUID: "QB0000000000000B", Updated: now},
			{Input: "in-z", Output: "out-z", Method: MethodEcho, UUID: "QB0000000000000Z", Updated: now},
		},
	}

	res := r.Merge(snap, inputs, outputs)

	assert.True(t, res.Changed())
	assert.Equal(t, []*Link{stale}, res.Updated)
	assert.Equal(t, "QB0123456789ABCD", stale.UUID(), "updated in place")
	require.Len(t, res.Added, 1)
	assert.Equal(t, "in-b", res.Added[0].Input().ID)
	assert.Equal(t, MethodNaiveVersion, res.Added[0].Method())
	assert.Equal(t, []*Link{gone}, res.Removed)

	assert.True(t, r.Contains(busy), "busy link survives")
	_, ok := r.ByKey(PairKey{Input: "in-z", Output: "out-z"})
	assert.False(t, ok, "unresolvable ports are skipped")
	assertConsistent(t, r)

	again := r.Merge(snap, inputs, outputs)
	assert.Empty(t, again.Added)
	assert.Empty(t, again.Updated)
}
