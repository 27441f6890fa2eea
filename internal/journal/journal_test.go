package journal

import (
	"bufio"
	"bytes"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []Entry {
	t.Helper()
	var out []Entry
	sc := bufio.NewScanner(buf)
	for sc.Scan() {
		var e Entry
		require.NoError(t, json.Unmarshal(sc.Bytes(), &e))
		out = append(out, e)
	}
	return out
}

// TestJournalWritesJSONL verifies entries are flushed in sequence order on Stop.
func TestJournalWritesJSONL(t *testing.T) {
	var buf bytes.Buffer
	j := New(Config{FlushInterval: time.Hour})
	require.NoError(t, j.StartWriter(&buf))

	assert.True(t, j.Record(NewEntry(KindLobbyCreated, "AB12", 0, 0, nil)))
	assert.True(t, j.Record(NewEntry(KindClientJoined, "AB12", 7, 0, JoinPayload{Spectator: true})))
	assert.True(t, j.Record(NewEntry(KindGameStarted, "AB12", 0, 3, GameStartPayload{Difficulty: "MEDIUM", Players: 1})))
	j.Stop()

	entries := decodeLines(t, &buf)
	require.Len(t, entries, 3)
	assert.Equal(t, KindLobbyCreated, entries[0].Kind)
	assert.Equal(t, uint64(1), entries[0].Sequence)
	assert.Equal(t, uint32(7), entries[1].Client)
	assert.JSONEq(t, `{"spectator":true}`, string(entries[1].Payload))
	assert.Equal(t, uint64(3), entries[2].Tick)

	assert.False(t, j.Record(NewEntry(KindClientLeft, "AB12", 7, 0, nil)), "stopped journal refuses entries")
}

// TestJournalOverwritesOldestWhenFull checks the bounded ring.
func TestJournalOverwritesOldestWhenFull(t *testing.T) {
	var buf bytes.Buffer
	j := New(Config{BufferSize: 2, FlushInterval: time.Hour})
	require.NoError(t, j.StartWriter(&buf))

	for i := range 3 {
		j.Record(NewEntry(KindClientJoined, "", uint32(i+1), 0, nil))
	}
	st := j.Stats()
	assert.Equal(t, uint64(3), st.Total)
	assert.Equal(t, uint64(1), st.Dropped)
	assert.Equal(t, uint64(2), st.Pending)

	j.Stop()
	entries := decodeLines(t, &buf)
	require.Len(t, entries, 2)
	assert.Equal(t, uint64(2), entries[0].Sequence)
	assert.Equal(t, uint64(3), entries[1].Sequence)
}

func TestJournalRateLimitsPerLobby(t *testing.T) {
	j := New(Config{MaxPerLobby: 1, FlushInterval: time.Hour})
	require.NoError(t, j.StartWriter(&bytes.Buffer{}))
	defer j.Stop()

	assert.True(t, j.Record(NewEntry(KindClientJoined, "NOISY", 1, 0, nil)))
	assert.False(t, j.Record(NewEntry(KindClientJoined, "NOISY", 2, 0, nil)))
	assert.True(t, j.Record(NewEntry(KindClientJoined, "QUIET", 3, 0, nil)))
	assert.Equal(t, uint64(1), j.Stats().Dropped)
}
