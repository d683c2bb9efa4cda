package eventlog

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMerge_LamportTotalOrder(t *testing.T) {
	records := []Record{
		{NodeID: "b", LogicalClock: 2, Kind: KindInternal},
		{NodeID: "a", LogicalClock: 3, Kind: KindSend, Recipient: "b"},
		{NodeID: "a", LogicalClock: 2, Kind: KindInternal},
		{NodeID: "b", LogicalClock: 4, Kind: KindProcess},
		{NodeID: "a", LogicalClock: 1, Kind: KindInternal},
	}

	merged := Merge(records)

	got := make([]string, 0, len(merged))
	for _, rec := range merged {
		got = append(got, rec.Stamp().String())
	}
	assert.Equal(t, []string{"1@a", "2@a", "2@b", "3@a", "4@b"}, got)
	assert.Equal(t, "b", records[0].NodeID, "input must not be reordered")
}

func TestCheckHistory(t *testing.T) {
	tests := []struct {
		name    string
		records []Record
		wantErr bool
	}{
		{
			name: "interleaved nodes increasing",
			records: []Record{
				{NodeID: "a", LogicalClock: 1},
				{NodeID: "b", LogicalClock: 1},
				{NodeID: "a", LogicalClock: 5},
				{NodeID: "b", LogicalClock: 6},
			},
		},
		{
			name: "repeated clock value",
			records: []Record{
				{NodeID: "a", LogicalClock: 2},
				{NodeID: "a", LogicalClock: 2},
			},
			wantErr: true,
		},
		{
			name: "clock went backwards",
			records: []Record{
				{NodeID: "a", LogicalClock: 4},
				{NodeID: "b", LogicalClock: 9},
				{NodeID: "a", LogicalClock: 3},
			},
			wantErr: true,
		},
		{name: "empty"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckHistory(tt.records)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrHistory)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestTee_ForwardsToAllAndJoinsErrors(t *testing.T) {
	first := NewMemory()
	second := NewMemory()
	failing := RecorderFunc(func(context.Context, Record) error {
		return errors.New("disk full")
	})

	rec := Tee(first, nil, failing, second)
	err := rec.Record(context.Background(), Record{NodeID: "a", LogicalClock: 1, Kind: KindInternal})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Equal(t, 1, first.Len())
	assert.Equal(t, 1, second.Len())
}

func TestMemory_ByNode(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	require.NoError(t, m.Record(ctx, Record{NodeID: "a", LogicalClock: 1}))
	require.NoError(t, m.Record(ctx, Record{NodeID: "b", LogicalClock: 1}))
	require.NoError(t, m.Record(ctx, Record{NodeID: "a", LogicalClock: 2}))

	byA := m.ByNode("a")
	require.Len(t, byA, 2)
	assert.Equal(t, uint64(2), byA[1].LogicalClock)

	all := m.Records()
	all[0].NodeID = "mutated"
	assert.Equal(t, "a", m.Records()[0].NodeID)
}

func TestKind_Valid(t *testing.T) {
	assert.True(t, KindSend.Valid())
	assert.True(t, KindProcess.Valid())
	assert.True(t, KindInternal.Valid())
	assert.False(t, Kind("receive").Valid())
}
