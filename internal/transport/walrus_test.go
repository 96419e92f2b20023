package transport

import (
	"context"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func buildBlob(t *testing.T, entries []IndexEntry, payload []byte) []byte {
	t.Helper()
	var index []byte
	for _, e := range entries {
		var nameLen [4]byte
		binary.LittleEndian.PutUint32(nameLen[:], uint32(len(e.Name)))
		index = append(index, nameLen[:]...)
		index = append(index, []byte(e.Name)...)
		var offset, length [8]byte
		binary.LittleEndian.PutUint64(offset[:], e.Offset)
		binary.LittleEndian.PutUint64(length[:], e.Length)
		index = append(index, offset[:]...)
		index = append(index, length[:]...)
		var crc [4]byte
		binary.LittleEndian.PutUint32(crc[:], e.CRC)
		index = append(index, crc[:]...)
	}

	indexOffset := uint64(len(payload))
	blob := append([]byte{}, payload...)
	blob = append(blob, index...)

	var footer [footerSize]byte
	binary.LittleEndian.PutUint32(footer[0:4], walrusMagic)
	binary.LittleEndian.PutUint32(footer[4:8], 1)
	binary.LittleEndian.PutUint64(footer[8:16], indexOffset)
	binary.LittleEndian.PutUint32(footer[16:20], uint32(len(entries)))
	blob = append(blob, footer[:]...)
	return blob
}

func TestParseFooterAndIndexRoundTrip(t *testing.T) {
	payload := []byte("checkpoint-0000-bytescheckpoint-0001-bytes")
	entries := []IndexEntry{
		{Name: "0", Offset: 0, Length: 22, CRC: 0xdeadbeef},
		{Name: "1", Offset: 22, Length: 21, CRC: 0xfeedface},
	}
	blob := buildBlob(t, entries, payload)

	footer, err := ParseFooter(blob)
	require.NoError(t, err)
	require.Equal(t, uint32(1), footer.Version)
	require.Equal(t, uint32(2), footer.EntryCount)

	index, err := ParseIndex(blob, footer)
	require.NoError(t, err)
	require.Equal(t, entries, index)
}

func TestParseFooterRejectsBadMagic(t *testing.T) {
	blob := make([]byte, footerSize)
	_, err := ParseFooter(blob)
	require.Error(t, err)
}

func TestParseFooterRejectsShortBlob(t *testing.T) {
	_, err := ParseFooter([]byte{1, 2, 3})
	require.Error(t, err)
}

func TestCoalesceRangesMergesContiguous(t *testing.T) {
	ranges := []ByteRange{{Offset: 0, Length: 10}, {Offset: 10, Length: 10}, {Offset: 100, Length: 5}}
	merged := CoalesceRanges(ranges, 1<<20)
	require.Len(t, merged, 2)
	require.Equal(t, ByteRange{Offset: 0, Length: 20}, merged[0])
	require.Equal(t, ByteRange{Offset: 100, Length: 5}, merged[1])
}

func TestCoalesceRangesRespectsMaxChunk(t *testing.T) {
	ranges := []ByteRange{{Offset: 0, Length: 10}, {Offset: 10, Length: 10}}
	merged := CoalesceRanges(ranges, 15)
	require.Len(t, merged, 2, "a merge exceeding maxChunkBytes must not coalesce")
}

func TestFetchWithDegradationHalvesChunkOnFailure(t *testing.T) {
	ranges := []ByteRange{{Offset: 0, Length: 8}, {Offset: 8, Length: 8}}
	var callSizes []uint64

	fetch := func(ctx context.Context, r ByteRange) ([]byte, error) {
		callSizes = append(callSizes, r.Length)
		if r.Length > 4 {
			return nil, errors.New("simulated timeout")
		}
		return make([]byte, r.Length), nil
	}

	results, err := FetchWithDegradation(context.Background(), fetch, ranges, 16, 2)
	require.NoError(t, err, "chunk size must halve down to 4 and succeed within the retry budget")
	require.Len(t, results, 2)
	require.Contains(t, callSizes, uint64(16), "first attempt coalesces to the full chunk size")
	require.Contains(t, callSizes, uint64(4), "cascade must eventually halve down to a succeeding size")
}

func TestFetchWithDegradationGivesUpAfterMaxRetries(t *testing.T) {
	ranges := []ByteRange{{Offset: 0, Length: 8}}
	fetch := func(ctx context.Context, r ByteRange) ([]byte, error) {
		return nil, errors.New("always fails")
	}
	_, err := FetchWithDegradation(context.Background(), fetch, ranges, 16, 1)
	require.Error(t, err)
}

func TestFetchWithDegradationSucceedsAfterDegrade(t *testing.T) {
	ranges := []ByteRange{{Offset: 0, Length: 8}, {Offset: 8, Length: 8}}

	fetch := func(ctx context.Context, r ByteRange) ([]byte, error) {
		if r.Length > 8 {
			return nil, errors.New("simulated timeout")
		}
		return make([]byte, r.Length), nil
	}

	results, err := FetchWithDegradation(context.Background(), fetch, ranges, 64, 1)
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.Len(t, results[ranges[0]], 8)
	require.Len(t, results[ranges[1]], 8)
}
