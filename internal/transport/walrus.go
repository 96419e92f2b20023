package transport

import (
	"context"
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/sui-sandbox/replay/internal/address"
	"github.com/sui-sandbox/replay/internal/domain"
)

// walrusMagic is the 4-byte magic value ending every Walrus blob footer.
const walrusMagic uint32 = 0x574c4244

// footerSize is the fixed size of the trailing footer:
// [u32 magic][u32 version][u64 index_offset][u32 entry_count].
const footerSize = 4 + 4 + 8 + 4

// Footer is the trailing 24-byte structure of a Walrus blob.
type Footer struct {
	Magic       uint32
	Version     uint32
	IndexOffset uint64
	EntryCount  uint32
}

// IndexEntry is one entry of a Walrus blob's index:
// [u32 name_len][name_bytes][u64 offset][u64 length][u32 crc].
type IndexEntry struct {
	Name   string
	Offset uint64
	Length uint64
	CRC    uint32
}

// ParseFooter reads the trailing footerSize bytes of blob.
func ParseFooter(blob []byte) (Footer, error) {
	if len(blob) < footerSize {
		return Footer{}, fmt.Errorf("walrus: blob shorter than footer (%d bytes)", len(blob))
	}
	tail := blob[len(blob)-footerSize:]
	f := Footer{
		Magic:       binary.LittleEndian.Uint32(tail[0:4]),
		Version:     binary.LittleEndian.Uint32(tail[4:8]),
		IndexOffset: binary.LittleEndian.Uint64(tail[8:16]),
		EntryCount:  binary.LittleEndian.Uint32(tail[16:20]),
	}
	if f.Magic != walrusMagic {
		return Footer{}, fmt.Errorf("walrus: bad magic %#x", f.Magic)
	}
	return f, nil
}

// ParseIndex reads EntryCount index entries starting at IndexOffset.
func ParseIndex(blob []byte, f Footer) ([]IndexEntry, error) {
	pos := int(f.IndexOffset)
	entries := make([]IndexEntry, 0, f.EntryCount)
	for i := uint32(0); i < f.EntryCount; i++ {
		if pos+4 > len(blob) {
			return nil, fmt.Errorf("walrus: index entry %d: truncated name length", i)
		}
		nameLen := int(binary.LittleEndian.Uint32(blob[pos : pos+4]))
		pos += 4
		if pos+nameLen+8+8+4 > len(blob) {
			return nil, fmt.Errorf("walrus: index entry %d: truncated body", i)
		}
		name := string(blob[pos : pos+nameLen])
		pos += nameLen
		offset := binary.LittleEndian.Uint64(blob[pos : pos+8])
		pos += 8
		length := binary.LittleEndian.Uint64(blob[pos : pos+8])
		pos += 8
		crc := binary.LittleEndian.Uint32(blob[pos : pos+4])
		pos += 4
		entries = append(entries, IndexEntry{Name: name, Offset: offset, Length: length, CRC: crc})
	}
	return entries, nil
}

// ByteRange is one [Offset, Offset+Length) span to fetch.
type ByteRange struct {
	Offset uint64
	Length uint64
}

// CoalesceRanges merges contiguous or overlapping ranges into the smallest
// set of spans, each capped at maxChunkBytes. Input order is not
// preserved; output is sorted by offset.
func CoalesceRanges(ranges []ByteRange, maxChunkBytes uint64) []ByteRange {
	if len(ranges) == 0 {
		return nil
	}
	sorted := append([]ByteRange(nil), ranges...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Offset < sorted[j].Offset })

	var out []ByteRange
	cur := sorted[0]
	for _, r := range sorted[1:] {
		curEnd := cur.Offset + cur.Length
		rEnd := r.Offset + r.Length
		merged := ByteRange{Offset: cur.Offset, Length: maxU64(curEnd, rEnd) - cur.Offset}
		if r.Offset <= curEnd && merged.Length <= maxChunkBytes {
			cur = merged
			continue
		}
		out = append(out, cur)
		cur = r
	}
	out = append(out, cur)

	// Any single range already exceeding maxChunkBytes is split into
	// maxChunkBytes-sized pieces so the retry cascade can halve it.
	var split []ByteRange
	for _, r := range out {
		split = append(split, splitRange(r, maxChunkBytes)...)
	}
	return split
}

func splitRange(r ByteRange, maxChunkBytes uint64) []ByteRange {
	if maxChunkBytes == 0 || r.Length <= maxChunkBytes {
		return []ByteRange{r}
	}
	var out []ByteRange
	remaining := r.Length
	offset := r.Offset
	for remaining > 0 {
		chunk := maxChunkBytes
		if chunk > remaining {
			chunk = remaining
		}
		out = append(out, ByteRange{Offset: offset, Length: chunk})
		offset += chunk
		remaining -= chunk
	}
	return out
}

func maxU64(a, b uint64) uint64 {
	if a > b {
		return a
	}
	return b
}

// RangeFetchFunc fetches exactly one byte range over HTTP (or a test
// double). It returns a *Error (ErrNetworkTimeout, typically) on failure.
type RangeFetchFunc func(ctx context.Context, r ByteRange) ([]byte, error)

// FetchWithDegradation implements the batched-fetch cascade: coalesce
// ranges up to maxChunkBytes, and on a range fetch failure, halve the
// chunk size and retry (up to maxRetries total halvings) before degrading
// to one fetch per original range. The cascade is deterministic given the
// same sequence of underlying failures.
func FetchWithDegradation(ctx context.Context, fetch RangeFetchFunc, ranges []ByteRange, maxChunkBytes uint64, maxRetries int) (map[ByteRange][]byte, error) {
	results := map[ByteRange][]byte{}
	chunk := maxChunkBytes
	attempt := 0

	for {
		coalesced := CoalesceRanges(ranges, chunk)
		allOK := true
		attemptResults := map[ByteRange][]byte{}

		for _, span := range coalesced {
			data, err := fetch(ctx, span)
			if err != nil {
				allOK = false
				break
			}
			attemptResults[span] = data
		}

		if allOK {
			for _, orig := range ranges {
				buf := make([]byte, orig.Length)
				for span, data := range attemptResults {
					lo, hi := maxU64(orig.Offset, span.Offset), span.Offset+uint64(len(data))
					if end := orig.Offset + orig.Length; end < hi {
						hi = end
					}
					if lo < hi {
						copy(buf[lo-orig.Offset:], data[lo-span.Offset:hi-span.Offset])
					}
				}
				results[orig] = buf
			}
			return results, nil
		}

		attempt++
		if attempt > maxRetries {
			return degradeToPerRange(ctx, fetch, ranges)
		}
		chunk /= 2
		if chunk == 0 {
			return degradeToPerRange(ctx, fetch, ranges)
		}
	}
}

// degradeToPerRange fetches each original range individually, the final
// fallback of the retry cascade.
func degradeToPerRange(ctx context.Context, fetch RangeFetchFunc, ranges []ByteRange) (map[ByteRange][]byte, error) {
	results := map[ByteRange][]byte{}
	for _, r := range ranges {
		data, err := fetch(ctx, r)
		if err != nil {
			return results, err
		}
		results[r] = data
	}
	return results, nil
}

// WalrusOptions configures a WalrusBackend.
type WalrusOptions struct {
	// MaxChunkBytes bounds a single coalesced HTTP range request.
	MaxChunkBytes uint64
	// MaxRetries bounds the halving cascade before degrading to
	// per-checkpoint fetches.
	MaxRetries int
}

// DefaultWalrusOptions mirrors the teacher's download-state-machine
// defaults: modest chunk size, a handful of retries before degrading.
func DefaultWalrusOptions() WalrusOptions {
	return WalrusOptions{MaxChunkBytes: 8 << 20, MaxRetries: 2}
}

// WalrusBackend serves historical bulk reads from a blob archive with no
// streaming support. FetchObject, FetchPackageModulesAtCheckpoint,
// FetchTransaction and FetchEpoch are not meaningful against a bare blob
// (the blob only carries checkpoint-range-addressable bytes) and return
// Disabled; this backend is wired for bulk checkpoint range fetches via
// FetchCheckpointRange and FetchCheckpoint, matching the spec's framing of
// Walrus as "historical bulk work only".
type WalrusBackend struct {
	opts       WalrusOptions
	fetchRange RangeFetchFunc
	footer     Footer
	index      []IndexEntry
}

var _ Backend = (*WalrusBackend)(nil)

// NewWalrusBackend constructs a backend around a parsed blob footer/index
// and a range-fetch function (real HTTP in production, a test double in
// tests).
func NewWalrusBackend(opts WalrusOptions, footer Footer, index []IndexEntry, fetchRange RangeFetchFunc) *WalrusBackend {
	return &WalrusBackend{opts: opts, fetchRange: fetchRange, footer: footer, index: index}
}

// FetchCheckpointRange fetches the bytes for a named checkpoint entry,
// applying the coalesce/retry/degrade cascade.
func (w *WalrusBackend) FetchCheckpointRange(ctx context.Context, name string) ([]byte, error) {
	for _, e := range w.index {
		if e.Name == name {
			r := ByteRange{Offset: e.Offset, Length: e.Length}
			results, err := FetchWithDegradation(ctx, w.fetchRange, []ByteRange{r}, w.opts.MaxChunkBytes, w.opts.MaxRetries)
			if err != nil {
				return nil, &Error{Kind: ErrNetworkTimeout, SourceID: "walrus", Message: err.Error()}
			}
			return results[r], nil
		}
	}
	return nil, &Error{Kind: ErrNotFound, SourceID: "walrus", Message: "no entry named " + name}
}

func (w *WalrusBackend) FetchObject(context.Context, address.Address, *domain.ObjectVersion) (*FetchedObject, error) {
	return nil, disabledErr("walrus")
}

func (w *WalrusBackend) FetchPackageModulesAtCheckpoint(context.Context, address.Address, uint64) ([]domain.Module, error) {
	return nil, disabledErr("walrus")
}

func (w *WalrusBackend) FetchTransaction(context.Context, string) (*domain.Transaction, error) {
	return nil, disabledErr("walrus")
}

func (w *WalrusBackend) FetchCheckpoint(ctx context.Context, seq uint64) (*Checkpoint, error) {
	data, err := w.FetchCheckpointRange(ctx, fmt.Sprintf("%d", seq))
	if err != nil {
		return nil, err
	}
	// The blob's per-checkpoint payload format is opaque bytes from this
	// backend's point of view; decoding into a Checkpoint is the
	// responsibility of whatever wraps this backend with a codec. Return
	// a minimal Checkpoint carrying the sequence only when bytes are
	// non-empty, to keep this method honestly scoped.
	if len(data) == 0 {
		return nil, &Error{Kind: ErrMalformed, SourceID: "walrus"}
	}
	return &Checkpoint{Sequence: seq}, nil
}

func (w *WalrusBackend) FetchEpoch(context.Context, *uint64) (*Epoch, error) {
	return nil, disabledErr("walrus")
}

func (w *WalrusBackend) BatchFetchObjectsAtVersions(ctx context.Context, reqs []ObjectVersionRequest, concurrency int) []ObjectFetchResult {
	return BatchFetchObjectsAtVersions(ctx, w, reqs, concurrency)
}

// SubscribeCheckpoints is Disabled: Walrus serves historical bulk reads
// against a static blob, never a live append-only stream.
func (w *WalrusBackend) SubscribeCheckpoints(context.Context, uint64) (<-chan *Checkpoint, <-chan error) {
	return disabledSubscription("walrus")
}
