// Package namespace implements the URI grammar HN4 accepts at its public
// boundary (§4.5) and the time/generation slice engine layered on top of
// anchor resolution (§4.6).
package namespace

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spaolacci/murmur3"
)

// Kind distinguishes the two resolution paths a parsed URI selects.
type Kind int

const (
	// KindID selects the direct hash-probe ID path.
	KindID Kind = iota
	// KindName selects the tag/name resonance scan path.
	KindName
)

// SliceKind distinguishes the optional trailing #time:/#gen: selector.
type SliceKind int

const (
	SliceNone SliceKind = iota
	SliceTime
	SliceGen
)

// URI is a fully parsed HN4 resource reference.
type URI struct {
	Kind Kind

	// Populated when Kind == KindID.
	SeedID [16]byte

	// Populated when Kind == KindName.
	RequiredTagMask uint64
	Name            string // empty means "pure tag query, no name check"

	Slice     SliceKind
	SliceTime uint64 // nanoseconds since epoch, when Slice == SliceTime
	SliceGen  uint32 // when Slice == SliceGen
}

// ErrInvalidURI is returned for any input that does not satisfy the grammar.
type ErrInvalidURI struct{ Reason string }

func (e ErrInvalidURI) Error() string { return "namespace: invalid URI: " + e.Reason }

// Parse tokenizes and validates a caller-supplied resource reference.
func Parse(raw string) (*URI, error) {
	body, sliceKind, sliceRaw, err := splitSlice(raw)
	if err != nil {
		return nil, err
	}

	if strings.HasPrefix(body, "id:") {
		u, err := parseID(body)
		if err != nil {
			return nil, err
		}
		return applySlice(u, sliceKind, sliceRaw)
	}

	u, err := parsePath(body)
	if err != nil {
		return nil, err
	}
	return applySlice(u, sliceKind, sliceRaw)
}

func splitSlice(raw string) (body string, kind SliceKind, selector string, err error) {
	idx := strings.Index(raw, "#")
	if idx < 0 {
		return raw, SliceNone, "", nil
	}
	body = raw[:idx]
	tail := raw[idx+1:]
	switch {
	case strings.HasPrefix(tail, "time:"):
		return body, SliceTime, strings.TrimPrefix(tail, "time:"), nil
	case strings.HasPrefix(tail, "gen:"):
		return body, SliceGen, strings.TrimPrefix(tail, "gen:"), nil
	default:
		return "", SliceNone, "", ErrInvalidURI{Reason: fmt.Sprintf("unrecognized slice selector %q", tail)}
	}
}

func applySlice(u *URI, kind SliceKind, raw string) (*URI, error) {
	switch kind {
	case SliceNone:
		return u, nil
	case SliceTime:
		ns, err := parseTimeSelector(raw)
		if err != nil {
			return nil, err
		}
		u.Slice = SliceTime
		u.SliceTime = ns
	case SliceGen:
		n, err := strconv.ParseUint(raw, 10, 32)
		if err != nil {
			return nil, ErrInvalidURI{Reason: fmt.Sprintf("invalid gen selector %q", raw)}
		}
		u.Slice = SliceGen
		u.SliceGen = uint32(n)
	}
	return u, nil
}

func parseTimeSelector(raw string) (uint64, error) {
	if n, err := strconv.ParseUint(raw, 10, 64); err == nil {
		return n, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		t, err = time.Parse("2006-01-02", raw)
	}
	if err != nil {
		return 0, ErrInvalidURI{Reason: fmt.Sprintf("invalid time selector %q", raw)}
	}
	return uint64(t.UnixNano()), nil
}

func parseID(body string) (*URI, error) {
	hexDigits := strings.TrimPrefix(body, "id:")
	if len(hexDigits) != 32 {
		return nil, ErrInvalidURI{Reason: "id: requires exactly 32 hex digits"}
	}
	raw, err := hex.DecodeString(hexDigits)
	if err != nil {
		return nil, ErrInvalidURI{Reason: "id: contains non-hex digits"}
	}
	var seed [16]byte
	copy(seed[:], raw)
	return &URI{Kind: KindID, SeedID: seed}, nil
}

func parsePath(body string) (*URI, error) {
	segments := strings.Split(body, "/")
	var cleaned []string
	for _, s := range segments {
		if s != "" {
			cleaned = append(cleaned, s)
		}
	}
	if len(cleaned) == 0 {
		return nil, ErrInvalidURI{Reason: "empty or pure-/ path"}
	}

	u := &URI{Kind: KindName}
	var name string
	haveName := false
	for _, seg := range cleaned {
		if strings.HasPrefix(seg, "tag:") {
			tags := strings.Split(strings.TrimPrefix(seg, "tag:"), "+")
			for _, tag := range tags {
				if tag == "" {
					continue
				}
				u.RequiredTagMask |= TagMask(tag)
			}
			continue
		}
		// A non-tag segment is the trailing file name. The grammar only
		// permits one; a later non-tag segment overrides, since
		// hierarchical and grouped tag forms are order-independent but a
		// URI still names exactly one file.
		name = seg
		haveName = true
	}
	if haveName {
		u.Name = name
	}
	return u, nil
}

// TagMask hashes a single tag token into its bit contribution to a
// tag_filter mask, using the same murmur3 finalizer family as ID hashing so
// every hashed structure on a volume shares one hash family.
func TagMask(tag string) uint64 {
	h := murmur3.Sum64([]byte(tag))
	return uint64(1) << (h % 64)
}

// IDSlotHash computes the primary cortex probe slot for a 128-bit seed id:
// XOR-fold the two 64-bit halves, then apply a murmur3 finalizer, modulo
// the cortex slot count (§4.5).
func IDSlotHash(seedID [16]byte, cortexSlots uint64) uint64 {
	hi := binary.BigEndian.Uint64(seedID[0:8])
	lo := binary.BigEndian.Uint64(seedID[8:16])
	folded := hi ^ lo
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], folded)
	h := murmur3.Sum64(buf[:])
	return h % cortexSlots
}
