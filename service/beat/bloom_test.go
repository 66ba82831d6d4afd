package beat

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilter_AddedKeysAreContained(t *testing.T) {
	filter := NewFilter(make([]byte, 256), 3)

	addr := common.HexToAddress("0x8d5fb3e576bbe08279a3a64194c01b36d4bbb0c9")
	filter.Add(addr.Bytes())

	// No false negatives for added keys, ever.
	assert.True(t, filter.Contains(addr.Bytes()))
}

func TestFilter_EmptyFilterContainsNothing(t *testing.T) {
	filter := NewFilter(make([]byte, 256), 3)
	addr := common.HexToAddress("0x8d5fb3e576bbe08279a3a64194c01b36d4bbb0c9")
	assert.False(t, filter.Contains(addr.Bytes()))
}

func TestFilter_KClamped(t *testing.T) {
	f := NewFilter(make([]byte, 256), 100)
	assert.Equal(t, maxK, f.k)

	f = NewFilter(make([]byte, 256), 0)
	assert.Equal(t, 1, f.k)
}

func TestBeat_Touches(t *testing.T) {
	watched := common.HexToAddress("0x8d5fb3e576bbe08279a3a64194c01b36d4bbb0c9")
	other := common.HexToAddress("0x0000000000000000000000000000000000000001")

	filter := NewFilter(make([]byte, 256), 3)
	filter.Add(watched.Bytes())

	b := Beat{
		Number: 100,
		Bloom:  hexutil.Encode(filter.bits),
		K:      3,
	}

	assert.True(t, b.Touches(watched))
	assert.True(t, b.Touches(other, watched), "any watched address matching is enough")
	assert.False(t, b.Touches(other))
	assert.False(t, b.Touches())
}

func TestBeat_UndecodableBloomIsRelevant(t *testing.T) {
	b := Beat{Number: 1, Bloom: "not-hex", K: 3}
	addr := common.HexToAddress("0x0000000000000000000000000000000000000001")

	// Decode failure must err on the side of a harmless extra fetch.
	require.True(t, b.Touches(addr))
}
