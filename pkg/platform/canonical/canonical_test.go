package canonical

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshal_SortsKeysAtEveryLevel(t *testing.T) {
	in := map[string]any{
		"zeta": 1,
		"alpha": map[string]any{
			"c": []any{3, 2, 1},
			"a": "x",
			"b": nil,
		},
	}

	out, err := Marshal(in)
	require.NoError(t, err)
	assert.Equal(t, `{"alpha":{"a":"x","b":null,"c":[3,2,1]},"zeta":1}`, string(out))
}

func TestMarshal_DeterministicAcrossInsertionOrder(t *testing.T) {
	a := map[string]any{"one": 1, "two": 2, "three": 3}
	b := map[string]any{"three": 3, "one": 1, "two": 2}

	outA, err := Marshal(a)
	require.NoError(t, err)
	outB, err := Marshal(b)
	require.NoError(t, err)
	assert.Equal(t, outA, outB)
}

func TestMarshal_RespectsStructTags(t *testing.T) {
	type claim struct {
		Subject string `json:"subject"`
		Amount  int    `json:"amount"`
		Skip    string `json:"-"`
	}

	out, err := Marshal(claim{Subject: "org-1", Amount: 40, Skip: "hidden"})
	require.NoError(t, err)
	assert.Equal(t, `{"amount":40,"subject":"org-1"}`, string(out))
}

func TestHash_StableForEquivalentValues(t *testing.T) {
	h1, err := Hash(map[string]any{"k": "v", "n": 1})
	require.NoError(t, err)
	h2, err := Hash(map[string]any{"n": 1, "k": "v"})
	require.NoError(t, err)

	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 64)
}

func TestHash_ChangesWhenContentChanges(t *testing.T) {
	h1, err := Hash(map[string]any{"k": "v"})
	require.NoError(t, err)
	h2, err := Hash(map[string]any{"k": "w"})
	require.NoError(t, err)
	assert.NotEqual(t, h1, h2)
}
