package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSON(t *testing.T) {
	type record struct {
		ID    string  `json:"id"`
		Score float64 `json:"score"`
	}

	t.Run("RoundTrip", func(t *testing.T) {
		in := record{ID: "c1", Score: 0.97}
		data, err := JSON{}.Marshal(in)
		require.NoError(t, err)

		var out record
		require.NoError(t, JSON{}.Unmarshal(data, &out))
		assert.Equal(t, in, out)
	})

	t.Run("DeterministicBytes", func(t *testing.T) {
		in := record{ID: "c1", Score: 0.97}
		a := MustMarshal(JSON{}, in)
		b := MustMarshal(JSON{}, in)
		assert.Equal(t, a, b)
	})
}

func TestByName(t *testing.T) {
	c, ok := ByName("json")
	require.True(t, ok)
	assert.Equal(t, "json", c.Name())

	_, ok = ByName("msgpack")
	assert.False(t, ok)
}
