package symbol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

func TestEncodeDecode_RoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		var value = rapid.IntRange(0, MaxValue).Draw(t, "value")

		var seq = Encode(value)
		assert.Equal(t, value, Decode(seq), "decode(encode(v)) must equal v")
	})
}

func TestEncode_ConcreteSequences(t *testing.T) {
	// Scenario 1 from spec §8: encode(0) -> [0,0,0]
	assert.Equal(t, Sequence{0, 0, 0}, Encode(0))

	// Scenario 2: encode(63) -> [3,3,3]
	assert.Equal(t, Sequence{3, 3, 3}, Encode(63))

	// Scenario 5: value 28 -> [1,3,0]
	assert.Equal(t, Sequence{1, 3, 0}, Encode(28))
}

func TestFromDutyByte_Quantisation(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		var b = rapid.IntRange(0, 255).Draw(t, "byte")

		var value = FromDutyByte(b)
		var recovered = ToDutyPercent(value)
		var exact = float64(b) * 100.0 / 255.0

		// Allowed error per spec §8: |recovered - exact| <= 100/(2*MaxValue)
		assert.InDelta(t, exact, recovered, 100.0/(2.0*float64(MaxValue)))
	})
}

func TestToDutyPercent_ConcreteValues(t *testing.T) {
	// Scenario 3: value=32 -> duty 50.79
	assert.InDelta(t, 50.79, ToDutyPercent(32), 0.001)

	// Scenario 4: value=9 -> duty ~14.29
	assert.InDelta(t, 14.29, ToDutyPercent(9), 0.01)

	// Scenario 5: value=28 -> duty ~44.44
	assert.InDelta(t, 44.44, ToDutyPercent(28), 0.01)
}

func TestFromDutyByte_ConcreteValues(t *testing.T) {
	// Scenario 3: M106 S128 -> round(128/255*63) = 32
	assert.Equal(t, 32, FromDutyByte(128))
}

func TestDecodeSlice_MatchesDecode(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		var value = rapid.IntRange(0, MaxValue).Draw(t, "value")
		var seq = Encode(value)

		assert.Equal(t, Decode(seq), DecodeSlice(seq[:]))
	})
}
