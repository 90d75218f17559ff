package fronius_modbus

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCalculateValue(t *testing.T) {
	assert := assert.New(t)

	v := CalculateValue(NumberOf(1234), NumberOf(-2), 2)
	assert.True(v.Defined())
	assert.Equal(v.Value(), 12.34, "scale factor -2")

	v = CalculateValue(NumberOf(100), NumberOf(0), 0)
	assert.True(v.Defined())
	assert.Equal(v.Value(), float64(100), "scale factor 0")

	v = CalculateValue(NumberOf(2305), NumberOf(-1), 1)
	assert.True(v.Defined())
	assert.Equal(v.Value(), 230.5, "voltage rounding")

	v = CalculateValue(NumberOf(12345), NumberOf(1), 2)
	assert.True(v.Defined())
	assert.Equal(v.Value(), float64(123450), "positive scale factor")
}

func TestCalculateValueUndefined(t *testing.T) {
	assert := assert.New(t)

	assert.False(CalculateValue(Undefined(), NumberOf(-2), 2).Defined(), "undefined raw")
	assert.False(CalculateValue(NumberOf(100), Undefined(), 2).Defined(), "undefined scale factor")
	assert.False(CalculateValue(Undefined(), Undefined(), 2).Defined(), "both undefined")
}

func TestDecodeBounds(t *testing.T) {
	assert := assert.New(t)

	regs := []uint16{100, 65436}

	assert.Equal(DecodeUint16(regs, 0).Value(), float64(100))
	assert.Equal(DecodeUint16(regs, 1).Value(), float64(65436))
	assert.Equal(DecodeInt16(regs, 1).Value(), float64(-100), "two's complement")
	assert.False(DecodeUint16(regs, 2).Defined(), "out of range")
	assert.False(DecodeInt16(regs, -1).Defined(), "negative offset")
}

func TestDecodeUint32(t *testing.T) {
	assert := assert.New(t)

	regs := []uint16{0x0001, 0x86A0}
	assert.Equal(DecodeUint32(regs, 0).Value(), float64(100000), "big endian word order")
	assert.False(DecodeUint32(regs, 1).Defined(), "needs two registers")
}

func TestDecodeString(t *testing.T) {
	assert := assert.New(t)

	// "Fronius" followed by NUL padding, two chars per register.
	regs := []uint16{0x4672, 0x6F6E, 0x6975, 0x7300}
	assert.Equal(DecodeString(regs), "Fronius")

	regs = []uint16{0x2041, 0x2000}
	assert.Equal(DecodeString(regs), "A", "whitespace trimmed")

	assert.Equal(DecodeString(nil), "", "empty block yields empty")
}

func TestBitmaskToString(t *testing.T) {
	assert := assert.New(t)

	labels := []string{"A", "B", "C"}
	assert.Equal(BitmaskToString(0b101, labels, "None", 100, 3), "A,C")
	assert.Equal(BitmaskToString(0, labels, "None", 100, 3), "None", "no bits set")
	assert.Equal(BitmaskToString(0b1000, labels, "None", 100, 4), "bit 3 undefined", "unlabeled bit")
	assert.Equal(BitmaskToString(0b111, labels, "None", 3, 3), "A,B", "truncated to max length")
}

func TestEncodeSignedPercent(t *testing.T) {
	assert := assert.New(t)

	assert.Equal(EncodeSignedPercent(100), uint16(10000))
	assert.Equal(EncodeSignedPercent(7), uint16(700))
	assert.Equal(EncodeSignedPercent(0), uint16(0))
	assert.Equal(EncodeSignedPercent(-50), uint16(60536), "negative percent wraps")
	assert.Equal(int16(EncodeSignedPercent(-50)), int16(-5000), "round trips as int16")
	assert.Equal(int16(EncodeSignedPercent(-100)), int16(-10000))
}
