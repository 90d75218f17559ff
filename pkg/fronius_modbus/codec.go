package fronius_modbus

import (
	"fmt"
	"math"
	"strings"
)

// Number is a decoded register quantity. A Number is undefined when the
// source registers could not be read, or when a scale factor needed to
// compute it was itself unreadable. Undefined propagates through
// CalculateValue instead of collapsing to zero.
type Number struct {
	value   float64
	defined bool
}

func NumberOf(v float64) Number {
	return Number{value: v, defined: true}
}

func Undefined() Number {
	return Number{}
}

func (n Number) Defined() bool {
	return n.defined
}

func (n Number) Value() float64 {
	return n.value
}

// CalculateValue applies a decimal scale factor: round(raw * 10^sf, digits).
// If either operand is undefined the result is undefined, never zero.
func CalculateValue(raw Number, sf Number, digits int) Number {
	if !raw.defined || !sf.defined {
		return Undefined()
	}
	v := raw.value * math.Pow(10, sf.value)
	p := math.Pow(10, float64(digits))
	return NumberOf(math.Round(v*p) / p)
}

// DecodeUint16 reads a single register as an unsigned 16-bit integer.
// Out-of-range offsets yield undefined rather than a panic, so a short
// block read degrades to missing fields only.
func DecodeUint16(regs []uint16, offset int) Number {
	if offset < 0 || offset >= len(regs) {
		return Undefined()
	}
	return NumberOf(float64(regs[offset]))
}

// DecodeInt16 reads a single register as a signed 16-bit integer.
func DecodeInt16(regs []uint16, offset int) Number {
	if offset < 0 || offset >= len(regs) {
		return Undefined()
	}
	return NumberOf(float64(int16(regs[offset])))
}

// DecodeUint32 reads two registers as a big-endian unsigned 32-bit integer.
func DecodeUint32(regs []uint16, offset int) Number {
	if offset < 0 || offset+1 >= len(regs) {
		return Undefined()
	}
	return NumberOf(float64(uint32(regs[offset])<<16 | uint32(regs[offset+1])))
}

// DecodeString reads registers as packed ASCII (two chars per word),
// strips control characters and trims surrounding whitespace.
func DecodeString(regs []uint16) string {
	b := make([]byte, 0, len(regs)*2)
	for _, r := range regs {
		b = append(b, byte(r>>8), byte(r))
	}
	out := make([]byte, 0, len(b))
	for _, c := range b {
		if c > 31 {
			out = append(out, c)
		}
	}
	return strings.TrimSpace(string(out))
}

// BitmaskToString renders the labels of all set bits as a comma-joined
// string, truncated to maxLength. Bits beyond the label list render as
// placeholders. When no bit is set the supplied default is returned.
func BitmaskToString(mask uint32, labels []string, def string, maxLength int, bits int) string {
	var parts []string
	for bit := 0; bit < bits; bit++ {
		if mask&(1<<uint(bit)) == 0 {
			continue
		}
		if bit < len(labels) {
			parts = append(parts, labels[bit])
		} else {
			parts = append(parts, fmt.Sprintf("bit %d undefined", bit))
		}
	}
	if len(parts) == 0 {
		return def
	}
	joined := strings.Join(parts, ",")
	if len(joined) > maxLength {
		return joined[:maxLength]
	}
	return joined
}

// EncodeSignedPercent converts a ±100% rate to the hundredths-of-percent
// register representation. Negative rates are encoded as unsigned 16-bit
// two's complement (65536 + pct*100).
func EncodeSignedPercent(pct float64) uint16 {
	if pct < 0 {
		return uint16(int32(65536) + int32(pct*100))
	}
	return uint16(math.Round(pct * 100))
}
