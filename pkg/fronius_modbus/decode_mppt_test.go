package fronius_modbus

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func seedMPPT(link *TestRegisterLink, modules uint16, power [4]uint16) {
	regs := make([]uint16, mpptCount)
	regs[2] = 0xFFFF // DCW_SF = -1
	regs[3] = 0      // DCWH_SF
	regs[6] = modules
	for i := 0; i < 4; i++ {
		base := 19 + i*20
		regs[base] = power[i]
		regs[base+1] = 0
		regs[base+2] = uint16(1000 * (i + 1))
	}
	link.SetBlock(testInverterUnitID, mpptAddress, regs)
}

func TestReadMPPT(t *testing.T) {
	assert := assert.New(t)
	h, link := newDecoderHub()
	seedMPPT(link, 4, [4]uint16{21500, 18200, 3000, 53000})

	assert.NoError(h.readMPPT())

	store := h.Store()
	assert.Equal(store.NumberAt("mppt1_power").Value(), float64(2150))
	assert.Equal(store.NumberAt("mppt2_power").Value(), float64(1820))
	assert.Equal(store.NumberAt("mppt3_power").Value(), float64(300))
	assert.Equal(store.NumberAt("mppt4_power").Value(), float64(5300))
	assert.Equal(store.NumberAt("mppt1_lfte").Value(), float64(1000))

	assert.Equal(store.NumberAt("pv_power").Value(), float64(3970), "modules 1+2")
	assert.Equal(store.NumberAt("storage_power").Value(), float64(5000), "module 4 minus module 3")
}

func TestReadMPPTUnsupportedLayout(t *testing.T) {
	assert := assert.New(t)
	h, link := newDecoderHub()
	seedMPPT(link, 2, [4]uint16{100, 100, 0, 0})

	err := h.readMPPT()
	assert.ErrorIs(err, ErrUnsupportedMPPTLayout)
	assert.Equal(h.Store().Len(), 0, "no partial data written")
}
