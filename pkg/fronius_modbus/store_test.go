package fronius_modbus

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDataStoreTypedAccess(t *testing.T) {
	assert := assert.New(t)
	store := NewDataStore()

	store.PutNumber("soc", 63.5)
	store.PutText("control_mode", "Auto")

	assert.Equal(store.NumberAt("soc").Value(), 63.5)
	assert.False(store.NumberAt("control_mode").Defined(), "text field is not a number")
	assert.False(store.NumberAt("missing").Defined())

	mode, ok := store.TextAt("control_mode")
	assert.True(ok)
	assert.Equal(mode, "Auto")
	_, ok = store.TextAt("soc")
	assert.False(ok, "number field is not text")

	store.PutNumber("soc", 64)
	assert.Equal(store.NumberAt("soc").Value(), float64(64), "overwrite in place")
	assert.Equal(store.Len(), 2)
}

func TestDataStoreSnapshotIsolation(t *testing.T) {
	assert := assert.New(t)
	store := NewDataStore()
	store.PutNumber("soc", 50)

	snap := store.Snapshot()
	store.PutNumber("soc", 60)
	store.PutText("grid_status", "On Grid")

	assert.Equal(len(snap), 1, "snapshot unaffected by later writes")
	assert.Equal(snap["soc"].Number(), float64(50))
}

func TestValueJSON(t *testing.T) {
	assert := assert.New(t)

	b, err := json.Marshal(map[string]Value{"soc": Num(63.5), "mode": Text("Auto")})
	assert.NoError(err)
	assert.JSONEq(string(b), `{"soc": 63.5, "mode": "Auto"}`)
}
