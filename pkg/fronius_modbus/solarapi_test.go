package fronius_modbus

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestFetchStorageDetails(t *testing.T) {
	assert := assert.New(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(r.URL.Path, storageRealtimePath)
		w.Write([]byte(`{
			"Body": {
				"Data": {
					"0": {
						"Controller": {
							"Details": {
								"Manufacturer": "BYD",
								"Model": " BYD Battery-Box Premium HV ",
								"Serial": "P030T020Z2001234567  "
							}
						}
					}
				}
			}
		}`))
	}))
	defer srv.Close()

	host := strings.TrimPrefix(srv.URL, "http://")
	details, err := FetchStorageDetails(context.Background(), srv.Client(), host, zap.NewNop())
	assert.NoError(err)
	assert.Equal(details.Manufacturer, "BYD")
	assert.Equal(details.Model, "BYD Battery-Box Premium HV")
	assert.Equal(details.Serial, "P030T020Z2001234567")
}

func TestFetchStorageDetailsNumericSerial(t *testing.T) {
	assert := assert.New(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{
			"Body": {
				"Data": {
					"1": {"Controller": {"Details": {"Manufacturer": "Fronius", "Model": "Solar Battery", "Serial": 12345}}},
					"0": {"Controller": {"Details": {"Manufacturer": "BYD", "Model": "Battery-Box", "Serial": "X1"}}}
				}
			}
		}`))
	}))
	defer srv.Close()

	host := strings.TrimPrefix(srv.URL, "http://")
	details, err := FetchStorageDetails(context.Background(), srv.Client(), host, zap.NewNop())
	assert.NoError(err)
	assert.Equal(details.Manufacturer, "BYD", "lowest controller id wins")
	assert.Equal(details.Serial, "X1")
}

func TestFetchStorageDetailsStalledHost(t *testing.T) {
	assert := assert.New(t)

	hold := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-hold
	}))
	defer srv.Close()
	defer close(hold)

	host := strings.TrimPrefix(srv.URL, "http://")
	client := &http.Client{Timeout: 50 * time.Millisecond}
	_, err := FetchStorageDetails(context.Background(), client, host, zap.NewNop())
	assert.Error(err, "fetch is bounded by the client timeout")
}

func TestFetchStorageDetailsErrors(t *testing.T) {
	assert := assert.New(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"Body": {"Data": {}}}`))
	}))
	defer srv.Close()

	host := strings.TrimPrefix(srv.URL, "http://")
	_, err := FetchStorageDetails(context.Background(), srv.Client(), host, zap.NewNop())
	assert.Error(err, "no controllers reported")

	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer down.Close()

	host = strings.TrimPrefix(down.URL, "http://")
	_, err = FetchStorageDetails(context.Background(), down.Client(), host, zap.NewNop())
	assert.Error(err, "non-200 status")
}
