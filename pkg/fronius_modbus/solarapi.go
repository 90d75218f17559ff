package fronius_modbus

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
)

const storageRealtimePath = "/solar_api/v1/GetStorageRealtimeData.cgi"

// solarAPITimeout bounds the one-shot metadata fetch at startup so an
// unreachable host cannot stall hub initialization.
const solarAPITimeout = 10 * time.Second

// StorageDetails is the battery identity reported by the inverter's
// Solar API. The Modbus register map does not expose it.
type StorageDetails struct {
	Manufacturer string
	Model        string
	Serial       string
}

type storageRealtimeResponse struct {
	Body struct {
		Data map[string]struct {
			Controller struct {
				Details struct {
					Manufacturer string `json:"Manufacturer"`
					Model        string `json:"Model"`
					// Some firmware versions report the serial as a number.
					Serial any `json:"Serial"`
				} `json:"Details"`
			} `json:"Controller"`
		} `json:"Data"`
	} `json:"Body"`
}

// FetchStorageDetails queries the Solar API endpoint on the inverter
// host for the identity of the first attached storage controller.
func FetchStorageDetails(ctx context.Context, client *http.Client, host string, logger *zap.Logger) (StorageDetails, error) {
	url := "http://" + host + storageRealtimePath
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return StorageDetails{}, err
	}

	resp, err := client.Do(req)
	if err != nil {
		return StorageDetails{}, fmt.Errorf("storage realtime request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return StorageDetails{}, fmt.Errorf("storage realtime request: unexpected status %d", resp.StatusCode)
	}

	var payload storageRealtimeResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return StorageDetails{}, fmt.Errorf("storage realtime response: %w", err)
	}

	ids := make([]string, 0, len(payload.Body.Data))
	for id := range payload.Body.Data {
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return StorageDetails{}, fmt.Errorf("storage realtime response: no storage controllers reported")
	}
	sort.Strings(ids)
	if len(ids) > 1 {
		logger.Debug("multiple storage controllers reported, using first",
			zap.Strings("ids", ids))
	}

	details := payload.Body.Data[ids[0]].Controller.Details
	if details.Serial == nil {
		details.Serial = ""
	}
	return StorageDetails{
		Manufacturer: strings.TrimSpace(details.Manufacturer),
		Model:        strings.TrimSpace(details.Model),
		Serial:       strings.TrimSpace(fmt.Sprintf("%v", details.Serial)),
	}, nil
}
