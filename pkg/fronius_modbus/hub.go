package fronius_modbus

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/reugn/go-quartz/quartz"
	"go.uber.org/zap"
)

// ErrTooManyMeters is returned at init time when more meter unit ids are
// configured than the register map supports.
var ErrTooManyMeters = errors.New("too many meters configured, max 5")

const maxMeters = 5

// HubParams configures one polling engine instance.
type HubParams struct {
	Host           string
	InverterUnitID uint8
	MeterUnitIDs   []uint8
	ScanInterval   time.Duration
}

// Hub owns the data store, the transport session and the storage
// control machine for one inverter connection. It polls the configured
// device blocks on a fixed schedule while at least one subscriber is
// registered and fans out a change notification after every cycle.
type Hub struct {
	params  HubParams
	session *Session
	store   *DataStore
	control *StorageControl
	logger  *zap.Logger

	meterConfigured   bool
	mpptConfigured    bool
	storageConfigured bool

	sched      quartz.Scheduler
	jobKey     *quartz.JobKey
	httpClient *http.Client
	subMu      sync.Mutex
	subs       map[int]func()
	nextSub    int
}

func NewHub(params HubParams, session *Session, logger *zap.Logger) *Hub {
	store := NewDataStore()
	h := &Hub{
		params:     params,
		session:    session,
		store:      store,
		control:    NewStorageControl(session, store, params.InverterUnitID, logger),
		logger:     logger,
		sched:      quartz.NewStdScheduler(),
		jobKey:     quartz.NewJobKey("poll"),
		httpClient: &http.Client{Timeout: solarAPITimeout},
		subs:       make(map[int]func()),
	}
	return h
}

func (h *Hub) Store() *DataStore {
	return h.store
}

func (h *Hub) Control() *StorageControl {
	return h.control
}

func (h *Hub) MeterConfigured() bool {
	return h.meterConfigured
}

func (h *Hub) MeterUnitIDs() []uint8 {
	return h.params.MeterUnitIDs
}

func (h *Hub) MPPTConfigured() bool {
	return h.mpptConfigured
}

func (h *Hub) StorageConfigured() bool {
	return h.storageConfigured
}

// Healthy reports whether the modbus session currently holds a live
// connection to the inverter.
func (h *Hub) Healthy() bool {
	return h.session.Connected()
}

// Start connects the transport, reads the device identities and
// capability probes, and arms the scheduler. An unreadable inverter
// identity is fatal: the hub must not become ready without it.
func (h *Hub) Start(ctx context.Context) error {
	if err := h.session.Connect(); err != nil {
		return err
	}
	if err := h.initData(ctx); err != nil {
		return err
	}
	h.sched.Start(ctx)
	return nil
}

// Stop halts the scheduler and closes the transport. In-flight
// operations are allowed to complete or fail naturally.
func (h *Hub) Stop() {
	h.sched.Stop()
	if err := h.session.Close(); err != nil {
		h.logger.Warn("error closing modbus session", zap.Error(err))
	}
}

func (h *Hub) initData(ctx context.Context) error {
	if err := h.readDeviceInfo("i_", h.params.InverterUnitID); err != nil {
		h.logger.Error("error reading inverter info",
			zap.Uint8("unit_id", h.params.InverterUnitID), zap.Error(err))
		return fmt.Errorf("inverter identity unreadable (unit id %d): %w", h.params.InverterUnitID, err)
	}

	if err := h.readMPPT(); err != nil {
		h.logger.Warn("no mppt found", zap.Error(err))
	} else {
		h.mpptConfigured = true
	}

	if len(h.params.MeterUnitIDs) > maxMeters {
		h.logger.Error("too many meters configured", zap.Int("count", len(h.params.MeterUnitIDs)))
		return ErrTooManyMeters
	}
	h.meterConfigured = len(h.params.MeterUnitIDs) > 0
	for i, unitID := range h.params.MeterUnitIDs {
		prefix := fmt.Sprintf("m%d_", i+1)
		if err := h.readDeviceInfo(prefix, unitID); err != nil {
			h.logger.Info("error reading meter info", zap.Uint8("unit_id", unitID), zap.Error(err))
		}
	}

	if err := h.readNameplate(); err != nil {
		h.logger.Error("error reading nameplate data", zap.Error(err))
	}

	if h.storageConfigured {
		h.fetchStorageDetails(ctx)
	}

	h.logger.Debug("init done", zap.Int("fields", h.store.Len()))
	return nil
}

func (h *Hub) fetchStorageDetails(ctx context.Context) {
	details, err := FetchStorageDetails(ctx, h.httpClient, h.params.Host, h.logger)
	if err != nil {
		h.logger.Error("storage metadata unavailable", zap.Error(err))
		return
	}
	h.store.PutText("s_manufacturer", details.Manufacturer)
	h.store.PutText("s_model", details.Model)
	h.store.PutText("s_serial", details.Serial)
}

// Subscribe registers a change notification callback. The first
// subscriber starts the polling job; the returned function removes the
// subscription and, for the last subscriber, stops polling and releases
// the connection.
func (h *Hub) Subscribe(fn func()) (unsubscribe func(), err error) {
	h.subMu.Lock()
	defer h.subMu.Unlock()

	if len(h.subs) == 0 {
		job := quartz.NewJobDetail(&pollJob{hub: h}, h.jobKey)
		if err := h.sched.ScheduleJob(job, quartz.NewSimpleTrigger(h.params.ScanInterval)); err != nil {
			return nil, err
		}
	}
	id := h.nextSub
	h.nextSub++
	h.subs[id] = fn

	return func() { h.removeSubscriber(id) }, nil
}

func (h *Hub) removeSubscriber(id int) {
	h.subMu.Lock()
	defer h.subMu.Unlock()

	delete(h.subs, id)
	if len(h.subs) > 0 {
		return
	}
	if err := h.sched.DeleteJob(h.jobKey); err != nil {
		h.logger.Debug("polling job already removed", zap.Error(err))
	}
	if err := h.session.Close(); err != nil {
		h.logger.Warn("error closing modbus session", zap.Error(err))
	}
}

func (h *Hub) subscriberCount() int {
	h.subMu.Lock()
	defer h.subMu.Unlock()
	return len(h.subs)
}

func (h *Hub) notifySubscribers() {
	h.subMu.Lock()
	fns := make([]func(), 0, len(h.subs))
	for _, fn := range h.subs {
		fns = append(fns, fn)
	}
	h.subMu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// RefreshOnce runs one polling cycle: reconnect if needed, run every
// configured decoder in fixed order with per-decoder failure isolation,
// then notify all subscribers exactly once. A cycle with only partial
// success still publishes the latest state.
func (h *Hub) RefreshOnce() {
	if h.subscriberCount() == 0 {
		return
	}
	if err := h.session.Connect(); err != nil {
		h.logger.Warn("skipping cycle, not connected", zap.Error(err))
		return
	}

	h.runDecoder("inverter", h.readInverterTelemetry)
	h.runDecoder("inverter status", h.readInverterStatus)
	h.runDecoder("inverter model settings", h.readInverterSettings)
	h.runDecoder("inverter controls", h.readInverterControls)
	if h.meterConfigured {
		for i, unitID := range h.params.MeterUnitIDs {
			prefix := fmt.Sprintf("m%d_", i+1)
			h.runDecoder("meter "+prefix, func() error {
				return h.readMeter(prefix, unitID)
			})
		}
	}
	if h.mpptConfigured {
		h.runDecoder("mppt", h.readMPPT)
	}
	if h.storageConfigured {
		h.runDecoder("storage", h.readStorage)
	}

	h.notifySubscribers()
}

// runDecoder isolates one decoder: an error or panic is logged and must
// not prevent the remaining decoders from running in the same cycle.
func (h *Hub) runDecoder(name string, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("decoder panic", zap.String("decoder", name), zap.Any("panic", r))
		}
	}()
	if err := fn(); err != nil {
		h.logger.Error("error reading "+name+" data", zap.Error(err))
	}
}

// calc stores a scaled measurement, leaving the field untouched and
// logging at debug when either operand is unreadable.
func (h *Hub) calc(key string, raw, sf Number, digits int) {
	v := CalculateValue(raw, sf, digits)
	if !v.Defined() {
		h.logger.Debug("cannot calculate non numeric value", zap.String("field", key))
		return
	}
	h.store.PutNumber(key, v.Value())
}

type pollJob struct {
	hub *Hub
}

func (j *pollJob) Execute(_ context.Context) error {
	j.hub.RefreshOnce()
	return nil
}

func (j *pollJob) Description() string {
	return "fronius modbus poll cycle"
}
