package csms

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/lorenzodonini/ocpp-go/ocpp1.6/core"
	"github.com/lorenzodonini/ocpp-go/ocpp1.6/firmware"
)

var ErrUnknownTransaction = errors.New("csms: unknown transaction")

// ConnectorStatus is the last StatusNotification seen for a connector.
type ConnectorStatus struct {
	Status    core.ChargePointStatus    `json:"status"`
	ErrorCode core.ChargePointErrorCode `json:"error_code"`
	Info      string                    `json:"info,omitempty"`
	Timestamp time.Time                 `json:"timestamp"`
	UpdatedAt time.Time                 `json:"updated_at"`
}

// Transaction is a transaction the central system handed out.
type Transaction struct {
	ID           int         `json:"id"`
	StationID    string      `json:"station_id"`
	ConnectorID  int         `json:"connector_id"`
	IdTag        string      `json:"id_tag"`
	MeterStartWh int         `json:"meter_start_wh"`
	MeterNowWh   int         `json:"meter_now_wh"`
	MeterStopWh  *int        `json:"meter_stop_wh,omitempty"`
	Reason       core.Reason `json:"reason,omitempty"`
	StartedAt    time.Time   `json:"started_at"`
	StoppedAt    *time.Time  `json:"stopped_at,omitempty"`
}

// Active reports whether the transaction is still open.
func (t Transaction) Active() bool { return t.StoppedAt == nil }

// StationSnapshot is a copy of what the registry knows about one charge point.
type StationSnapshot struct {
	StationID       string                  `json:"station_id"`
	Vendor          string                  `json:"vendor"`
	Model           string                  `json:"model"`
	FirmwareVersion string                  `json:"firmware_version,omitempty"`
	FirmwareStatus  firmware.FirmwareStatus `json:"firmware_status,omitempty"`
	LastHeartbeat   time.Time               `json:"last_heartbeat"`
	Connectors      map[int]ConnectorStatus `json:"connectors"`
}

type stationState struct {
	StationSnapshot
}

func (s *stationState) snapshot() StationSnapshot {
	out := s.StationSnapshot
	out.Connectors = make(map[int]ConnectorStatus, len(s.Connectors))
	for id, c := range s.Connectors {
		out.Connectors[id] = c
	}
	return out
}

// Registry keeps the state of every charge point that talked to the central system.
type Registry struct {
	mu           sync.RWMutex
	stations     map[string]*stationState
	transactions map[int]*Transaction
	nextTx       int
}

func NewRegistry() *Registry {
	return &Registry{
		stations:     make(map[string]*stationState),
		transactions: make(map[int]*Transaction),
		nextTx:       1,
	}
}

func (r *Registry) station(id string) *stationState {
	s, ok := r.stations[id]
	if !ok {
		s = &stationState{StationSnapshot{StationID: id, Connectors: make(map[int]ConnectorStatus)}}
		r.stations[id] = s
	}
	return s
}

// Boot records the identity a charge point reported.
func (r *Registry) Boot(stationID, vendor, model, firmwareVersion string, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.station(stationID)
	s.Vendor = vendor
	s.Model = model
	s.FirmwareVersion = firmwareVersion
	s.LastHeartbeat = at
}

// Heartbeat moves the last heartbeat of a charge point.
func (r *Registry) Heartbeat(stationID string, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.station(stationID).LastHeartbeat = at
}

// UpdateStatus stores a connector status. Connector 0 is the charge point itself.
func (r *Registry) UpdateStatus(stationID string, connectorID int, status ConnectorStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.station(stationID).Connectors[connectorID] = status
}

// UpdateFirmware stores the last firmware status reported.
func (r *Registry) UpdateFirmware(stationID string, status firmware.FirmwareStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.station(stationID).FirmwareStatus = status
}

// Start opens a transaction and returns it with a fresh id.
func (r *Registry) Start(stationID string, connectorID int, idTag string, meterStartWh int, at time.Time) Transaction {
	r.mu.Lock()
	defer r.mu.Unlock()
	tx := &Transaction{
		ID:           r.nextTx,
		StationID:    stationID,
		ConnectorID:  connectorID,
		IdTag:        idTag,
		MeterStartWh: meterStartWh,
		MeterNowWh:   meterStartWh,
		StartedAt:    at,
	}
	r.nextTx++
	r.transactions[tx.ID] = tx
	return *tx
}

// Meter records the latest energy register of an open transaction.
func (r *Registry) Meter(transactionID, meterWh int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	tx, ok := r.transactions[transactionID]
	if !ok || !tx.Active() {
		return ErrUnknownTransaction
	}
	tx.MeterNowWh = meterWh
	return nil
}

// Stop closes a transaction. Stopping a closed transaction again is an error.
func (r *Registry) Stop(transactionID, meterStopWh int, reason core.Reason, at time.Time) (Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tx, ok := r.transactions[transactionID]
	if !ok || !tx.Active() {
		return Transaction{}, ErrUnknownTransaction
	}
	stop := meterStopWh
	tx.MeterNowWh = meterStopWh
	tx.MeterStopWh = &stop
	tx.Reason = reason
	tx.StoppedAt = &at
	return *tx, nil
}

// Snapshot returns the state of one charge point.
func (r *Registry) Snapshot(stationID string) (StationSnapshot, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.stations[stationID]
	if !ok {
		return StationSnapshot{}, false
	}
	return s.snapshot(), true
}

// Transaction returns one transaction by id.
func (r *Registry) Transaction(id int) (Transaction, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tx, ok := r.transactions[id]
	if !ok {
		return Transaction{}, false
	}
	return *tx, true
}

// Transactions lists the transactions of a charge point ordered by id.
func (r *Registry) Transactions(stationID string) []Transaction {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Transaction
	for _, tx := range r.transactions {
		if tx.StationID == stationID {
			out = append(out, *tx)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
