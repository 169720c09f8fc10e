// Package station owns the connector and transaction state of the charge point and the operations
// that change it.
package station

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/lorenzodonini/ocpp-go/ocpp1.6/core"
)

var (
	ErrUnknownConnector = errors.New("station: unknown connector")
	ErrConnectorBusy    = errors.New("station: connector already has a transaction")
)

// Connector is a snapshot of one physical outlet.
type Connector struct {
	ID                  int
	Status              core.ChargePointStatus
	ErrorCode           core.ChargePointErrorCode
	Info                string
	NotificationPending bool
	UpdatedAt           time.Time
}

// Transaction is an accepted charging session.
type Transaction struct {
	ID           int       `json:"transaction_id"`
	ConnectorID  int       `json:"connector_id"`
	IdTag        string    `json:"id_tag"`
	MeterStartWh int       `json:"meter_start_wh"`
	StartedAt    time.Time `json:"started_at"`
	// MeterWh is the last energy reading checkpointed for the transaction. Only snapshots set it.
	MeterWh      int       `json:"meter_wh,omitempty"`
}

// Notification is a status change waiting to be reported.
type Notification struct {
	Connector Connector
	Version   uint64
}

type connectorState struct {
	Connector
	version uint64
	sent    uint64
}

func (c *connectorState) snapshot() Connector {
	s := c.Connector
	s.NotificationPending = c.version != c.sent
	return s
}

// State holds connectors and their transactions. A connector is Charging exactly when it owns a
// transaction; the only way to create or drop one is together with that status change.
type State struct {
	mu           sync.RWMutex
	connectors   map[int]*connectorState
	transactions map[int]Transaction
	changed      chan struct{}
	now          func() time.Time
}

// NewState creates connectors 1..n, all Available.
func NewState(n int) *State {
	s := &State{
		connectors:   make(map[int]*connectorState, n),
		transactions: make(map[int]Transaction),
		changed:      make(chan struct{}, 1),
		now:          time.Now,
	}
	for id := 1; id <= n; id++ {
		s.connectors[id] = &connectorState{
			Connector: Connector{
				ID:        id,
				Status:    core.ChargePointStatusAvailable,
				ErrorCode: core.NoError,
				UpdatedAt: s.now(),
			},
			version: 1,
		}
	}
	return s
}

// Changes signals whenever a notification becomes pending.
func (s *State) Changes() <-chan struct{} {
	return s.changed
}

func (s *State) signal() {
	select {
	case s.changed <- struct{}{}:
	default:
	}
}

// Connector returns one connector.
func (s *State) Connector(id int) (Connector, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.connectors[id]
	if !ok {
		return Connector{}, false
	}
	return c.snapshot(), true
}

// Connectors returns all connectors ordered by id.
func (s *State) Connectors() []Connector {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Connector, 0, len(s.connectors))
	for _, c := range s.connectors {
		out = append(out, c.snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Transaction returns the transaction on a connector.
func (s *State) Transaction(connectorID int) (Transaction, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tx, ok := s.transactions[connectorID]
	return tx, ok
}

// TransactionByID finds a transaction by its central system id.
func (s *State) TransactionByID(id int) (Transaction, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, tx := range s.transactions {
		if tx.ID == id {
			return tx, true
		}
	}
	return Transaction{}, false
}

// Transactions returns all active transactions ordered by connector.
func (s *State) Transactions() []Transaction {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Transaction, 0, len(s.transactions))
	for _, tx := range s.transactions {
		out = append(out, tx)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ConnectorID < out[j].ConnectorID })
	return out
}

// SetStatus updates a connector and arms its notification when something actually changed.
// Charging cannot be set or left this way, it follows the transaction.
func (s *State) SetStatus(id int, status core.ChargePointStatus, code core.ChargePointErrorCode, info string) bool {
	if code == "" {
		code = core.NoError
	}

	s.mu.Lock()
	c, ok := s.connectors[id]
	if !ok {
		s.mu.Unlock()
		return false
	}
	_, busy := s.transactions[id]
	if busy != (status == core.ChargePointStatusCharging) {
		s.mu.Unlock()
		return false
	}
	changed := s.setLocked(c, status, code, info)
	s.mu.Unlock()

	if changed {
		s.signal()
	}
	return changed
}

func (s *State) setLocked(c *connectorState, status core.ChargePointStatus, code core.ChargePointErrorCode, info string) bool {
	if c.Status == status && c.ErrorCode == code && c.Info == info {
		return false
	}
	c.Status = status
	c.ErrorCode = code
	c.Info = info
	c.UpdatedAt = s.now()
	c.version++
	return true
}

// begin stores tx and marks its connector Charging.
func (s *State) begin(tx Transaction) error {
	s.mu.Lock()
	c, ok := s.connectors[tx.ConnectorID]
	if !ok {
		s.mu.Unlock()
		return ErrUnknownConnector
	}
	if _, busy := s.transactions[tx.ConnectorID]; busy {
		s.mu.Unlock()
		return ErrConnectorBusy
	}
	s.transactions[tx.ConnectorID] = tx
	changed := s.setLocked(c, core.ChargePointStatusCharging, core.NoError, "")
	s.mu.Unlock()

	if changed {
		s.signal()
	}
	return nil
}

// end removes the transaction of a connector and applies the status it settles in.
func (s *State) end(connectorID int, status core.ChargePointStatus, code core.ChargePointErrorCode, info string) (Transaction, bool) {
	if code == "" {
		code = core.NoError
	}

	s.mu.Lock()
	tx, ok := s.transactions[connectorID]
	if !ok {
		s.mu.Unlock()
		return Transaction{}, false
	}
	delete(s.transactions, connectorID)
	changed := s.setLocked(s.connectors[connectorID], status, code, info)
	s.mu.Unlock()

	if changed {
		s.signal()
	}
	return tx, true
}

// PendingNotifications returns connectors whose latest status has not been reported.
func (s *State) PendingNotifications() []Notification {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Notification
	for _, c := range s.connectors {
		if c.version != c.sent {
			out = append(out, Notification{Connector: c.snapshot(), Version: c.version})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Connector.ID < out[j].Connector.ID })
	return out
}

// MarkNotified records that version was delivered. A change made in the meantime stays pending.
func (s *State) MarkNotified(id int, version uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.connectors[id]; ok && version > c.sent {
		c.sent = version
	}
}

// Renotify re-arms the notification of the given connectors, or of all when none are given.
func (s *State) Renotify(ids ...int) {
	s.mu.Lock()
	if len(ids) == 0 {
		for _, c := range s.connectors {
			c.version++
		}
	} else {
		for _, id := range ids {
			if c, ok := s.connectors[id]; ok {
				c.version++
			}
		}
	}
	s.mu.Unlock()
	s.signal()
}
