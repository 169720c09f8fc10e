// Package redisstore keeps active transactions in redis so they survive a process restart.
package redisstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"

	"chargepoint/internal/station"
)

// TransactionStore holds one JSON snapshot per connector in a hash.
type TransactionStore struct {
	client redis.Cmdable
	key    string
}

// NewTransactionStore returns a store scoped to chargePointID.
func NewTransactionStore(client redis.Cmdable, chargePointID string) *TransactionStore {
	return &TransactionStore{client: client, key: fmt.Sprintf("chargepoint:%s:transactions", chargePointID)}
}

var _ station.TransactionStore = (*TransactionStore)(nil)

// Save replaces the snapshot of tx.ConnectorID.
func (s *TransactionStore) Save(ctx context.Context, tx station.Transaction) error {
	data, err := json.Marshal(tx)
	if err != nil {
		return err
	}
	return s.client.HSet(ctx, s.key, strconv.Itoa(tx.ConnectorID), data).Err()
}

type meterMark struct {
	TransactionID int `json:"transaction_id"`
	MeterWh       int `json:"meter_wh"`
}

func meterField(connectorID int) string { return strconv.Itoa(connectorID) + meterSuffix }

const meterSuffix = ":meter"

// SaveMeter records the energy delivered so far next to the snapshot of tx.ConnectorID.
func (s *TransactionStore) SaveMeter(ctx context.Context, tx station.Transaction, meterWh int) error {
	data, err := json.Marshal(meterMark{TransactionID: tx.ID, MeterWh: meterWh})
	if err != nil {
		return err
	}
	return s.client.HSet(ctx, s.key, meterField(tx.ConnectorID), data).Err()
}

// Delete drops the snapshot and meter checkpoint of connectorID.
func (s *TransactionStore) Delete(ctx context.Context, connectorID int) error {
	return s.client.HDel(ctx, s.key, strconv.Itoa(connectorID), meterField(connectorID)).Err()
}

// Load returns every snapshot ordered by connector.
func (s *TransactionStore) Load(ctx context.Context) ([]station.Transaction, error) {
	values, err := s.client.HGetAll(ctx, s.key).Result()
	if err != nil {
		return nil, err
	}
	return decodeSnapshots(values), nil
}

// decodeSnapshots skips entries that do not decode and applies a meter checkpoint only when it
// belongs to the snapshot's transaction.
func decodeSnapshots(values map[string]string) []station.Transaction {
	marks := make(map[int]meterMark)
	txs := make([]station.Transaction, 0, len(values))
	for field, raw := range values {
		if id, ok := strings.CutSuffix(field, meterSuffix); ok {
			var mark meterMark
			connectorID, err := strconv.Atoi(id)
			if err != nil || json.Unmarshal([]byte(raw), &mark) != nil {
				continue
			}
			marks[connectorID] = mark
			continue
		}

		var tx station.Transaction
		if err := json.Unmarshal([]byte(raw), &tx); err != nil {
			continue
		}
		if id, err := strconv.Atoi(field); err == nil {
			tx.ConnectorID = id
		}
		txs = append(txs, tx)
	}
	for i := range txs {
		if mark, ok := marks[txs[i].ConnectorID]; ok && mark.TransactionID == txs[i].ID {
			txs[i].MeterWh = mark.MeterWh
		}
	}
	sort.Slice(txs, func(i, j int) bool { return txs[i].ConnectorID < txs[j].ConnectorID })
	return txs
}
