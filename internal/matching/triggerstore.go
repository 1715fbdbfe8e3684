package matching

import (
	"encoding/json"
	"fmt"

	"github.com/dgraph-io/badger/v3"
	"github.com/google/uuid"

	"github.com/orbitcex/exchange-core/internal/money"
	"github.com/orbitcex/exchange-core/internal/orderbook"
	"github.com/orbitcex/exchange-core/pkg/errors"
)

// TriggerStore durably parks trigger orders in badger so a parked
// Stop/StopLimit/TakeProfit/TakeProfitLimit/TrailingStop order survives
// a process restart; the in-memory TriggerTable alone would lose every
// parked order on crash. Keyed by symbol+order id, mirroring the
// teacher's orderqueue/badger_queue.go pattern (DefaultOptions store,
// JSON-encoded values, one key per item).
type TriggerStore struct {
	db *badger.DB
}

// OpenTriggerStore opens (or creates) a badger store at path.
func OpenTriggerStore(path string) (*TriggerStore, error) {
	db, err := badger.Open(badger.DefaultOptions(path))
	if err != nil {
		return nil, errors.Wrap(errors.KindValidationFailed, err, "open trigger store at %s", path)
	}
	return &TriggerStore{db: db}, nil
}

func (s *TriggerStore) Close() error { return s.db.Close() }

type triggerRecord struct {
	OrderID        uuid.UUID
	Symbol         string
	UserID         uuid.UUID
	Side           orderbook.Side
	Type           OrderType
	PriceMinor     string
	PriceAsset     string
	PriceScale     int
	QtyMinor       string
	QtyAsset       string
	QtyScale       int
	TriggerMinor   string
	TriggerAsset   string
	TriggerScale   int
	TriggerType    TriggerType
	TrailingMinor  string
	TrailingAsset  string
	TrailingScale  int
	TimeInForce    orderbook.TimeInForce
	PostOnly       bool
	ReduceOnly     bool
}

func encodeMoney(m money.Money) (minor, asset string, scale int) {
	if m.Asset().Symbol == "" {
		return "", "", 0
	}
	return m.MinorUnits().String(), m.Asset().Symbol, m.Asset().Scale
}

func decodeMoney(minor, asset string, scale int) money.Money {
	if asset == "" {
		return money.Money{}
	}
	a := money.Asset{Symbol: asset, Scale: scale}
	m, err := money.ParseMinorUnits(a, minor)
	if err != nil {
		return money.Zero(a)
	}
	return m
}

func key(symbol string, orderID uuid.UUID) []byte {
	return []byte(fmt.Sprintf("trigger:%s:%s", symbol, orderID))
}

// Persist writes (or overwrites) a parked trigger order's record.
func (s *TriggerStore) Persist(orderID uuid.UUID, req PlaceOrderRequest) error {
	rec := triggerRecord{OrderID: orderID, Symbol: req.Symbol, UserID: req.UserID, Side: req.Side, Type: req.Type,
		TriggerType: req.TriggerType, TimeInForce: req.TimeInForce, PostOnly: req.PostOnly, ReduceOnly: req.ReduceOnly}
	rec.PriceMinor, rec.PriceAsset, rec.PriceScale = encodeMoney(req.Price)
	rec.QtyMinor, rec.QtyAsset, rec.QtyScale = encodeMoney(req.Quantity)
	rec.TriggerMinor, rec.TriggerAsset, rec.TriggerScale = encodeMoney(req.TriggerPrice)
	rec.TrailingMinor, rec.TrailingAsset, rec.TrailingScale = encodeMoney(req.TrailingOffset)

	data, err := json.Marshal(rec)
	if err != nil {
		return errors.Wrap(errors.KindValidationFailed, err, "encode trigger record")
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key(req.Symbol, orderID), data)
	})
}

// Remove deletes a parked order's record, e.g. on cancel or fire.
func (s *TriggerStore) Remove(symbol string, orderID uuid.UUID) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key(symbol, orderID))
	})
}

// ReplayAll reconstructs every parked trigger order for symbol from
// durable storage, for use at startup before any new orders are
// accepted.
func (s *TriggerStore) ReplayAll(symbol string) ([]struct {
	OrderID uuid.UUID
	Request PlaceOrderRequest
}, error) {
	prefix := []byte(fmt.Sprintf("trigger:%s:", symbol))
	var out []struct {
		OrderID uuid.UUID
		Request PlaceOrderRequest
	}
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			err := item.Value(func(val []byte) error {
				var rec triggerRecord
				if err := json.Unmarshal(val, &rec); err != nil {
					return err
				}
				req := PlaceOrderRequest{
					UserID:         rec.UserID,
					Symbol:         rec.Symbol,
					Side:           rec.Side,
					Type:           rec.Type,
					Price:          decodeMoney(rec.PriceMinor, rec.PriceAsset, rec.PriceScale),
					Quantity:       decodeMoney(rec.QtyMinor, rec.QtyAsset, rec.QtyScale),
					TimeInForce:    rec.TimeInForce,
					PostOnly:       rec.PostOnly,
					ReduceOnly:     rec.ReduceOnly,
					TriggerPrice:   decodeMoney(rec.TriggerMinor, rec.TriggerAsset, rec.TriggerScale),
					TriggerType:    rec.TriggerType,
					TrailingOffset: decodeMoney(rec.TrailingMinor, rec.TrailingAsset, rec.TrailingScale),
				}
				out = append(out, struct {
					OrderID uuid.UUID
					Request PlaceOrderRequest
				}{OrderID: rec.OrderID, Request: req})
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(errors.KindValidationFailed, err, "replay trigger store for %s", symbol)
	}
	return out, nil
}
