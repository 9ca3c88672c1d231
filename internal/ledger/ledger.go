package ledger

import (
	"sort"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/meridianex/exchange-core/internal/types"
)

// Service owns broker cash and security balances. Every operation on one
// (broker, asset) pair runs under that pair's mutex and inside a single
// database transaction, so reserve/release/transfer on the same row are
// linearizable even when triggered from different instruments' matching
// paths concurrently.
type Service struct {
	db *Database

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewService(gormDB *gorm.DB) *Service {
	return &Service{
		db:    NewDatabase(gormDB),
		locks: make(map[string]*sync.Mutex),
	}
}

func (s *Service) lockFor(key string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[key]
	if !ok {
		l = &sync.Mutex{}
		s.locks[key] = l
	}
	return l
}

// lockAll acquires the mutexes for the given keys in sorted order so two
// transfers touching the same pair of rows can never deadlock.
func (s *Service) lockAll(keys ...string) func() {
	sorted := append([]string(nil), keys...)
	sort.Strings(sorted)
	acquired := make([]*sync.Mutex, 0, len(sorted))
	for i, k := range sorted {
		if i > 0 && sorted[i-1] == k {
			continue
		}
		l := s.lockFor(k)
		l.Lock()
		acquired = append(acquired, l)
	}
	return func() {
		for i := len(acquired) - 1; i >= 0; i-- {
			acquired[i].Unlock()
		}
	}
}

func cashKey(brokerID, currency string) string {
	return "cash/" + brokerID + "/" + currency
}

func securityKey(brokerID, symbol string) string {
	return "sec/" + brokerID + "/" + symbol
}

// Deposit credits a broker's cash balance. It is the balance-affecting
// event that creates the position row lazily.
func (s *Service) Deposit(brokerID, currency string, amount decimal.Decimal) error {
	unlock := s.lockAll(cashKey(brokerID, currency))
	defer unlock()

	return s.db.DB().Transaction(func(tx *gorm.DB) error {
		pos, err := s.db.getOrCreateCash(tx, brokerID, currency)
		if err != nil {
			return err
		}
		pos.TotalBalance = pos.TotalBalance.Add(amount)
		return tx.Save(pos).Error
	})
}

// DepositSecurities credits a broker's holding in an instrument.
func (s *Service) DepositSecurities(brokerID, symbol string, quantity decimal.Decimal) error {
	unlock := s.lockAll(securityKey(brokerID, symbol))
	defer unlock()

	return s.db.DB().Transaction(func(tx *gorm.DB) error {
		pos, err := s.db.getOrCreateSecurity(tx, brokerID, symbol)
		if err != nil {
			return err
		}
		pos.TotalQuantity = pos.TotalQuantity.Add(quantity)
		return tx.Save(pos).Error
	})
}

// ReserveCash moves amount from available to locked without changing the
// total. Returns ErrInsufficientFunds when available < amount.
func (s *Service) ReserveCash(brokerID, currency string, amount decimal.Decimal) error {
	unlock := s.lockAll(cashKey(brokerID, currency))
	defer unlock()

	return s.db.DB().Transaction(func(tx *gorm.DB) error {
		pos, err := s.db.getOrCreateCash(tx, brokerID, currency)
		if err != nil {
			return err
		}
		if pos.Available().LessThan(amount) {
			return types.ErrInsufficientFunds
		}
		pos.LockedBalance = pos.LockedBalance.Add(amount)
		return tx.Save(pos).Error
	})
}

// ReleaseCash reverses a reservation, moving amount from locked back to
// available. The release is clamped to the locked balance so a release
// can never drive locked negative.
func (s *Service) ReleaseCash(brokerID, currency string, amount decimal.Decimal) error {
	unlock := s.lockAll(cashKey(brokerID, currency))
	defer unlock()

	return s.db.DB().Transaction(func(tx *gorm.DB) error {
		pos, err := s.db.getOrCreateCash(tx, brokerID, currency)
		if err != nil {
			return err
		}
		release := amount
		if pos.LockedBalance.LessThan(release) {
			log.Warn().
				Str("broker_id", brokerID).
				Str("currency", currency).
				Str("requested", amount.String()).
				Str("locked", pos.LockedBalance.String()).
				Msg("cash release clamped to locked balance")
			release = pos.LockedBalance
		}
		pos.LockedBalance = pos.LockedBalance.Sub(release)
		return tx.Save(pos).Error
	})
}

// ReserveSecurities moves quantity from available to locked. Returns
// ErrInsufficientSecurities when available < quantity.
func (s *Service) ReserveSecurities(brokerID, symbol string, quantity decimal.Decimal) error {
	unlock := s.lockAll(securityKey(brokerID, symbol))
	defer unlock()

	return s.db.DB().Transaction(func(tx *gorm.DB) error {
		pos, err := s.db.getOrCreateSecurity(tx, brokerID, symbol)
		if err != nil {
			return err
		}
		if pos.Available().LessThan(quantity) {
			return types.ErrInsufficientSecurities
		}
		pos.LockedQuantity = pos.LockedQuantity.Add(quantity)
		return tx.Save(pos).Error
	})
}

// ReleaseSecurities reverses a security reservation, clamped to the
// locked quantity.
func (s *Service) ReleaseSecurities(brokerID, symbol string, quantity decimal.Decimal) error {
	unlock := s.lockAll(securityKey(brokerID, symbol))
	defer unlock()

	return s.db.DB().Transaction(func(tx *gorm.DB) error {
		pos, err := s.db.getOrCreateSecurity(tx, brokerID, symbol)
		if err != nil {
			return err
		}
		release := quantity
		if pos.LockedQuantity.LessThan(release) {
			log.Warn().
				Str("broker_id", brokerID).
				Str("symbol", symbol).
				Str("requested", quantity.String()).
				Str("locked", pos.LockedQuantity.String()).
				Msg("security release clamped to locked quantity")
			release = pos.LockedQuantity
		}
		pos.LockedQuantity = pos.LockedQuantity.Sub(release)
		return tx.Save(pos).Error
	})
}

// TransferCash atomically consumes amount from the source broker's
// locked+total pair and credits the destination broker's total. Only
// already-locked amounts may be transferred.
func (s *Service) TransferCash(fromBroker, toBroker, currency string, amount decimal.Decimal) error {
	unlock := s.lockAll(cashKey(fromBroker, currency), cashKey(toBroker, currency))
	defer unlock()

	return s.db.DB().Transaction(func(tx *gorm.DB) error {
		from, err := s.db.getOrCreateCash(tx, fromBroker, currency)
		if err != nil {
			return err
		}
		if from.LockedBalance.LessThan(amount) {
			return types.ErrInsufficientFunds
		}
		to, err := s.db.getOrCreateCash(tx, toBroker, currency)
		if err != nil {
			return err
		}
		from.TotalBalance = from.TotalBalance.Sub(amount)
		from.LockedBalance = from.LockedBalance.Sub(amount)
		to.TotalBalance = to.TotalBalance.Add(amount)
		if err := tx.Save(from).Error; err != nil {
			return err
		}
		return tx.Save(to).Error
	})
}

// TransferSecurities atomically consumes quantity from the source
// broker's locked holding and credits the destination broker's total.
func (s *Service) TransferSecurities(fromBroker, toBroker, symbol string, quantity decimal.Decimal) error {
	unlock := s.lockAll(securityKey(fromBroker, symbol), securityKey(toBroker, symbol))
	defer unlock()

	return s.db.DB().Transaction(func(tx *gorm.DB) error {
		from, err := s.db.getOrCreateSecurity(tx, fromBroker, symbol)
		if err != nil {
			return err
		}
		if from.LockedQuantity.LessThan(quantity) {
			return types.ErrInsufficientSecurities
		}
		to, err := s.db.getOrCreateSecurity(tx, toBroker, symbol)
		if err != nil {
			return err
		}
		from.TotalQuantity = from.TotalQuantity.Sub(quantity)
		from.LockedQuantity = from.LockedQuantity.Sub(quantity)
		to.TotalQuantity = to.TotalQuantity.Add(quantity)
		if err := tx.Save(from).Error; err != nil {
			return err
		}
		return tx.Save(to).Error
	})
}

// ReverseCashTransfer undoes a provisional transfer after a settlement
// failure: the amount moves back from the recipient's total to the
// original payer's total, unlocked on both sides.
func (s *Service) ReverseCashTransfer(originalFrom, originalTo, currency string, amount decimal.Decimal) error {
	unlock := s.lockAll(cashKey(originalFrom, currency), cashKey(originalTo, currency))
	defer unlock()

	return s.db.DB().Transaction(func(tx *gorm.DB) error {
		to, err := s.db.getOrCreateCash(tx, originalTo, currency)
		if err != nil {
			return err
		}
		if to.Available().LessThan(amount) {
			return types.ErrInsufficientFunds
		}
		from, err := s.db.getOrCreateCash(tx, originalFrom, currency)
		if err != nil {
			return err
		}
		to.TotalBalance = to.TotalBalance.Sub(amount)
		from.TotalBalance = from.TotalBalance.Add(amount)
		if err := tx.Save(to).Error; err != nil {
			return err
		}
		return tx.Save(from).Error
	})
}

// ReverseSecuritiesTransfer undoes a provisional security transfer after
// a settlement failure.
func (s *Service) ReverseSecuritiesTransfer(originalFrom, originalTo, symbol string, quantity decimal.Decimal) error {
	unlock := s.lockAll(securityKey(originalFrom, symbol), securityKey(originalTo, symbol))
	defer unlock()

	return s.db.DB().Transaction(func(tx *gorm.DB) error {
		to, err := s.db.getOrCreateSecurity(tx, originalTo, symbol)
		if err != nil {
			return err
		}
		if to.Available().LessThan(quantity) {
			return types.ErrInsufficientSecurities
		}
		from, err := s.db.getOrCreateSecurity(tx, originalFrom, symbol)
		if err != nil {
			return err
		}
		to.TotalQuantity = to.TotalQuantity.Sub(quantity)
		from.TotalQuantity = from.TotalQuantity.Add(quantity)
		if err := tx.Save(to).Error; err != nil {
			return err
		}
		return tx.Save(from).Error
	})
}

// CashPosition returns a read snapshot of the (broker, currency) balance.
func (s *Service) CashPosition(brokerID, currency string) (*types.CashPosition, error) {
	return s.db.GetCashPosition(brokerID, currency)
}

// SecurityPosition returns a read snapshot of the (broker, symbol) holding.
func (s *Service) SecurityPosition(brokerID, symbol string) (*types.SecurityPosition, error) {
	return s.db.GetSecurityPosition(brokerID, symbol)
}
