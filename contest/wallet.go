// Copyright (c) 2025-2026 The contestd developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package contest

// Wallet mutations run inside the state machine's critical section, so a
// read-check-write sequence here is atomic with respect to every other
// balance change.

// creditWallet adds amount pesnocents to the user's balance.
func (s *StateMachine) creditWallet(userID string, amount int64) error {
	if amount == 0 {
		return nil
	}
	w, err := s.db.WalletGet(userID)
	if err != nil {
		return err
	}
	w.Balance += amount
	err = s.db.WalletPut(*w)
	if err != nil {
		return err
	}

	log.Debugf("Wallet credit %v +%v = %v", userID, amount, w.Balance)

	return nil
}

// debitWallet removes amount pesnocents from the user's balance. The balance
// is re-read and checked before the write so a debit can never drive it
// negative, even if the precondition was checked earlier in the call chain.
func (s *StateMachine) debitWallet(userID string, amount int64) error {
	if amount == 0 {
		return nil
	}
	w, err := s.db.WalletGet(userID)
	if err != nil {
		return err
	}
	if w.Balance < amount {
		return ErrInsufficientFunds
	}
	w.Balance -= amount
	err = s.db.WalletPut(*w)
	if err != nil {
		return err
	}

	log.Debugf("Wallet debit %v -%v = %v", userID, amount, w.Balance)

	return nil
}

// Balance returns the user's current pesnocent balance.
func (s *StateMachine) Balance(userID string) (int64, error) {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	w, err := s.db.WalletGet(userID)
	if err != nil {
		return 0, err
	}
	return w.Balance, nil
}
