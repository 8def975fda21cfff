package linking

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/qirsh/qirsh/ledger"
	"github.com/qirsh/qirsh/openbank"
)

const (
	// transactionBatchSize bounds the size of each upsert payload.
	transactionBatchSize = 50
	// firstSyncLookback is how far back the first sync of an account
	// reaches; resyncs continue from the newest stored booking time.
	firstSyncLookback = 90 * 24 * time.Hour
)

// syncAccounts upserts the attributed accounts and their transactions.
// Accounts are processed one at a time; a failing account is logged and
// skipped so one bad account cannot abort the rest. The whole routine is
// re-entrant: upsert keys are stable, running it twice stores nothing
// twice.
func (s *Service) syncAccounts(conn ledger.Connection, accounts []openbank.Account, token string) {
	for _, account := range accounts {
		if err := s.syncAccount(conn, account, token); err != nil {
			s.Logger.WithFields(logrus.Fields{
				"code":       err.Error(),
				"account_id": account.ID,
				"mobile":     conn.UserID,
			}).Error("account enrichment failed, continuing with the rest")
		}
	}
}

func (s *Service) syncAccount(conn ledger.Connection, remote openbank.Account, token string) error {
	var balance openbank.Balance
	if b, err := s.Bank.Balance(token, remote.ID); err != nil {
		// non-fatal, the next sync refreshes it
		s.Logger.WithFields(logrus.Fields{
			"code":       err.Error(),
			"account_id": remote.ID,
		}).Warn("balance fetch failed, defaulting to zero")
	} else {
		balance = b
	}

	stored, err := ledger.UpsertAccount(ledger.Account{
		ConnectionID:     conn.ID,
		ExternalID:       remote.ID,
		AccountType:      remote.Type,
		Mask:             remote.Mask,
		Currency:         remote.Currency,
		Balance:          balance.Amount,
		AvailableBalance: balance.Available,
		LastSyncedAt:     time.Now().UTC(),
	}, s.Db)
	if err != nil {
		return err
	}

	since, err := ledger.LatestBookedAt(stored.ID, s.Db)
	if err != nil {
		return err
	}
	if since.IsZero() {
		since = time.Now().UTC().Add(-firstSyncLookback)
	}
	transactions, err := s.Bank.Transactions(token, remote.ID, since)
	if err != nil {
		return err
	}

	for start := 0; start < len(transactions); start += transactionBatchSize {
		end := start + transactionBatchSize
		if end > len(transactions) {
			end = len(transactions)
		}
		batch := make([]ledger.Transaction, 0, end-start)
		for _, txn := range transactions[start:end] {
			batch = append(batch, ledger.Transaction{
				AccountID:   stored.ID,
				ExternalID:  txn.ID,
				Amount:      txn.Amount,
				Currency:    txn.Currency,
				Description: txn.Description,
				Merchant:    txn.Merchant,
				Category:    txn.Category,
				BookedAt:    txn.BookedAt,
			})
		}
		if err := ledger.UpsertTransactions(batch, s.Db); err != nil {
			// earlier batches stay committed, the next sync picks up the gap
			s.Logger.WithFields(logrus.Fields{
				"code":       err.Error(),
				"account_id": remote.ID,
				"batch":      start / transactionBatchSize,
			}).Error("transaction batch upsert failed")
		}
	}
	return nil
}
