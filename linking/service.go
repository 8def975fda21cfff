// Package linking finalizes the bank-linking flow: it records the linking
// intent, classifies the aggregator's redirect callback, attributes the
// visible accounts to the just-granted consent, merges duplicate
// institution links and synchronizes accounts and transactions into the
// ledger.
package linking

import (
	"time"

	"github.com/go-redis/redis/v7"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/qirsh/qirsh/openbank"
)

// BankClient is the slice of the aggregator contract this package consumes.
// openbank.Client satisfies it; tests swap in a mock.
type BankClient interface {
	CreateLinkSession(userID, redirectURI string) (openbank.LinkSession, error)
	ExchangeToken(userID string) (openbank.TokenResponse, error)
	ListAccounts(token string) ([]openbank.Account, error)
	ListConsents(userID string) ([]openbank.Consent, error)
	ConsentDetail(consentID string) (openbank.ConsentDetail, error)
	Balance(token, accountID string) (openbank.Balance, error)
	Transactions(token, accountID string, since time.Time) ([]openbank.Transaction, error)
	RevokeConsent(consentID string) error
}

// Service wires the linking handlers to their collaborators.
type Service struct {
	Db     *gorm.DB
	Redis  *redis.Client
	Logger *logrus.Logger
	Config openbank.Config
	Bank   BankClient
	Audit  Auditor
}

func (s *Service) audit(userID, eventType, subjectID string, metadata map[string]interface{}) {
	if s.Audit == nil {
		return
	}
	s.Audit.Record(userID, eventType, subjectID, metadata)
}
