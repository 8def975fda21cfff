// Package ledger contains qirsh's persisted view of linked banks: consent
// intents, connections, accounts and transactions. It should be kept simple
// and only contain the fields the linking flow and the dashboard need.
package ledger

import (
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Lifecycle statuses shared by ConsentIntent and Connection.
const (
	StatusPending = "pending"
	StatusActive  = "active"
	StatusRevoked = "revoked"
	StatusExpired = "expired"
)

var ErrNotFound = errors.New("record not found")

// ConsentIntent is one initiation of the linking flow. A row is created
// pending when the user starts linking and becomes active on a successful
// callback, or revoked when superseded by a merge or by the user.
type ConsentIntent struct {
	gorm.Model
	UserID         string    `json:"user_id" gorm:"index"`
	ConsentID      string    `json:"consent_id" gorm:"index:idx_intent_consent,unique"`
	CorrelationRef string    `json:"ref" gorm:"index"`
	ExpiresAt      time.Time `json:"expires_at"`
	Status         string    `json:"status" gorm:"default:pending"`
	db             *gorm.DB
}

// Connection is one institution link for one user. At most one active
// connection may exist per (user, institution); the merge engine enforces
// that, not a uniqueness constraint, since violating rows get merged rather
// than rejected.
type Connection struct {
	gorm.Model
	UserID          string    `json:"user_id" gorm:"index"`
	InstitutionID   string    `json:"institution_id"`
	InstitutionName string    `json:"institution_name"`
	ConsentID       string    `json:"consent_id"`
	CorrelationRef  string    `json:"ref" gorm:"index"`
	AccessToken     string    `json:"-"`
	TokenExpiresAt  time.Time `json:"token_expires_at"`
	Status          string    `json:"status" gorm:"default:pending"`
	Accounts        []Account `json:"accounts,omitempty"`
	db              *gorm.DB
}

// Account is one financial account surfaced by the aggregator, owned by
// exactly one connection. Upserts are keyed by (connection, external id) so
// a re-sync never duplicates rows.
type Account struct {
	gorm.Model
	ConnectionID     uint      `json:"connection_id" gorm:"uniqueIndex:idx_account_external"`
	ExternalID       string    `json:"external_id" gorm:"uniqueIndex:idx_account_external"`
	AccountType      string    `json:"account_type"`
	Mask             string    `json:"mask"`
	Currency         string    `json:"currency"`
	Balance          float64   `json:"balance"`
	AvailableBalance float64   `json:"available_balance"`
	LastSyncedAt     time.Time `json:"last_synced_at"`
	Transactions     []Transaction
}

// Transaction is one booked ledger entry, keyed by (account, external id).
// Amount is signed, debits negative.
type Transaction struct {
	gorm.Model
	AccountID   uint      `json:"account_id" gorm:"uniqueIndex:idx_txn_external"`
	ExternalID  string    `json:"external_id" gorm:"uniqueIndex:idx_txn_external"`
	Amount      float64   `json:"amount"`
	Currency    string    `json:"currency"`
	Description string    `json:"description"`
	Merchant    string    `json:"merchant"`
	Category    string    `json:"category"`
	BookedAt    time.Time `json:"booked_at" gorm:"index"`
}

// Migrate runs the schema migrations for all ledger tables.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&ConsentIntent{}, &Connection{}, &Account{}, &Transaction{})
}

func NewConnection(db *gorm.DB) *Connection {
	return &Connection{db: db}
}

func NewConsentIntent(db *gorm.DB) *ConsentIntent {
	return &ConsentIntent{db: db}
}

// Save persists the intent, creating or updating in place.
func (i *ConsentIntent) Save() error {
	return i.db.Save(i).Error
}

func (c *Connection) Save() error {
	return c.db.Save(c).Error
}

// PendingConnectionByRef retrieves the user's pending connection carrying
// the given correlation ref.
func PendingConnectionByRef(userID, ref string, db *gorm.DB) (Connection, error) {
	var conn Connection
	result := db.Where("user_id = ? AND correlation_ref = ? AND status = ?", userID, ref, StatusPending).First(&conn)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return conn, ErrNotFound
	}
	conn.db = db
	return conn, result.Error
}

// LatestPendingConnection retrieves the user's most recent pending
// connection. Only used when the redirect lost the correlation ref.
func LatestPendingConnection(userID string, db *gorm.DB) (Connection, error) {
	var conn Connection
	result := db.Where("user_id = ? AND status = ?", userID, StatusPending).Order("created_at desc").First(&conn)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return conn, ErrNotFound
	}
	conn.db = db
	return conn, result.Error
}

// ActiveConnection retrieves the user's active connection at an institution,
// excluding the given connection id.
func ActiveConnection(userID, institutionID string, exclude uint, db *gorm.DB) (Connection, error) {
	var conn Connection
	result := db.Where("user_id = ? AND institution_id = ? AND status = ? AND id <> ?",
		userID, institutionID, StatusActive, exclude).First(&conn)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return conn, ErrNotFound
	}
	conn.db = db
	return conn, result.Error
}

// ConnectionByID retrieves a user's connection by primary key.
func ConnectionByID(userID string, id uint, db *gorm.DB) (Connection, error) {
	var conn Connection
	result := db.Where("user_id = ? AND id = ?", userID, id).First(&conn)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return conn, ErrNotFound
	}
	conn.db = db
	return conn, result.Error
}

// IntentByConsentID retrieves a consent intent by the aggregator-issued id.
func IntentByConsentID(consentID string, db *gorm.DB) (ConsentIntent, error) {
	var intent ConsentIntent
	result := db.First(&intent, "consent_id = ?", consentID)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return intent, ErrNotFound
	}
	intent.db = db
	return intent, result.Error
}

// DeletePendingRows hard-deletes every pending connection and consent
// intent the user has accumulated. Called whenever a callback ends in
// failure so that orphaned pending rows never pile up.
func DeletePendingRows(userID string, db *gorm.DB) error {
	if err := db.Unscoped().Where("user_id = ? AND status = ?", userID, StatusPending).Delete(&Connection{}).Error; err != nil {
		return err
	}
	return db.Unscoped().Where("user_id = ? AND status = ?", userID, StatusPending).Delete(&ConsentIntent{}).Error
}

// UpsertAccount inserts or updates an account keyed by (connection,
// external id) and returns the stored row with its primary key populated.
func UpsertAccount(account Account, db *gorm.DB) (Account, error) {
	err := db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "connection_id"}, {Name: "external_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"account_type", "mask", "currency", "balance", "available_balance", "last_synced_at", "updated_at",
		}),
	}).Create(&account).Error
	if err != nil {
		return account, err
	}
	var stored Account
	result := db.First(&stored, "connection_id = ? AND external_id = ?", account.ConnectionID, account.ExternalID)
	return stored, result.Error
}

// UpsertTransactions inserts a batch of transactions, silently skipping any
// (account, external id) pair that is already stored. Re-delivery on
// overlapping resync windows is a no-op.
func UpsertTransactions(batch []Transaction, db *gorm.DB) error {
	if len(batch) == 0 {
		return nil
	}
	return db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "account_id"}, {Name: "external_id"}},
		DoNothing: true,
	}).Create(&batch).Error
}

// LatestBookedAt returns the booking time of the newest stored transaction
// for the account, or the zero time when none exist.
func LatestBookedAt(accountID uint, db *gorm.DB) (time.Time, error) {
	var txn Transaction
	result := db.Where("account_id = ?", accountID).Order("booked_at desc").First(&txn)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return time.Time{}, nil
	}
	return txn.BookedAt, result.Error
}

// PurgeConnectionData hard-deletes every transaction and account under the
// connection. The following resync repopulates from the aggregator, which
// is the source of truth.
func PurgeConnectionData(connectionID uint, db *gorm.DB) error {
	accounts, err := AccountsForConnection(connectionID, db)
	if err != nil {
		return err
	}
	accountIDs := make([]uint, 0, len(accounts))
	for _, account := range accounts {
		accountIDs = append(accountIDs, account.ID)
	}
	if len(accountIDs) > 0 {
		if err := db.Unscoped().Where("account_id IN ?", accountIDs).Delete(&Transaction{}).Error; err != nil {
			return err
		}
	}
	return db.Unscoped().Where("connection_id = ?", connectionID).Delete(&Account{}).Error
}

// AccountsForConnection lists the stored accounts under a connection.
func AccountsForConnection(connectionID uint, db *gorm.DB) ([]Account, error) {
	var accounts []Account
	result := db.Where("connection_id = ?", connectionID).Find(&accounts)
	return accounts, result.Error
}
