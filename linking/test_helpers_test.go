package linking

import (
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/qirsh/qirsh/ledger"
	"github.com/qirsh/qirsh/openbank"
)

// mockBank is a canned aggregator, one field per endpoint.
type mockBank struct {
	session      openbank.LinkSession
	sessionErr   error
	token        openbank.TokenResponse
	tokenErr     error
	accounts     []openbank.Account
	accountsErr  error
	consents     []openbank.Consent
	consentsErr  error
	detail       openbank.ConsentDetail
	detailErr    error
	balances     map[string]openbank.Balance
	balanceErr   error
	transactions map[string][]openbank.Transaction
	txnErr       error
	revokeErr    error
	revoked      []string
}

func (m *mockBank) CreateLinkSession(userID, redirectURI string) (openbank.LinkSession, error) {
	return m.session, m.sessionErr
}

func (m *mockBank) ExchangeToken(userID string) (openbank.TokenResponse, error) {
	return m.token, m.tokenErr
}

func (m *mockBank) ListAccounts(token string) ([]openbank.Account, error) {
	return m.accounts, m.accountsErr
}

func (m *mockBank) ListConsents(userID string) ([]openbank.Consent, error) {
	return m.consents, m.consentsErr
}

func (m *mockBank) ConsentDetail(consentID string) (openbank.ConsentDetail, error) {
	return m.detail, m.detailErr
}

func (m *mockBank) Balance(token, accountID string) (openbank.Balance, error) {
	if m.balanceErr != nil {
		return openbank.Balance{}, m.balanceErr
	}
	return m.balances[accountID], nil
}

func (m *mockBank) Transactions(token, accountID string, since time.Time) ([]openbank.Transaction, error) {
	if m.txnErr != nil {
		return nil, m.txnErr
	}
	var matched []openbank.Transaction
	for _, txn := range m.transactions[accountID] {
		if txn.BookedAt.After(since) {
			matched = append(matched, txn)
		}
	}
	return matched, nil
}

func (m *mockBank) RevokeConsent(consentID string) error {
	m.revoked = append(m.revoked, consentID)
	return m.revokeErr
}

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("unable to open test db: %v", err)
	}
	if err := ledger.Migrate(db); err != nil {
		t.Fatalf("unable to migrate test db: %v", err)
	}
	return db
}

func testService(t *testing.T, bank BankClient) *Service {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return &Service{
		Db:     testDB(t),
		Logger: logger,
		Config: openbank.Config{
			AppURL:      "http://app.test",
			CallbackURL: "http://api.test/linking/callback",
		},
		Bank:  bank,
		Audit: NoopAuditor{},
	}
}

// testRouter wires the callback behind a stub auth middleware carrying the
// given mobile, empty means no session.
func testRouter(s *Service, mobile string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/linking/callback", func(c *gin.Context) {
		if mobile != "" {
			c.Set("mobile", mobile)
		}
		s.Callback(c)
	})
	r.POST("/linking/start", func(c *gin.Context) {
		if mobile != "" {
			c.Set("mobile", mobile)
		}
		s.StartLink(c)
	})
	return r
}

func seedPending(t *testing.T, db *gorm.DB, mobile, consentID, ref string) ledger.Connection {
	t.Helper()
	conn := ledger.Connection{
		UserID:         mobile,
		ConsentID:      consentID,
		CorrelationRef: ref,
		Status:         ledger.StatusPending,
	}
	if err := db.Create(&conn).Error; err != nil {
		t.Fatalf("unable to seed pending connection: %v", err)
	}
	intent := ledger.ConsentIntent{
		UserID:         mobile,
		ConsentID:      consentID,
		CorrelationRef: ref,
		Status:         ledger.StatusPending,
	}
	if err := db.Create(&intent).Error; err != nil {
		t.Fatalf("unable to seed pending intent: %v", err)
	}
	return conn
}

func countRows(t *testing.T, db *gorm.DB, model interface{}, query string, args ...interface{}) int64 {
	t.Helper()
	var count int64
	if err := db.Model(model).Where(query, args...).Count(&count).Error; err != nil {
		t.Fatalf("count failed: %v", err)
	}
	return count
}
