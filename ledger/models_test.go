package ledger

import (
	"fmt"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("unable to open test db: %v", err)
	}
	if err := Migrate(db); err != nil {
		t.Fatalf("unable to migrate: %v", err)
	}
	return db
}

func TestUpsertAccount_noDuplicatesOnResync(t *testing.T) {
	db := testDB(t)
	conn := Connection{UserID: "0912345678", InstitutionID: "bok", Status: StatusActive}
	if err := db.Create(&conn).Error; err != nil {
		t.Fatal(err)
	}

	first, err := UpsertAccount(Account{ConnectionID: conn.ID, ExternalID: "A1", Balance: 10, Currency: "SDG"}, db)
	if err != nil {
		t.Fatal(err)
	}
	second, err := UpsertAccount(Account{ConnectionID: conn.ID, ExternalID: "A1", Balance: 25, Currency: "SDG"}, db)
	if err != nil {
		t.Fatal(err)
	}
	if first.ID != second.ID {
		t.Errorf("upsert must keep the row identity: %d vs %d", first.ID, second.ID)
	}
	if second.Balance != 25 {
		t.Errorf("balance = %v, want 25", second.Balance)
	}
	var count int64
	db.Model(&Account{}).Where("connection_id = ?", conn.ID).Count(&count)
	if count != 1 {
		t.Errorf("account rows = %d, want 1", count)
	}
}

func TestUpsertTransactions_redeliveryIsNoop(t *testing.T) {
	db := testDB(t)
	conn := Connection{UserID: "0912345678", InstitutionID: "bok", Status: StatusActive}
	if err := db.Create(&conn).Error; err != nil {
		t.Fatal(err)
	}
	account, err := UpsertAccount(Account{ConnectionID: conn.ID, ExternalID: "A1"}, db)
	if err != nil {
		t.Fatal(err)
	}

	now := time.Now().UTC()
	batch := make([]Transaction, 0, 30)
	for i := 0; i < 30; i++ {
		batch = append(batch, Transaction{
			AccountID:  account.ID,
			ExternalID: fmt.Sprintf("T%02d", i),
			Amount:     float64(-i),
			BookedAt:   now.Add(-time.Duration(i) * time.Hour),
		})
	}
	if err := UpsertTransactions(batch, db); err != nil {
		t.Fatal(err)
	}
	// overlapping resync windows re-deliver the same rows
	redelivery := make([]Transaction, len(batch))
	copy(redelivery, batch)
	for i := range redelivery {
		redelivery[i].ID = 0
	}
	if err := UpsertTransactions(redelivery, db); err != nil {
		t.Fatal(err)
	}

	var count int64
	db.Model(&Transaction{}).Where("account_id = ?", account.ID).Count(&count)
	if count != 30 {
		t.Errorf("transaction rows = %d, want 30", count)
	}
}

func TestLatestBookedAt(t *testing.T) {
	db := testDB(t)
	got, err := LatestBookedAt(42, db)
	if err != nil {
		t.Fatal(err)
	}
	if !got.IsZero() {
		t.Errorf("LatestBookedAt() on empty account = %v, want zero", got)
	}

	newest := time.Now().UTC().Truncate(time.Second)
	rows := []Transaction{
		{AccountID: 42, ExternalID: "T1", BookedAt: newest.Add(-time.Hour)},
		{AccountID: 42, ExternalID: "T2", BookedAt: newest},
	}
	if err := UpsertTransactions(rows, db); err != nil {
		t.Fatal(err)
	}
	got, err = LatestBookedAt(42, db)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Equal(newest) {
		t.Errorf("LatestBookedAt() = %v, want %v", got, newest)
	}
}

func TestDeletePendingRows(t *testing.T) {
	db := testDB(t)
	rows := []Connection{
		{UserID: "0912345678", Status: StatusPending},
		{UserID: "0912345678", Status: StatusActive, InstitutionID: "bok"},
		{UserID: "0999999999", Status: StatusPending},
	}
	for i := range rows {
		if err := db.Create(&rows[i]).Error; err != nil {
			t.Fatal(err)
		}
	}
	if err := db.Create(&ConsentIntent{UserID: "0912345678", ConsentID: "c1", Status: StatusPending}).Error; err != nil {
		t.Fatal(err)
	}

	if err := DeletePendingRows("0912345678", db); err != nil {
		t.Fatal(err)
	}

	var count int64
	db.Unscoped().Model(&Connection{}).Where("user_id = ?", "0912345678").Count(&count)
	if count != 1 {
		t.Errorf("connections left = %d, want just the active one", count)
	}
	db.Unscoped().Model(&ConsentIntent{}).Where("user_id = ?", "0912345678").Count(&count)
	if count != 0 {
		t.Errorf("intents left = %d, want 0", count)
	}
	db.Unscoped().Model(&Connection{}).Where("user_id = ?", "0999999999").Count(&count)
	if count != 1 {
		t.Errorf("other user's rows must be untouched")
	}
}

func TestConnectionSave_createsThenUpdatesInPlace(t *testing.T) {
	db := testDB(t)
	conn := NewConnection(db)
	conn.UserID = "0912345678"
	conn.ConsentID = "c1"
	conn.Status = StatusPending
	if err := conn.Save(); err != nil {
		t.Fatal(err)
	}
	if conn.ID == 0 {
		t.Fatal("Save on a fresh row must assign a primary key")
	}

	conn.Status = StatusActive
	if err := conn.Save(); err != nil {
		t.Fatal(err)
	}
	var count int64
	db.Model(&Connection{}).Where("user_id = ?", "0912345678").Count(&count)
	if count != 1 {
		t.Errorf("connection rows = %d, want 1", count)
	}

	intent := NewConsentIntent(db)
	intent.UserID = "0912345678"
	intent.ConsentID = "c1"
	intent.Status = StatusPending
	if err := intent.Save(); err != nil {
		t.Fatal(err)
	}
	stored, err := IntentByConsentID("c1", db)
	if err != nil {
		t.Fatal(err)
	}
	if stored.ID != intent.ID {
		t.Errorf("stored intent id = %d, want %d", stored.ID, intent.ID)
	}
}

func TestAccountsForConnection_scopedToConnection(t *testing.T) {
	db := testDB(t)
	mine := Connection{UserID: "0912345678", InstitutionID: "bok", Status: StatusActive}
	other := Connection{UserID: "0999999999", InstitutionID: "bok", Status: StatusActive}
	for _, conn := range []*Connection{&mine, &other} {
		if err := db.Create(conn).Error; err != nil {
			t.Fatal(err)
		}
	}
	for i, connID := range []uint{mine.ID, mine.ID, other.ID} {
		if _, err := UpsertAccount(Account{ConnectionID: connID, ExternalID: fmt.Sprintf("A%d", i)}, db); err != nil {
			t.Fatal(err)
		}
	}

	accounts, err := AccountsForConnection(mine.ID, db)
	if err != nil {
		t.Fatal(err)
	}
	if len(accounts) != 2 {
		t.Errorf("accounts = %d, want 2", len(accounts))
	}
	for _, account := range accounts {
		if account.ConnectionID != mine.ID {
			t.Errorf("account %q belongs to connection %d", account.ExternalID, account.ConnectionID)
		}
	}
}

func TestPurgeConnectionData(t *testing.T) {
	db := testDB(t)
	conn := Connection{UserID: "0912345678", InstitutionID: "bok", Status: StatusActive}
	if err := db.Create(&conn).Error; err != nil {
		t.Fatal(err)
	}
	account, err := UpsertAccount(Account{ConnectionID: conn.ID, ExternalID: "A1"}, db)
	if err != nil {
		t.Fatal(err)
	}
	if err := UpsertTransactions([]Transaction{{AccountID: account.ID, ExternalID: "T1"}}, db); err != nil {
		t.Fatal(err)
	}

	if err := PurgeConnectionData(conn.ID, db); err != nil {
		t.Fatal(err)
	}
	var count int64
	db.Unscoped().Model(&Account{}).Where("connection_id = ?", conn.ID).Count(&count)
	if count != 0 {
		t.Errorf("accounts left = %d, want 0 (hard purge)", count)
	}
	db.Unscoped().Model(&Transaction{}).Count(&count)
	if count != 0 {
		t.Errorf("transactions left = %d, want 0 (hard purge)", count)
	}
}
