package linking

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/goccy/go-json"

	"github.com/qirsh/qirsh/ledger"
	"github.com/qirsh/qirsh/openbank"
)

func TestStartLink_recordsPendingRows(t *testing.T) {
	bank := &mockBank{
		session: openbank.LinkSession{ConsentID: "consent-1", RedirectURL: "https://gateway.test/authorize?id=consent-1"},
	}
	s := testService(t, bank)

	router := testRouter(s, "0912345678")
	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodPost, "/linking/start", nil)
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var res struct {
		RedirectURL string `json:"redirect_url"`
		Ref         string `json:"ref"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
		t.Fatal(err)
	}
	if res.RedirectURL != bank.session.RedirectURL {
		t.Errorf("redirect_url = %q", res.RedirectURL)
	}
	if res.Ref == "" {
		t.Fatal("expected a correlation ref")
	}

	conn, err := ledger.PendingConnectionByRef("0912345678", res.Ref, s.Db)
	if err != nil {
		t.Fatalf("pending connection not recorded: %v", err)
	}
	if conn.ConsentID != "consent-1" {
		t.Errorf("consent id = %q", conn.ConsentID)
	}
	intent, err := ledger.IntentByConsentID("consent-1", s.Db)
	if err != nil {
		t.Fatalf("pending intent not recorded: %v", err)
	}
	if intent.Status != ledger.StatusPending || intent.CorrelationRef != res.Ref {
		t.Errorf("intent = %+v", intent)
	}
}

func TestStartLink_gatewayFailure(t *testing.T) {
	bank := &mockBank{sessionErr: errors.New("gateway down")}
	s := testService(t, bank)

	router := testRouter(s, "0912345678")
	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodPost, "/linking/start", nil)
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", w.Code)
	}
	if got := countRows(t, s.Db, &ledger.Connection{}, "user_id = ?", "0912345678"); got != 0 {
		t.Errorf("no rows should be recorded when the session fails, got %d", got)
	}
}

func TestStartLink_withoutSession(t *testing.T) {
	s := testService(t, &mockBank{})
	router := testRouter(s, "")
	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodPost, "/linking/start", nil)
	router.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}
