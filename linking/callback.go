package linking

import (
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/qirsh/qirsh/ledger"
)

// outcome of classifying the redirect's status/error signal.
type outcome int

const (
	outcomeError outcome = iota
	outcomeUnexpected
	outcomeSuccess
)

// User-visible redirect messages. Always short and sanitized, raw
// aggregator detail only ever goes to the logs.
const (
	msgBankError      = "your bank reported an error during linking"
	msgUnexpected     = "unexpected response from your bank"
	msgNoPendingLink  = "no pending bank link was found"
	msgNoAccounts     = "no accounts found"
	msgGatewayFailure = "unable to reach your bank"
	msgGenericFailure = "bank linking failed"
)

// classifyCallback normalizes the redirect signal. Any ambiguity lands on
// ERROR or UNEXPECTED, never success: falsely proceeding risks
// misattributing accounts.
func classifyCallback(status, errParam string) (outcome, string) {
	if errParam != "" {
		return outcomeError, msgBankError
	}
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "successful", "success":
		return outcomeSuccess, ""
	case "failed":
		return outcomeError, msgBankError
	default:
		return outcomeUnexpected, msgUnexpected
	}
}

// Callback finalizes the linking flow after the user completes (or abandons)
// consent at the aggregator. It can be invoked multiple times for the same
// flow; every write downstream is an idempotent upsert.
func (s *Service) Callback(c *gin.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.Logger.WithFields(logrus.Fields{"code": "panic", "details": r}).Error("callback pipeline panicked")
			if !c.Writer.Written() {
				s.redirectError(c, msgGenericFailure)
			}
		}
	}()

	mobile := c.GetString("mobile")
	status := c.Query("status")
	errParam := c.Query("error")
	ref := c.Query("ref")

	result, message := classifyCallback(status, errParam)
	if result != outcomeSuccess {
		s.Logger.WithFields(logrus.Fields{
			"status":            status,
			"error":             errParam,
			"error_description": c.Query("error_description"),
			"mobile":            mobile,
		}).Info("linking callback did not succeed")
		if mobile != "" {
			if err := ledger.DeletePendingRows(mobile, s.Db); err != nil {
				s.Logger.WithFields(logrus.Fields{"code": err.Error()}).Error("unable to clean up pending rows")
			}
			s.audit(mobile, "link_failed", ref, map[string]interface{}{"status": status})
		}
		s.redirectError(c, message)
		return
	}

	if mobile == "" {
		// owner unknown, nothing safe to delete. Send them through login
		// and back here.
		next := c.Request.URL.RequestURI()
		c.Set("link_outcome", "reauth")
		c.Redirect(http.StatusFound, s.Config.AppURL+"/login?next="+url.QueryEscape(next))
		return
	}

	pending, err := s.pendingConnection(mobile, ref)
	if err != nil {
		// success signal with nothing to attach results to, a hard failure
		s.Logger.WithFields(logrus.Fields{"mobile": mobile, "ref": ref}).Error("no pending connection for successful callback")
		s.redirectError(c, msgNoPendingLink)
		return
	}

	if err := s.finalize(pending); err != nil {
		if cleanupErr := ledger.DeletePendingRows(mobile, s.Db); cleanupErr != nil {
			s.Logger.WithFields(logrus.Fields{"code": cleanupErr.Error()}).Error("unable to clean up pending rows")
		}
		s.audit(mobile, "link_failed", pending.ConsentID, map[string]interface{}{"reason": err.Error()})
		s.redirectError(c, userMessage(err))
		return
	}

	s.audit(mobile, "link_completed", pending.ConsentID, map[string]interface{}{"ref": ref})
	c.Set("link_outcome", "success")
	c.Redirect(http.StatusFound, s.Config.AppURL+"/?bank_connected=true")
}

// pipeline failures the user can act on
var (
	errNoAccounts     = errors.New("no attributable accounts")
	errGatewayFailure = errors.New("aggregator request failed")
)

func userMessage(err error) string {
	switch {
	case errors.Is(err, errNoAccounts):
		return msgNoAccounts
	case errors.Is(err, errGatewayFailure):
		return msgGatewayFailure
	default:
		return msgGenericFailure
	}
}

// finalize runs the post-classification pipeline: token exchange, account
// attribution, merge-or-promote, ledger sync, intent activation.
func (s *Service) finalize(pending ledger.Connection) error {
	token, err := s.Bank.ExchangeToken(pending.UserID)
	if err != nil {
		s.Logger.WithFields(logrus.Fields{"code": err.Error(), "mobile": pending.UserID}).Error("token exchange failed")
		return errGatewayFailure
	}
	accounts, err := s.Bank.ListAccounts(token.AccessToken)
	if err != nil {
		s.Logger.WithFields(logrus.Fields{"code": err.Error(), "mobile": pending.UserID}).Error("account listing failed")
		return errGatewayFailure
	}

	attributed := resolveAccounts(accounts, &consentContext{
		userID:    pending.UserID,
		consentID: pending.ConsentID,
		bank:      s.Bank,
		logger:    s.Logger,
	})
	if len(attributed) == 0 {
		return errNoAccounts
	}

	conn, err := s.mergeOrPromote(pending, attributed, token)
	if err != nil {
		s.Logger.WithFields(logrus.Fields{"code": err.Error(), "mobile": pending.UserID}).Error("connection merge failed")
		return err
	}

	s.syncAccounts(conn, attributed, token.AccessToken)

	if err := s.Db.Model(&ledger.ConsentIntent{}).Where("consent_id = ?", pending.ConsentID).
		Update("status", ledger.StatusActive).Error; err != nil {
		s.Logger.WithFields(logrus.Fields{"code": err.Error()}).Error("unable to activate consent intent")
	}
	return nil
}

// pendingConnection resolves the pending row by correlation ref, falling
// back to the most recent pending row when the aggregator dropped the ref
// from the redirect.
func (s *Service) pendingConnection(mobile, ref string) (ledger.Connection, error) {
	if ref != "" {
		if conn, err := ledger.PendingConnectionByRef(mobile, ref, s.Db); err == nil {
			return conn, nil
		}
	}
	return ledger.LatestPendingConnection(mobile, s.Db)
}

func (s *Service) redirectError(c *gin.Context, message string) {
	c.Set("link_outcome", "failure")
	c.Redirect(http.StatusFound, s.Config.AppURL+"/?bank_error="+url.QueryEscape(message))
}
