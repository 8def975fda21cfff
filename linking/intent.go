package linking

import (
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/qirsh/qirsh/ledger"
)

// StartLink provisions a link session at the aggregator and records the
// pending rows the callback will later attach results to. The correlation
// ref is generated here and round-tripped through the redirect so that
// concurrent linking attempts never race on "most recent pending row".
func (s *Service) StartLink(c *gin.Context) {
	mobile := c.GetString("mobile")
	if mobile == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"message": "unauthorized access", "code": "unauthorized_access"})
		return
	}

	ref := uuid.NewString()
	callback := s.Config.CallbackURL + "?ref=" + url.QueryEscape(ref)
	session, err := s.Bank.CreateLinkSession(mobile, callback)
	if err != nil {
		s.Logger.WithFields(logrus.Fields{
			"code":   err.Error(),
			"mobile": mobile,
		}).Error("unable to create a link session")
		c.JSON(http.StatusBadGateway, gin.H{"message": "unable to reach your bank", "code": "gateway_error"})
		return
	}

	conn := ledger.NewConnection(s.Db)
	conn.UserID = mobile
	conn.ConsentID = session.ConsentID
	conn.CorrelationRef = ref
	conn.Status = ledger.StatusPending
	if err := conn.Save(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"message": "unable to start linking", "code": "db_error"})
		return
	}
	intent := ledger.NewConsentIntent(s.Db)
	intent.UserID = mobile
	intent.ConsentID = session.ConsentID
	intent.CorrelationRef = ref
	intent.Status = ledger.StatusPending
	if err := intent.Save(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"message": "unable to start linking", "code": "db_error"})
		return
	}

	s.audit(mobile, "link_started", session.ConsentID, map[string]interface{}{"ref": ref})
	c.JSON(http.StatusOK, gin.H{"redirect_url": session.RedirectURL, "ref": ref})
}

// RevokeConnection handles an explicit user revocation of a linked bank:
// best-effort revoke at the aggregator, then remove the local connection
// and everything under it.
func (s *Service) RevokeConnection(c *gin.Context) {
	mobile := c.GetString("mobile")
	if mobile == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"message": "unauthorized access", "code": "unauthorized_access"})
		return
	}
	var uri struct {
		ID uint `uri:"id" binding:"required"`
	}
	if err := c.ShouldBindUri(&uri); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error(), "code": "bad_request"})
		return
	}
	conn, err := ledger.ConnectionByID(mobile, uri.ID, s.Db)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"message": "connection not found", "code": "not_found"})
		return
	}

	if err := s.Bank.RevokeConsent(conn.ConsentID); err != nil {
		// the local removal still proceeds, an orphaned remote consent is recoverable
		s.Logger.WithFields(logrus.Fields{
			"code":       err.Error(),
			"consent_id": conn.ConsentID,
		}).Warn("remote consent revocation failed")
	}
	err = s.Db.Transaction(func(tx *gorm.DB) error {
		if err := ledger.PurgeConnectionData(conn.ID, tx); err != nil {
			return err
		}
		if err := tx.Model(&ledger.ConsentIntent{}).Where("consent_id = ?", conn.ConsentID).
			Update("status", ledger.StatusRevoked).Error; err != nil {
			return err
		}
		return tx.Unscoped().Delete(&ledger.Connection{}, conn.ID).Error
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"message": "unable to revoke connection", "code": "db_error"})
		return
	}
	s.audit(mobile, "connection_revoked", conn.ConsentID, map[string]interface{}{"institution_id": conn.InstitutionID})
	c.JSON(http.StatusNoContent, nil)
}
