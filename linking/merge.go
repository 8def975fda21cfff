package linking

import (
	"errors"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/qirsh/qirsh/ledger"
	"github.com/qirsh/qirsh/openbank"
)

// mergeOrPromote decides new-vs-merge for the institution the attributed
// accounts belong to. When the user already holds an active connection
// there, the new consent is folded into it: stale accounts and
// transactions are purged, the connection is re-pointed at the new consent
// and credential, the redundant pending row goes away and the superseded
// consent is revoked. Otherwise the pending row is promoted in place.
// Exactly one active connection per (user, institution) holds afterwards.
func (s *Service) mergeOrPromote(pending ledger.Connection, accounts []openbank.Account, token openbank.TokenResponse) (ledger.Connection, error) {
	institutionID := accounts[0].InstitutionID
	institutionName := accounts[0].InstitutionName

	existing, err := ledger.ActiveConnection(pending.UserID, institutionID, pending.ID, s.Db)
	if errors.Is(err, ledger.ErrNotFound) {
		pending.InstitutionID = institutionID
		pending.InstitutionName = institutionName
		pending.AccessToken = token.AccessToken
		pending.TokenExpiresAt = token.ExpiresAt
		pending.Status = ledger.StatusActive
		if err := s.Db.Save(&pending).Error; err != nil {
			return pending, err
		}
		return pending, nil
	}
	if err != nil {
		return pending, err
	}

	supersededConsent := existing.ConsentID

	// The purge and re-point must land together: a crash mid-merge must
	// not leave the institution with zero active connections.
	err = s.Db.Transaction(func(tx *gorm.DB) error {
		if err := ledger.PurgeConnectionData(existing.ID, tx); err != nil {
			return err
		}
		updates := map[string]interface{}{
			"consent_id":       pending.ConsentID,
			"correlation_ref":  pending.CorrelationRef,
			"access_token":     token.AccessToken,
			"token_expires_at": token.ExpiresAt,
			"institution_name": institutionName,
			"status":           ledger.StatusActive,
		}
		if err := tx.Model(&ledger.Connection{}).Where("id = ?", existing.ID).Updates(updates).Error; err != nil {
			return err
		}
		if err := tx.Model(&ledger.ConsentIntent{}).Where("consent_id = ?", supersededConsent).
			Update("status", ledger.StatusRevoked).Error; err != nil {
			return err
		}
		return tx.Unscoped().Delete(&ledger.Connection{}, pending.ID).Error
	})
	if err != nil {
		return existing, err
	}

	// Best effort only: an orphaned remote consent is recoverable, an
	// orphaned local duplicate connection is not.
	if err := s.Bank.RevokeConsent(supersededConsent); err != nil {
		s.Logger.WithFields(logrus.Fields{
			"code":       err.Error(),
			"consent_id": supersededConsent,
		}).Warn("superseded consent revocation failed")
	}
	s.audit(pending.UserID, "consent_superseded", supersededConsent, map[string]interface{}{
		"institution_id": institutionID,
		"new_consent_id": pending.ConsentID,
	})

	merged, err := ledger.ConnectionByID(pending.UserID, existing.ID, s.Db)
	if err != nil {
		return existing, err
	}
	return merged, nil
}
