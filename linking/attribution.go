package linking

import (
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/qirsh/qirsh/openbank"
)

// consentContext carries what the attribution strategies need to decide
// which accounts belong to the just-granted consent.
type consentContext struct {
	userID    string
	consentID string
	bank      BankClient
	logger    *logrus.Logger
}

// attributionStrategy returns the attributable subset, empty when the
// strategy has no signal. Strategies are tried in order; the first
// non-empty answer wins.
type attributionStrategy func(accounts []openbank.Account, cc *consentContext) []openbank.Account

// The fallback chain, most precise first: the consent's explicit account
// list, then grant matching, then institution-level filtering. Precision
// degrades gracefully; institution filtering risks pulling in an unrelated
// older active consent but is better than nothing.
var attributionChain = []attributionStrategy{
	byConsentDetail,
	byActiveGrant,
	byInstitution,
}

func resolveAccounts(accounts []openbank.Account, cc *consentContext) []openbank.Account {
	if len(accounts) == 0 {
		return nil
	}
	for _, strategy := range attributionChain {
		if matched := strategy(accounts, cc); len(matched) > 0 {
			return matched
		}
	}
	return nil
}

// byConsentDetail asks the aggregator for the consent record; when it
// carries an explicit account-id list, that list is authoritative.
func byConsentDetail(accounts []openbank.Account, cc *consentContext) []openbank.Account {
	detail, err := cc.bank.ConsentDetail(cc.consentID)
	if err != nil {
		cc.logger.WithFields(logrus.Fields{
			"code":       err.Error(),
			"consent_id": cc.consentID,
		}).Info("consent detail unavailable, falling back")
		return nil
	}
	if len(detail.AccountIDs) == 0 {
		return nil
	}
	wanted := make(map[string]bool, len(detail.AccountIDs))
	for _, id := range detail.AccountIDs {
		wanted[id] = true
	}
	var matched []openbank.Account
	for _, account := range accounts {
		if wanted[account.ID] {
			matched = append(matched, account)
		}
	}
	return matched
}

// byActiveGrant scans the accounts' embedded grant lists for the ACTIVE
// grant with the latest expiry and keeps the accounts carrying it as
// ACTIVE. The freshest grant is almost always the one the user just
// approved. Equal expiries tie-break on the smaller grant id so the choice
// stays deterministic.
func byActiveGrant(accounts []openbank.Account, cc *consentContext) []openbank.Account {
	var best *openbank.Grant
	for _, account := range accounts {
		for i := range account.Grants {
			grant := account.Grants[i]
			if grant.Status != openbank.GrantActive {
				continue
			}
			if best == nil || grant.ExpiresAt.After(best.ExpiresAt) ||
				(grant.ExpiresAt.Equal(best.ExpiresAt) && grant.ID < best.ID) {
				g := grant
				best = &g
			}
		}
	}
	if best == nil {
		return nil
	}
	var matched []openbank.Account
	for _, account := range accounts {
		for _, grant := range account.Grants {
			if grant.ID == best.ID && grant.Status == openbank.GrantActive {
				matched = append(matched, account)
				break
			}
		}
	}
	return matched
}

// byInstitution resolves the consent's institution and keeps accounts at
// that institution. The consent id is matched against the owner's consent
// list first; when the list has no such row the most recent ACTIVE consent
// stands in.
func byInstitution(accounts []openbank.Account, cc *consentContext) []openbank.Account {
	consents, err := cc.bank.ListConsents(cc.userID)
	if err != nil {
		cc.logger.WithFields(logrus.Fields{
			"code": err.Error(),
		}).Info("consent listing unavailable, attribution exhausted")
		return nil
	}
	institutionID := ""
	for _, consent := range consents {
		if consent.ID == cc.consentID {
			institutionID = consent.InstitutionID
			break
		}
	}
	if institutionID == "" {
		active := make([]openbank.Consent, 0, len(consents))
		for _, consent := range consents {
			if consent.Status == openbank.GrantActive {
				active = append(active, consent)
			}
		}
		if len(active) == 0 {
			return nil
		}
		sort.Slice(active, func(i, j int) bool { return active[i].CreatedAt.After(active[j].CreatedAt) })
		institutionID = active[0].InstitutionID
	}
	var matched []openbank.Account
	for _, account := range accounts {
		if account.InstitutionID == institutionID {
			matched = append(matched, account)
		}
	}
	return matched
}
