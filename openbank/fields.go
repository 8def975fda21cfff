// Package openbank holds the wire types and the http client we use to talk
// to the Open Banking aggregator. It is the only package that knows the
// aggregator's REST surface; the rest of qirsh works with these structs.
package openbank

import "time"

// Grant statuses as the aggregator reports them.
const (
	GrantActive  = "ACTIVE"
	GrantExpired = "EXPIRED"
	GrantRevoked = "REVOKED"
)

// Config is qirsh runtime configuration. It is parsed from the embedded
// secrets file at startup and shared across packages, the same struct is
// also bound from env overrides in main.
type Config struct {
	Port          string `json:"port"`
	AppURL        string `json:"app_url" binding:"required"`
	CallbackURL   string `json:"callback_url" binding:"required"`
	JWTKey        string `json:"jwt_key"`
	RedisPort     string `json:"redis_port"`
	DatabasePath  string `json:"database_path"`
	GatewayURL    string `json:"gateway_url" binding:"required"`
	GatewayAPIKey string `json:"gateway_api_key"`
	IsDebug       bool   `json:"is_debug"`
	// RateLimit is requests per window allowed on /linking/start, zero
	// disables the limiter.
	RateLimit         int `json:"rate_limit"`
	RateLimitWindowMs int `json:"rate_limit_window_ms"`
}

// LinkSession is the aggregator's answer to a link-session request: the id
// of the consent it provisioned and the URL we bounce the user to.
type LinkSession struct {
	ConsentID   string `json:"consent_id"`
	RedirectURL string `json:"redirect_url"`
}

// TokenResponse access credential scoped to whatever the user consented to.
type TokenResponse struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Grant is the aggregator's per-account view of a consent. The embedded
// grant list on accounts is our second attribution signal, see linking.
type Grant struct {
	ID        string    `json:"id"`
	Status    string    `json:"status"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Account as listed under an access token. Mask is the last digits of the
// account number, never the full identifier.
type Account struct {
	ID              string  `json:"id"`
	InstitutionID   string  `json:"institution_id"`
	InstitutionName string  `json:"institution_name"`
	Type            string  `json:"type"`
	Mask            string  `json:"mask" binding:"omitempty,masked_number"`
	Currency        string  `json:"currency"`
	Grants          []Grant `json:"grants"`
}

// Consent summary row from the owner's consent list.
type Consent struct {
	ID            string    `json:"id"`
	InstitutionID string    `json:"institution_id"`
	Status        string    `json:"status"`
	CreatedAt     time.Time `json:"created_at"`
}

// ConsentDetail is the full consent record. AccountIDs is optional; when
// the aggregator populates it it is the authoritative attribution signal.
type ConsentDetail struct {
	ID            string    `json:"id"`
	InstitutionID string    `json:"institution_id"`
	Status        string    `json:"status"`
	ExpiresAt     time.Time `json:"expires_at"`
	AccountIDs    []string  `json:"account_ids"`
}

// Balance for a single account.
type Balance struct {
	Amount    float64 `json:"amount"`
	Available float64 `json:"available"`
	Currency  string  `json:"currency"`
}

// Transaction is one booked ledger entry. Amount is signed, debits are
// negative.
type Transaction struct {
	ID          string    `json:"id"`
	Amount      float64   `json:"amount"`
	Currency    string    `json:"currency"`
	Description string    `json:"description"`
	Merchant    string    `json:"merchant"`
	Category    string    `json:"category"`
	BookedAt    time.Time `json:"booked_at"`
}
