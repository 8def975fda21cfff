package openbank

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/goccy/go-json"
	"github.com/sirupsen/logrus"
)

var log = logrus.New()

var (
	ErrGatewayConnectivity = errors.New("unable to reach the aggregator gateway")
	ErrGatewayDecline      = errors.New("aggregator gateway declined the request")
	ErrContentType         = errors.New("aggregator response is not application/json")
)

// Client talks to the Open Banking aggregator. BaseURL must end with a
// trailing slash, see GatewaySandboxURL.
type Client struct {
	BaseURL string
	APIKey  string
	HTTP    *http.Client
	Logger  *logrus.Logger
}

// NewClient builds a gateway client with the timeout we are willing to hold
// a callback open for. The aggregator occasionally takes tens of seconds on
// transaction listings.
func NewClient(baseURL, apiKey string, logger *logrus.Logger) *Client {
	if logger == nil {
		logger = log
	}
	return &Client{
		BaseURL: baseURL,
		APIKey:  apiKey,
		HTTP:    &http.Client{Timeout: 90 * time.Second},
		Logger:  logger,
	}
}

// CreateLinkSession provisions a consent at the aggregator and returns the
// URL the user must be redirected to in order to authorize it.
func (c *Client) CreateLinkSession(userID, redirectURI string) (LinkSession, error) {
	var session LinkSession
	body := map[string]string{"user_id": userID, "redirect_uri": redirectURI}
	err := c.do(http.MethodPost, LinkSessionEndpoint, "", body, &session)
	return session, err
}

// ExchangeToken exchanges the owner identity for an access credential
// covering all consents the owner has granted.
func (c *Client) ExchangeToken(userID string) (TokenResponse, error) {
	var token TokenResponse
	err := c.do(http.MethodPost, TokenEndpoint, "", map[string]string{"user_id": userID}, &token)
	return token, err
}

// ListAccounts lists every account visible under the access token, grants
// embedded.
func (c *Client) ListAccounts(token string) ([]Account, error) {
	var res struct {
		Accounts []Account `json:"accounts"`
	}
	err := c.do(http.MethodGet, AccountsEndpoint, token, nil, &res)
	return res.Accounts, err
}

// ListConsents lists the owner's consents across institutions.
func (c *Client) ListConsents(userID string) ([]Consent, error) {
	var res struct {
		Consents []Consent `json:"consents"`
	}
	err := c.do(http.MethodGet, ConsentsEndpoint+"?user_id="+url.QueryEscape(userID), "", nil, &res)
	return res.Consents, err
}

// ConsentDetail fetches the full consent record by id.
func (c *Client) ConsentDetail(consentID string) (ConsentDetail, error) {
	var detail ConsentDetail
	err := c.do(http.MethodGet, ConsentDetailEndpoint+url.PathEscape(consentID), "", nil, &detail)
	return detail, err
}

// Balance fetches the current balance for one account.
func (c *Client) Balance(token, accountID string) (Balance, error) {
	var balance Balance
	err := c.do(http.MethodGet, AccountsEndpoint+"/"+url.PathEscape(accountID)+BalanceEndpoint, token, nil, &balance)
	return balance, err
}

// Transactions lists booked transactions for an account since the given
// time, oldest first.
func (c *Client) Transactions(token, accountID string, since time.Time) ([]Transaction, error) {
	var res struct {
		Transactions []Transaction `json:"transactions"`
	}
	endpoint := AccountsEndpoint + "/" + url.PathEscape(accountID) + TransactionsEndpoint +
		"?since=" + url.QueryEscape(since.UTC().Format(time.RFC3339))
	err := c.do(http.MethodGet, endpoint, token, nil, &res)
	return res.Transactions, err
}

// RevokeConsent revokes a consent at the aggregator.
func (c *Client) RevokeConsent(consentID string) error {
	return c.do(http.MethodPost, ConsentDetailEndpoint+url.PathEscape(consentID)+RevokeEndpoint, "", nil, nil)
}

func (c *Client) do(method, endpoint, token string, body, out any) error {
	var reqBuffer bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&reqBuffer).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequest(method, c.BaseURL+endpoint, &reqBuffer)
	if err != nil {
		c.Logger.WithFields(logrus.Fields{
			"code": err.Error(),
		}).Error("error in establishing connection to the gateway")
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.APIKey != "" {
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	res, err := c.HTTP.Do(req)
	if err != nil {
		c.Logger.WithFields(logrus.Fields{
			"code":     err.Error(),
			"endpoint": endpoint,
		}).Error("error in establishing connection to the gateway")
		return ErrGatewayConnectivity
	}
	defer res.Body.Close()

	responseBody, err := io.ReadAll(res.Body)
	if err != nil {
		c.Logger.WithFields(logrus.Fields{
			"code": err.Error(),
		}).Error("error reading gateway response")
		return ErrGatewayConnectivity
	}
	c.Logger.WithFields(logrus.Fields{
		"endpoint": endpoint,
		"status":   res.StatusCode,
	}).Debug("gateway response")

	if res.StatusCode >= http.StatusBadRequest {
		var gatewayErr struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(responseBody, &gatewayErr)
		c.Logger.WithFields(logrus.Fields{
			"endpoint": endpoint,
			"status":   res.StatusCode,
			"error":    gatewayErr.Error,
		}).Error("gateway declined the request")
		return fmt.Errorf("%w: %d", ErrGatewayDecline, res.StatusCode)
	}
	if out == nil {
		return nil
	}
	if ct := res.Header.Get("Content-Type"); ct != "" && !hasJSONContentType(ct) {
		c.Logger.WithFields(logrus.Fields{
			"code":    "wrong content type parsed",
			"details": ct,
		}).Error("gateway response content type is not application/json")
		return ErrContentType
	}
	return json.Unmarshal(responseBody, out)
}

func hasJSONContentType(ct string) bool {
	return len(ct) >= len("application/json") && ct[:len("application/json")] == "application/json"
}
