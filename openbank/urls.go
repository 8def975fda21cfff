package openbank

const (
	LinkSessionEndpoint   = "link/sessions"
	TokenEndpoint         = "token"
	AccountsEndpoint      = "accounts"
	ConsentsEndpoint      = "consents"
	ConsentDetailEndpoint = "consents/"
	BalanceEndpoint       = "/balance"
	TransactionsEndpoint  = "/transactions"
	RevokeEndpoint        = "/revoke"
)

const GatewaySandboxURL = "https://sandbox.gateway.qirsh.dev/v1/"
