package config

import "time"

// ClientConfig configures the session provider used by authcli.
type ClientConfig interface {
	GetAPIBaseURL() string
	GetTokenFile() string
	GetRefreshSkew() time.Duration
	GetRefreshMode() string
	GetRefreshTimeout() time.Duration
	GetRequestTimeout() time.Duration
}

type Client struct{}

var _ ClientConfig = Client{}

func (Client) GetAPIBaseURL() string {
	return GetEnv("API_BASE_URL", "http://localhost:5000")
}

func (Client) GetTokenFile() string {
	return GetEnv("TOKEN_FILE", ".auth-tokens.json")
}

func (Client) GetRefreshSkew() time.Duration {
	return GetDuration("REFRESH_SKEW", 10*time.Second)
}

// GetRefreshMode is "header" or "body".
func (Client) GetRefreshMode() string {
	return GetEnv("REFRESH_MODE", "header")
}

func (Client) GetRefreshTimeout() time.Duration {
	return GetDuration("REFRESH_TIMEOUT", 15*time.Second)
}

func (Client) GetRequestTimeout() time.Duration {
	return GetDuration("REQUEST_TIMEOUT", 30*time.Second)
}
