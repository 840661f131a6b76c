package config

import "time"

// DevServerConfig configures cmd/devauthserver.
type DevServerConfig interface {
	GetJWTSecret() string
	GetAccessTokenExpiry() time.Duration
	GetRefreshTokenExpiry() time.Duration
	GetRotateRefreshTokens() bool
}

type DevServer struct{}

var _ DevServerConfig = DevServer{}

func (DevServer) GetJWTSecret() string {
	return GetEnv("JWT_SECRET", "dev-secret")
}

func (DevServer) GetAccessTokenExpiry() time.Duration {
	return GetDuration("ACCESS_TOKEN_EXPIRY", 15*time.Minute)
}

func (DevServer) GetRefreshTokenExpiry() time.Duration {
	return GetDuration("REFRESH_TOKEN_EXPIRY", 7*24*time.Hour) // 7 days
}

func (DevServer) GetRotateRefreshTokens() bool {
	return GetBool("ROTATE_REFRESH_TOKENS", false)
}
