package config

type Config interface {
	EnvConfig
	ClientConfig
	RedisConfig
	DevServerConfig
	CorsConfig
}

type EnvConfig interface {
	GetPort() string
	GetAppName() string
	GetEnv() string
	GetLogLevel() string
}

type CorsConfig interface {
	GetAllowedOrigins() AllowedOrigins
	GetAllowedMethods() string
	GetAllowedHeaders() string
}

type mainConfig struct {
	EnvVars
	Client
	Redis
	DevServer
	Cors
}

func New() Config {
	return mainConfig{}
}
