package config

// RedisConfig selects the Redis token store. An empty address means the file
// store is used instead.
type RedisConfig interface {
	GetRedisAddr() string
	GetRedisPassword() string
	GetRedisDB() int
	GetRedisKey() string
}

type Redis struct{}

var _ RedisConfig = Redis{}

func (Redis) GetRedisAddr() string {
	return GetEnv("REDIS_ADDR", "")
}

func (Redis) GetRedisPassword() string {
	return GetEnv("REDIS_PASSWORD", "")
}

func (Redis) GetRedisDB() int {
	return GetInt("REDIS_DB", 0)
}

func (Redis) GetRedisKey() string {
	return GetEnv("REDIS_KEY", "auth:tokens")
}
