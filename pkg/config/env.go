package config

import "strings"

// Deployment environments
const (
	EnvDevelopment = "development"
	EnvStaging     = "staging"
	EnvProduction  = "production"
)

// NormalizeEnvironment lowercases env. Empty means development.
func NormalizeEnvironment(env string) string {
	env = strings.ToLower(strings.TrimSpace(env))
	if env == "" {
		return EnvDevelopment
	}
	return env
}

// IsDevelopment reports whether env selects console logging and debug level
func IsDevelopment(env string) bool {
	return NormalizeEnvironment(env) == EnvDevelopment
}

// IsProductionLike reports staging and production. Both refuse localhost
// databases, brokers and lock servers at startup.
func IsProductionLike(env string) bool {
	switch NormalizeEnvironment(env) {
	case EnvStaging, EnvProduction:
		return true
	}
	return false
}

// IsProductionLike reports whether the server runs in staging or production
func (c *ServerConfig) IsProductionLike() bool {
	return IsProductionLike(c.Environment)
}
