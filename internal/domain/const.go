package domain

const (
	IdentityCtxKey = "db-identity"
)

const (
	IdentityHeader = "db-identity"
)

type Environment string

const (
	EnvironmentDevelopment Environment = "development"
	EnvironmentStaging     Environment = "staging"
	EnvironmentProduction  Environment = "production"
)

func ParseEnvironment(s string) Environment {
	switch s {
	case "production", "prod":
		return EnvironmentProduction
	case "staging":
		return EnvironmentStaging
	default:
		return EnvironmentDevelopment
	}
}

type FetchStatus string

const (
	StatusIdle    FetchStatus = "idle"
	StatusLoading FetchStatus = "loading"
	StatusError   FetchStatus = "error"
	StatusSuccess FetchStatus = "success"
)
