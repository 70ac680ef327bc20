package config

// EnvPrefix is the envconfig prefix shared by every service binary.
const EnvPrefix = "SHOPRAQ"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	EnvDBDSN  = "SHOPRAQ_DB_DSN"
	EnvDBHost = "SHOPRAQ_DB_HOST"
	EnvDBUser = "SHOPRAQ_DB_USER"
	EnvDBName = "SHOPRAQ_DB_NAME"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
