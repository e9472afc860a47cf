package config

const (
	EnvPrefix = "LEALTAD"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"

	IndexBackendMemory = "memory"
	IndexBackendRedis  = "redis"
)

const (
	EnvAppEnv   = "LEALTAD_APP_ENV"
	EnvPort     = "LEALTAD_APP_PORT"
	EnvLogLevel = "LEALTAD_LOG_LEVEL"

	EnvDBDSN  = "LEALTAD_DB_DSN"
	EnvDBHost = "LEALTAD_DB_HOST"
	EnvDBUser = "LEALTAD_DB_USER"
	EnvDBName = "LEALTAD_DB_NAME"

	EnvRedisURL = "LEALTAD_REDIS_URL"

	EnvJWTSecret  = "LEALTAD_JWT_SECRET"
	EnvJWTIssuer  = "LEALTAD_JWT_ISSUER"
	EnvJWTExpMins = "LEALTAD_JWT_EXPIRATION_MINUTES"

	EnvUseSQLite = "LEALTAD_USE_SQLITE"

	EnvCodeDigits       = "LEALTAD_CODE_DIGITS"
	EnvCodeStepSeconds  = "LEALTAD_CODE_STEP_SECONDS"
	EnvCodeDriftSteps   = "LEALTAD_CODE_DRIFT_STEPS"
	EnvCodePepper       = "LEALTAD_CODE_PEPPER"
	EnvCodeIndexBackend = "LEALTAD_CODE_INDEX_BACKEND"

	EnvLoyaltyTimezone = "LEALTAD_LOYALTY_TIMEZONE"

	EnvGCPProjectID       = "LEALTAD_GCP_PROJECT_ID"
	EnvPubSubLoyaltyTopic = "LEALTAD_PUBSUB_LOYALTY_TOPIC"
)

var splitDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
