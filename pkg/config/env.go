package config

// EnvPrefix is handed to envconfig; every field carries an explicit envconfig tag.
const EnvPrefix = "ORDERFLOW"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	EnvAppEnv   = "ORDERFLOW_APP_ENV"
	EnvPort     = "ORDERFLOW_APP_PORT"
	EnvLogLevel = "ORDERFLOW_LOG_LEVEL"

	EnvDBDSN  = "ORDERFLOW_DB_DSN"
	EnvDBHost = "ORDERFLOW_DB_HOST"
	EnvDBUser = "ORDERFLOW_DB_USER"
	EnvDBName = "ORDERFLOW_DB_NAME"

	EnvUseSQLite = "ORDERFLOW_USE_SQLITE"
	EnvRedisURL  = "ORDERFLOW_REDIS_URL"

	EnvGCPProjectID                   = "ORDERFLOW_GCP_PROJECT_ID"
	EnvPubSubFulfillmentTopic         = "ORDERFLOW_PUBSUB_FULFILLMENT_TOPIC"
	EnvPubSubFulfillmentSubscription  = "ORDERFLOW_PUBSUB_FULFILLMENT_SUBSCRIPTION"
	EnvPubSubNotificationSubscription = "ORDERFLOW_PUBSUB_NOTIFICATION_SUBSCRIPTION"

	EnvKorapaySecretKey = "ORDERFLOW_KORAPAY_SECRET_KEY"
	EnvCJAPIKey         = "ORDERFLOW_CJ_API_KEY"
	EnvCJReplayWindow   = "ORDERFLOW_CJ_WEBHOOK_REPLAY_WINDOW"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
