package config

const EnvPrefix = "CODELAB"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	StoreBackendFirestore = "firestore"
	StoreBackendMemory    = "memory"

	AuthModeFirebase = "firebase"
	AuthModeLocal    = "local"

	TriggerSourceLocal     = "local"
	TriggerSourcePubSub    = "pubsub"
	TriggerSourceFirestore = "firestore"
)

const (
	EnvAppEnv            = "CODELAB_APP_ENV"
	EnvPort              = "CODELAB_APP_PORT"
	EnvLogLevel          = "CODELAB_LOG_LEVEL"
	EnvStoreBackend      = "CODELAB_STORE_BACKEND"
	EnvGCPProjectID      = "CODELAB_GCP_PROJECT_ID"
	EnvFirestoreEmulator = "CODELAB_FIRESTORE_EMULATOR_HOST"
	EnvAuthMode          = "CODELAB_AUTH_MODE"
	EnvAuthJWTSecret     = "CODELAB_AUTH_JWT_SECRET"
	EnvRedisURL          = "CODELAB_REDIS_URL"
	EnvTriggerSource     = "CODELAB_TRIGGER_SOURCE"
	EnvRecomputeOnDelete = "CODELAB_AGGREGATOR_RECOMPUTE_ON_DELETE"
	EnvCatalogSeedCount  = "CODELAB_CATALOG_SEED_COUNT"
)
