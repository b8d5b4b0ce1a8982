package config

const (
	// Environment variables.
	EnvVarEnvFile     = "PLAYLAKE_ENV_FILE"
	EnvVarInputURI    = "PLAYLAKE_INPUT_URI"
	EnvVarOutputURI   = "PLAYLAKE_OUTPUT_URI"
	EnvVarThreads     = "PLAYLAKE_THREADS"
	EnvVarMemoryLimit = "PLAYLAKE_MEMORY_LIMIT"

	// Defaults.
	DefaultEnvFile   = "dl.env"
	DefaultInputURI  = "s3://udacity-dend/"
	DefaultOutputURI = "file://.tmp/playlake/"
)
