package config

const (
	defaultConfigPath            = "~/.config/symdeploy/config.toml"
	defaultStateDir              = "~/.local/share/symdeploy"
	defaultLogFormat             = "console"
	defaultLogLevel              = "info"
	defaultQuitDelayMillis       = 1000
	defaultTempGraceMillis       = 5000
	defaultConnectTimeoutSeconds = 60
	defaultTagFileName           = "__folder_managed_by_symdeploy"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			StateDir: defaultStateDir,
		},
		Elevation: Elevation{
			QuitDelayMillis:       defaultQuitDelayMillis,
			TempGraceMillis:       defaultTempGraceMillis,
			ConnectTimeoutSeconds: defaultConnectTimeoutSeconds,
			TagFileName:           defaultTagFileName,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
