package config

type Backend string

const (
	BackendNative  Backend = "native"
	BackendSQLHost Backend = "sqlhost"
)

type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

// Config is the odbcquery configuration file.
type Config struct {
	Backend          Backend   `yaml:"backend"`
	Library          string    `yaml:"library"`
	Pooling          bool      `yaml:"pooling"`
	Workers          int       `yaml:"workers"`
	QueueDepth       int       `yaml:"queueDepth"`
	LogLevel         string    `yaml:"logLevel"`
	LogFormat        LogFormat `yaml:"logFormat"`
	ConnectionString string    `yaml:"connectionString"`
}

func BackendValues() []Backend {
	return []Backend{BackendNative, BackendSQLHost}
}

func BackendOptions() []string {
	vals := BackendValues()
	out := make([]string, 0, len(vals))
	for _, v := range vals {
		out = append(out, string(v))
	}
	return out
}

// Default leaves Workers and QueueDepth at zero so the dispatcher picks
// its own defaults.
func Default() Config {
	return Config{
		Backend:   BackendNative,
		Pooling:   true,
		LogLevel:  "info",
		LogFormat: LogFormatText,
	}
}
