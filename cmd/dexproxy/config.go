package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	flag "github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/dexproxy/dexproxy/config"
)

const (
	defaultNetwork         = "sepolia"
	defaultAPIHost         = "0.0.0.0"
	defaultAPIPort         = 9090
	defaultLogLevel        = "info"
	defaultLogOutput       = "stdout"
	defaultDatadir         = ".dexproxy" // prefixed with the user's home directory
	defaultPollInterval    = 5 * time.Second
	defaultMaxGasPriceWei  = "500000000000" // 500 gwei
	defaultSignWorkerCount = 4
	defaultSignJobTimeout  = 10 * time.Second
)

// Version is the build version, set at build time with -ldflags.
var Version = "dev"

// Config holds the application configuration.
type Config struct {
	Web3    Web3Config
	API     APIConfig
	Cache   CacheConfig
	Log     LogConfig
	Datadir string
}

// Web3Config holds Ethereum connectivity configuration.
type Web3Config struct {
	PrivKey               string        `mapstructure:"privkey"`
	Network               string        `mapstructure:"network"`
	Rpc                   []string      `mapstructure:"rpc"`
	MaxAllowedGasPriceWei string        `mapstructure:"maxGasPrice"`
	Venues                []string      `mapstructure:"venues"`
	SignWorkerCount       int           `mapstructure:"signWorkers"`
	SignJobTimeout        time.Duration `mapstructure:"signJobTimeout"`
}

// APIConfig holds the API-specific configuration.
type APIConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// CacheConfig holds the durable request cache's tunables.
type CacheConfig struct {
	Datadir      string        `mapstructure:"datadir"`
	PollInterval time.Duration `mapstructure:"pollInterval"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Output string `mapstructure:"output"`
}

// loadConfig loads configuration from flags, environment variables, and defaults.
func loadConfig() (*Config, error) {
	v := viper.New()

	userHomeDir, err := os.UserHomeDir()
	if err != nil {
		userHomeDir = "."
	}
	defaultDatadirPath := filepath.Join(userHomeDir, defaultDatadir)

	v.SetDefault("web3.network", defaultNetwork)
	v.SetDefault("web3.rpc", []string{})
	v.SetDefault("web3.maxGasPrice", defaultMaxGasPriceWei)
	v.SetDefault("web3.venues", []string{"uniswap_v3"})
	v.SetDefault("web3.signWorkers", defaultSignWorkerCount)
	v.SetDefault("web3.signJobTimeout", defaultSignJobTimeout)
	v.SetDefault("api.host", defaultAPIHost)
	v.SetDefault("api.port", defaultAPIPort)
	v.SetDefault("log.level", defaultLogLevel)
	v.SetDefault("log.output", defaultLogOutput)
	v.SetDefault("datadir", defaultDatadirPath)
	v.SetDefault("cache.pollInterval", defaultPollInterval)

	flag.StringP("web3.privkey", "k", "", "private key for the signing account (required)")
	flag.StringP("web3.network", "n", defaultNetwork, fmt.Sprintf("network to use %v", networkNames()))
	flag.StringSliceP("web3.rpc", "r", []string{}, "web3 rpc endpoint(s), comma-separated")
	flag.String("web3.maxGasPrice", defaultMaxGasPriceWei, "max_allowed_gas_price_wei cap enforced on every submission")
	flag.StringSlice("web3.venues", []string{"uniswap_v3"}, "venue names to enable, comma-separated")
	flag.Int("web3.signWorkers", defaultSignWorkerCount, "number of signing worker goroutines")
	flag.Duration("web3.signJobTimeout", defaultSignJobTimeout, "max time a signing job may wait before it is failed")
	flag.StringP("api.host", "h", defaultAPIHost, "API host")
	flag.IntP("api.port", "p", defaultAPIPort, "API port")
	flag.StringP("log.level", "l", defaultLogLevel, "log level (debug, info, warn, error, fatal)")
	flag.StringP("log.output", "o", defaultLogOutput, "log output (stdout, stderr or filepath)")
	flag.StringP("datadir", "d", defaultDatadirPath, "data directory for the request cache store")
	flag.Duration("cache.pollInterval", defaultPollInterval, "status poller interval")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "dexproxy v%s\n\n", Version)
		fmt.Fprintf(os.Stderr, "Usage: dexproxy [flags]\n\n")
		fmt.Fprintf(os.Stderr, "Flags:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nEnvironment variables are also available with the same name as flags,\n")
		fmt.Fprintf(os.Stderr, "  except for dashes (-) and dots (.) which are replaced by underscores (_).\n")
		fmt.Fprintf(os.Stderr, "  For example, DEXPROXY_WEB3_PRIVKEY or DEXPROXY_API_HOST\n")
	}

	flag.CommandLine.SortFlags = false
	flag.Parse()

	v.SetEnvPrefix("DEXPROXY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.BindPFlags(flag.CommandLine); err != nil {
		return nil, fmt.Errorf("error binding flags: %w", err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	cfg.Cache.Datadir = cfg.Datadir
	return cfg, nil
}

func networkNames() []string {
	names := make([]string, 0, len(config.AvailableNetworks))
	for n := range config.AvailableNetworks {
		names = append(names, n)
	}
	return names
}

// validateConfig validates the loaded configuration.
func validateConfig(cfg *Config) error {
	if cfg.Web3.PrivKey == "" {
		return fmt.Errorf("private key is required (use --web3.privkey flag or DEXPROXY_WEB3_PRIVKEY environment variable)")
	}
	if _, ok := config.AvailableNetworks[cfg.Web3.Network]; !ok {
		return fmt.Errorf("invalid network %s, available networks: %v", cfg.Web3.Network, networkNames())
	}
	if len(cfg.Web3.Rpc) == 0 {
		return fmt.Errorf("at least one web3 rpc endpoint is required (use --web3.rpc)")
	}
	if len(cfg.Web3.Venues) == 0 {
		return fmt.Errorf("at least one venue must be enabled (use --web3.venues)")
	}
	return nil
}
