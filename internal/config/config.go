package config

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const envPrefix = "VAULT"

// SettleConfig holds configuration for the settle command.
type SettleConfig struct {
	Pools                     string
	In                        string
	Out                       string
	Events                    string
	Errors                    string
	PGDSN                     string
	ProtocolSwapFeePercentage *big.Int
	ChainID                   uint64
	VaultAddress              string
	LogLevel                  string
	MetricsAddr               string
}

// ReplayConfig holds configuration for the replay command.
type ReplayConfig struct {
	RPCURL            string
	VaultAddress      string
	FromBlock         uint64
	ToBlock           uint64
	BatchSize         uint64
	MaxRetries        int
	RetryBackoff      time.Duration
	Out               string
	Errors            string
	Events            string
	Checkpoint        string
	CheckpointEnabled bool
	CheckpointName    string
	PGDSN             string
	SwapFeePercentage *big.Int
	Topic0Map         map[string]string
	Verify            []string
	LogLevel          string
	MetricsAddr       string
}

// LoadSettle merges config file, environment variables, and flags into SettleConfig.
func LoadSettle(cfgFile string, flags *pflag.FlagSet) (SettleConfig, error) {
	v, err := load(cfgFile, flags, map[string]interface{}{
		"pools":             "./pools.yaml",
		"out":               "./data/receipts.jsonl",
		"errors":            "./data/settle_errors.jsonl",
		"protocol-swap-fee": "0",
		"chain-id":          uint64(1),
		"log-level":         "info",
	})
	if err != nil {
		return SettleConfig{}, err
	}

	protocolFee, err := parseAmount(v, "protocol-swap-fee")
	if err != nil {
		return SettleConfig{}, err
	}

	cfg := SettleConfig{
		Pools:                     v.GetString("pools"),
		In:                        v.GetString("in"),
		Out:                       v.GetString("out"),
		Events:                    v.GetString("events"),
		Errors:                    v.GetString("errors"),
		PGDSN:                     v.GetString("pg-dsn"),
		ProtocolSwapFeePercentage: protocolFee,
		ChainID:                   v.GetUint64("chain-id"),
		VaultAddress:              v.GetString("vault"),
		LogLevel:                  v.GetString("log-level"),
		MetricsAddr:               v.GetString("metrics-addr"),
	}
	if cfg.In == "" {
		return SettleConfig{}, fmt.Errorf("in is required")
	}
	return cfg, nil
}

// LoadReplay merges config file, environment variables, and flags into ReplayConfig.
func LoadReplay(cfgFile string, flags *pflag.FlagSet) (ReplayConfig, error) {
	v, err := load(cfgFile, flags, map[string]interface{}{
		"batch-size":         uint64(2000),
		"max-retries":        5,
		"retry-backoff":      500 * time.Millisecond,
		"out":                "./data/replay_receipts.jsonl",
		"errors":             "./data/replay_errors.jsonl",
		"checkpoint":         "./data/replay_checkpoint.json",
		"checkpoint-enabled": true,
		"checkpoint-name":    "replay",
		"swap-fee":           "1000000000000000",
		"log-level":          "info",
	})
	if err != nil {
		return ReplayConfig{}, err
	}

	swapFee, err := parseAmount(v, "swap-fee")
	if err != nil {
		return ReplayConfig{}, err
	}

	cfg := ReplayConfig{
		RPCURL:            v.GetString("rpc"),
		VaultAddress:      v.GetString("vault"),
		FromBlock:         v.GetUint64("from"),
		ToBlock:           v.GetUint64("to"),
		BatchSize:         v.GetUint64("batch-size"),
		MaxRetries:        v.GetInt("max-retries"),
		RetryBackoff:      v.GetDuration("retry-backoff"),
		Out:               v.GetString("out"),
		Errors:            v.GetString("errors"),
		Events:            v.GetString("events"),
		Checkpoint:        v.GetString("checkpoint"),
		CheckpointEnabled: v.GetBool("checkpoint-enabled"),
		CheckpointName:    v.GetString("checkpoint-name"),
		PGDSN:             v.GetString("pg-dsn"),
		SwapFeePercentage: swapFee,
		Topic0Map:         getStringMap(v, "topic0-map"),
		Verify:            getStringSlice(v, "verify"),
		LogLevel:          v.GetString("log-level"),
		MetricsAddr:       v.GetString("metrics-addr"),
	}
	if cfg.RPCURL == "" {
		return ReplayConfig{}, fmt.Errorf("rpc is required")
	}
	if cfg.VaultAddress == "" {
		return ReplayConfig{}, fmt.Errorf("vault is required")
	}
	return cfg, nil
}

func load(cfgFile string, flags *pflag.FlagSet, defaults map[string]interface{}) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}
	return v, nil
}

// parseAmount reads an 18-decimal fixed-point value written as a decimal integer.
func parseAmount(v *viper.Viper, key string) (*big.Int, error) {
	raw := strings.TrimSpace(v.GetString(key))
	if raw == "" {
		return new(big.Int), nil
	}
	amount, ok := new(big.Int).SetString(raw, 10)
	if !ok || amount.Sign() < 0 {
		return nil, fmt.Errorf("%s: invalid amount %q", key, raw)
	}
	return amount, nil
}

func getStringSlice(v *viper.Viper, key string) []string {
	if !v.IsSet(key) {
		return nil
	}

	val := v.Get(key)
	switch typed := val.(type) {
	case []string:
		return cleanStrings(typed)
	case string:
		return splitAndClean(typed)
	case []interface{}:
		items := make([]string, 0, len(typed))
		for _, item := range typed {
			items = append(items, fmt.Sprintf("%v", item))
		}
		return cleanStrings(items)
	default:
		return nil
	}
}

func getStringMap(v *viper.Viper, key string) map[string]string {
	if !v.IsSet(key) {
		return map[string]string{}
	}

	val := v.Get(key)
	switch typed := val.(type) {
	case map[string]string:
		return typed
	case map[string]interface{}:
		out := make(map[string]string, len(typed))
		for k, v := range typed {
			out[k] = fmt.Sprintf("%v", v)
		}
		return out
	case string:
		return parseStringMap(typed)
	default:
		return map[string]string{}
	}
}

func parseStringMap(input string) map[string]string {
	out := make(map[string]string)
	if strings.TrimSpace(input) == "" {
		return out
	}
	for _, pair := range strings.Split(input, ",") {
		parts := strings.SplitN(pair, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])
		if key == "" || value == "" {
			continue
		}
		out[key] = value
	}
	return out
}

func splitAndClean(input string) []string {
	if input == "" {
		return nil
	}
	return cleanStrings(strings.Split(input, ","))
}

func cleanStrings(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		out = append(out, item)
	}
	return out
}
