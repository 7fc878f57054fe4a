package config

import (
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"crediflow/crypto"
)

// Config is the top-level daemon configuration, decoded from TOML.
type Config struct {
	ListenAddress string `toml:"ListenAddress"`
	DataDir       string `toml:"DataDir"`

	Score      ScoreConfig      `toml:"score"`
	Registry   RegistryConfig   `toml:"registry"`
	Pool       PoolConfig       `toml:"pool"`
	Agreements AgreementsConfig `toml:"agreements"`
	Roles      RolesConfig      `toml:"roles"`
}

// ScoreConfig configures the attestation verifier.
type ScoreConfig struct {
	TrustedSigner string `toml:"TrustedSigner"`
}

// TierConfig is one row of the registry tier schedule. Amounts are decimal
// strings so limits larger than 64 bits survive the TOML round trip.
type TierConfig struct {
	MinScore          uint16 `toml:"MinScore"`
	BaseLimit         string `toml:"BaseLimit"`
	BaseAPRBps        uint64 `toml:"BaseAPRBps"`
	MaxUtilizationBps uint64 `toml:"MaxUtilizationBps"`
}

// RegistryConfig configures the credit registry engine.
type RegistryConfig struct {
	RiskFactorBps        uint64       `toml:"RiskFactorBps"`
	PDWeightBps          uint64       `toml:"PDWeightBps"`
	UtilizationWeightBps uint64       `toml:"UtilizationWeightBps"`
	MinAPRBps            uint64       `toml:"MinAPRBps"`
	MaxAPRBps            uint64       `toml:"MaxAPRBps"`
	Tiers                []TierConfig `toml:"tiers"`
}

// PoolConfig configures the lending pool tranche and reserve ratios.
type PoolConfig struct {
	SeniorRatioBps    uint64 `toml:"SeniorRatioBps"`
	SeniorFloorBps    uint64 `toml:"SeniorFloorBps"`
	ReserveRatioBps   uint64 `toml:"ReserveRatioBps"`
	MaxUtilizationBps uint64 `toml:"MaxUtilizationBps"`
}

// AgreementsConfig configures the agreement factory ceilings and timings.
type AgreementsConfig struct {
	MaxInstallments        uint32 `toml:"MaxInstallments"`
	MaxAPRBps              uint64 `toml:"MaxAPRBps"`
	InstallmentIntervalSec int64  `toml:"InstallmentIntervalSec"`
	GracePeriodSec         int64  `toml:"GracePeriodSec"`
	WriteOffPeriodSec      int64  `toml:"WriteOffPeriodSec"`
	PenaltyRateBps         uint64 `toml:"PenaltyRateBps"`
	PenaltyCapBps          uint64 `toml:"PenaltyCapBps"`
}

// RolesConfig seeds role membership at startup. Addresses are bech32.
type RolesConfig struct {
	Admins           []string `toml:"Admins"`
	RegistryUpdaters []string `toml:"RegistryUpdaters"`
	FactoryCreators  []string `toml:"FactoryCreators"`
}

// Load reads the configuration at path, creating a default file when none
// exists.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.ListenAddress) == "" {
		cfg.ListenAddress = ":8080"
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = "./crediflow-data"
	}
	if cfg.Pool.MaxUtilizationBps == 0 {
		cfg.Pool.MaxUtilizationBps = 10_000
	}
	if cfg.Pool.SeniorFloorBps == 0 {
		cfg.Pool.SeniorFloorBps = 2_000
	}
	if cfg.Agreements.MaxInstallments == 0 {
		cfg.Agreements.MaxInstallments = 36
	}
	if cfg.Agreements.InstallmentIntervalSec == 0 {
		cfg.Agreements.InstallmentIntervalSec = 30 * 24 * 3600
	}
}

func createDefault(path string) (*Config, error) {
	cfg := &Config{
		ListenAddress: ":8080",
		DataDir:       "./crediflow-data",
		Registry: RegistryConfig{
			RiskFactorBps:        5_000,
			PDWeightBps:          5_000,
			UtilizationWeightBps: 1_000,
			MinAPRBps:            500,
			MaxAPRBps:            6_000,
			Tiers: []TierConfig{
				{MinScore: 800, BaseLimit: "100000", BaseAPRBps: 800, MaxUtilizationBps: 9_000},
				{MinScore: 700, BaseLimit: "50000", BaseAPRBps: 1_200, MaxUtilizationBps: 8_000},
				{MinScore: 600, BaseLimit: "20000", BaseAPRBps: 1_800, MaxUtilizationBps: 7_000},
				{MinScore: 500, BaseLimit: "5000", BaseAPRBps: 2_600, MaxUtilizationBps: 6_000},
				{MinScore: 300, BaseLimit: "1000", BaseAPRBps: 3_600, MaxUtilizationBps: 5_000},
			},
		},
		Pool: PoolConfig{
			SeniorRatioBps:    7_000,
			SeniorFloorBps:    2_000,
			ReserveRatioBps:   1_000,
			MaxUtilizationBps: 9_000,
		},
		Agreements: AgreementsConfig{
			MaxInstallments:        36,
			MaxAPRBps:              6_000,
			InstallmentIntervalSec: 30 * 24 * 3600,
			GracePeriodSec:         3 * 24 * 3600,
			WriteOffPeriodSec:      90 * 24 * 3600,
			PenaltyRateBps:         50,
			PenaltyCapBps:          2_500,
		},
	}
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()
	return toml.NewEncoder(file).Encode(cfg)
}

// Validate rejects configurations the engines would refuse at wiring time.
func (cfg *Config) Validate() error {
	if cfg.Registry.MaxAPRBps != 0 && cfg.Registry.MinAPRBps > cfg.Registry.MaxAPRBps {
		return fmt.Errorf("registry: MinAPRBps > MaxAPRBps")
	}
	seen := make(map[uint16]bool, len(cfg.Registry.Tiers))
	for i, tier := range cfg.Registry.Tiers {
		if seen[tier.MinScore] {
			return fmt.Errorf("registry: duplicate tier MinScore %d", tier.MinScore)
		}
		seen[tier.MinScore] = true
		if _, err := parseAmount(tier.BaseLimit); err != nil {
			return fmt.Errorf("registry: tier %d: %w", i, err)
		}
		if tier.MaxUtilizationBps > 10_000 {
			return fmt.Errorf("registry: tier %d: MaxUtilizationBps > 10000", i)
		}
	}
	if cfg.Pool.SeniorRatioBps > 10_000 {
		return fmt.Errorf("pool: SeniorRatioBps > 10000")
	}
	if cfg.Pool.SeniorRatioBps < cfg.Pool.SeniorFloorBps {
		return fmt.Errorf("pool: SeniorRatioBps below floor %d", cfg.Pool.SeniorFloorBps)
	}
	if cfg.Pool.ReserveRatioBps > 10_000 {
		return fmt.Errorf("pool: ReserveRatioBps > 10000")
	}
	if cfg.Pool.MaxUtilizationBps == 0 || cfg.Pool.MaxUtilizationBps > 10_000 {
		return fmt.Errorf("pool: MaxUtilizationBps out of range")
	}
	if cfg.Agreements.MaxInstallments == 0 {
		return fmt.Errorf("agreements: MaxInstallments is zero")
	}
	if cfg.Agreements.InstallmentIntervalSec <= 0 {
		return fmt.Errorf("agreements: InstallmentIntervalSec <= 0")
	}
	if cfg.Agreements.GracePeriodSec < 0 || cfg.Agreements.WriteOffPeriodSec < 0 {
		return fmt.Errorf("agreements: negative period")
	}
	if cfg.Agreements.PenaltyCapBps > 10_000 {
		return fmt.Errorf("agreements: PenaltyCapBps > 10000")
	}
	if cfg.Score.TrustedSigner != "" {
		if _, err := cfg.TrustedSignerAddress(); err != nil {
			return fmt.Errorf("score: %w", err)
		}
	}
	for _, list := range [][]string{cfg.Roles.Admins, cfg.Roles.RegistryUpdaters, cfg.Roles.FactoryCreators} {
		for _, encoded := range list {
			if _, err := decodeAddress(encoded); err != nil {
				return fmt.Errorf("roles: %w", err)
			}
		}
	}
	return nil
}

func parseAmount(encoded string) (*big.Int, error) {
	trimmed := strings.TrimSpace(encoded)
	if trimmed == "" {
		return nil, fmt.Errorf("amount must not be empty")
	}
	value, ok := new(big.Int).SetString(trimmed, 10)
	if !ok || value.Sign() < 0 {
		return nil, fmt.Errorf("invalid amount %q", encoded)
	}
	return value, nil
}

func decodeAddress(encoded string) ([20]byte, error) {
	addr, err := crypto.DecodeAddress(strings.TrimSpace(encoded))
	if err != nil {
		return [20]byte{}, err
	}
	var out [20]byte
	copy(out[:], addr.Bytes())
	return out, nil
}

// TrustedSignerAddress decodes the configured attestation signer address.
func (cfg *Config) TrustedSignerAddress() ([20]byte, error) {
	return decodeAddress(cfg.Score.TrustedSigner)
}

// TierLimit parses one tier's base limit into a runtime amount.
func (t TierConfig) TierLimit() (*big.Int, error) {
	return parseAmount(t.BaseLimit)
}

// RoleMembers decodes one role list into runtime addresses.
func RoleMembers(list []string) ([][20]byte, error) {
	out := make([][20]byte, 0, len(list))
	for _, encoded := range list {
		addr, err := decodeAddress(encoded)
		if err != nil {
			return nil, err
		}
		out = append(out, addr)
	}
	return out, nil
}
