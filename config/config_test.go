package config

import (
	"math/big"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"crediflow/crypto"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func testAddress(suffix byte) string {
	raw := make([]byte, 20)
	raw[len(raw)-1] = suffix
	return crypto.NewAddress(crypto.CFLPrefix, raw).String()
}

func TestLoadParsesFullConfig(t *testing.T) {
	admin := testAddress(0x01)
	creator := testAddress(0x02)
	signer := testAddress(0x03)
	path := writeConfig(t, `ListenAddress = "0.0.0.0:9000"
DataDir = "./data"

[score]
TrustedSigner = "`+signer+`"

[registry]
RiskFactorBps = 5000
PDWeightBps = 5000
UtilizationWeightBps = 1000
MinAPRBps = 500
MaxAPRBps = 6000

[[registry.tiers]]
MinScore = 700
BaseLimit = "50000"
BaseAPRBps = 1200
MaxUtilizationBps = 8000

[[registry.tiers]]
MinScore = 300
BaseLimit = "1000"
BaseAPRBps = 3600
MaxUtilizationBps = 5000

[pool]
SeniorRatioBps = 7000
SeniorFloorBps = 2000
ReserveRatioBps = 1000
MaxUtilizationBps = 9000

[agreements]
MaxInstallments = 24
MaxAPRBps = 6000
InstallmentIntervalSec = 2592000
GracePeriodSec = 259200
WriteOffPeriodSec = 7776000
PenaltyRateBps = 50
PenaltyCapBps = 2500

[roles]
Admins = ["`+admin+`"]
FactoryCreators = ["`+creator+`"]
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "0.0.0.0:9000", cfg.ListenAddress)
	require.Len(t, cfg.Registry.Tiers, 2)

	limit, err := cfg.Registry.Tiers[0].TierLimit()
	require.NoError(t, err)
	require.Zero(t, limit.Cmp(big.NewInt(50_000)))

	_, err = cfg.TrustedSignerAddress()
	require.NoError(t, err)

	admins, err := RoleMembers(cfg.Roles.Admins)
	require.NoError(t, err)
	require.Len(t, admins, 1)
	require.Equal(t, byte(0x01), admins[0][19])

	require.Equal(t, uint32(24), cfg.Agreements.MaxInstallments)
	require.Equal(t, int64(2_592_000), cfg.Agreements.InstallmentIntervalSec)
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `[pool]
SeniorRatioBps = 7000
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.ListenAddress)
	require.Equal(t, uint64(10_000), cfg.Pool.MaxUtilizationBps)
	require.Equal(t, uint64(2_000), cfg.Pool.SeniorFloorBps)
	require.Equal(t, int64(30*24*3600), cfg.Agreements.InstallmentIntervalSec)
}

func TestLoadCreatesDefaultFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	cfg, err := Load(path)
	require.NoError(t, err)

	_, err = os.Stat(path)
	require.NoError(t, err, "default file must be written")
	require.NoError(t, cfg.Validate())
	require.NotEmpty(t, cfg.Registry.Tiers)
}

func TestValidateRejections(t *testing.T) {
	cases := []struct {
		name     string
		contents string
	}{
		{
			name: "senior below floor",
			contents: `[pool]
SeniorRatioBps = 1500
SeniorFloorBps = 2000
`,
		},
		{
			name: "reserve over full",
			contents: `[pool]
SeniorRatioBps = 7000
ReserveRatioBps = 10001
`,
		},
		{
			name: "duplicate tier threshold",
			contents: `[pool]
SeniorRatioBps = 7000

[[registry.tiers]]
MinScore = 700
BaseLimit = "1"

[[registry.tiers]]
MinScore = 700
BaseLimit = "2"
`,
		},
		{
			name: "malformed tier limit",
			contents: `[pool]
SeniorRatioBps = 7000

[[registry.tiers]]
MinScore = 700
BaseLimit = "not-a-number"
`,
		},
		{
			name: "bad signer address",
			contents: `[pool]
SeniorRatioBps = 7000

[score]
TrustedSigner = "cfl1garbage"
`,
		},
		{
			name: "bad role address",
			contents: `[pool]
SeniorRatioBps = 7000

[roles]
Admins = ["nope"]
`,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := writeConfig(t, tc.contents)
			_, err := Load(path)
			require.Error(t, err)
		})
	}
}
