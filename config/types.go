package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/holiman/uint256"

	"rampledger/crypto"
)

// Telemetry configures OTLP export. Endpoint is host:port of the collector.
type Telemetry struct {
	Endpoint string `toml:"Endpoint" yaml:"Endpoint"`
	Insecure bool   `toml:"Insecure" yaml:"Insecure"`
	Headers  string `toml:"Headers" yaml:"Headers"`
	Traces   bool   `toml:"Traces" yaml:"Traces"`
	Metrics  bool   `toml:"Metrics" yaml:"Metrics"`
}

// RPCAuth gates the submission endpoint behind HS256 bearer tokens. The
// shared secret is never stored in the file; SecretEnv names the environment
// variable holding it. Auth is disabled when SecretEnv is empty.
type RPCAuth struct {
	SecretEnv string `toml:"SecretEnv" yaml:"SecretEnv"`
	Issuer    string `toml:"Issuer" yaml:"Issuer"`
	Audience  string `toml:"Audience" yaml:"Audience"`
}

// Enabled reports whether bearer authentication is configured.
func (a RPCAuth) Enabled() bool { return strings.TrimSpace(a.SecretEnv) != "" }

// Secret resolves the signing secret from the environment.
func (a RPCAuth) Secret() (string, error) {
	if !a.Enabled() {
		return "", nil
	}
	name := strings.TrimSpace(a.SecretEnv)
	secret := strings.TrimSpace(os.Getenv(name))
	if secret == "" {
		return "", fmt.Errorf("auth secret %s is not set", name)
	}
	return secret, nil
}

// GenesisEntry funds an account when the data directory is first created.
// An empty Asset funds the native currency; otherwise Name, when set, is
// registered as the asset's display name.
type GenesisEntry struct {
	Account string `toml:"Account" yaml:"Account"`
	Asset   string `toml:"Asset,omitempty" yaml:"Asset,omitempty"`
	Amount  string `toml:"Amount" yaml:"Amount"`
	Name    string `toml:"Name,omitempty" yaml:"Name,omitempty"`
}

// GenesisAllocation is a parsed GenesisEntry.
type GenesisAllocation struct {
	Account [32]byte
	Asset   [32]byte
	Native  bool
	Amount  *uint256.Int
	Name    string
}

// Parse validates the entry and converts it to runtime values.
func (g GenesisEntry) Parse() (GenesisAllocation, error) {
	var out GenesisAllocation
	account, err := crypto.ParseIdentity(g.Account)
	if err != nil {
		return out, fmt.Errorf("genesis account: %w", err)
	}
	out.Account = account
	if strings.TrimSpace(g.Asset) == "" {
		out.Native = true
	} else {
		asset, err := crypto.ParseIdentity(g.Asset)
		if err != nil {
			return out, fmt.Errorf("genesis asset: %w", err)
		}
		out.Asset = asset
	}
	amount, err := uint256.FromDecimal(strings.TrimSpace(g.Amount))
	if err != nil {
		return out, fmt.Errorf("genesis amount %q: %w", g.Amount, err)
	}
	if amount.IsZero() {
		return out, fmt.Errorf("genesis amount must be positive")
	}
	out.Amount = amount
	out.Name = strings.TrimSpace(g.Name)
	return out, nil
}

// GenesisAllocations parses every configured genesis entry.
func (c *Config) GenesisAllocations() ([]GenesisAllocation, error) {
	out := make([]GenesisAllocation, 0, len(c.Genesis))
	for i, entry := range c.Genesis {
		alloc, err := entry.Parse()
		if err != nil {
			return nil, fmt.Errorf("genesis entry %d: %w", i, err)
		}
		out = append(out, alloc)
	}
	return out, nil
}
