package params

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"

	"github.com/0xProject/0x-coordinator-server/pkg/crypto"
	"github.com/0xProject/0x-coordinator-server/pkg/zeroex"
)

// FeeRecipient is one coordinator identity: orders naming this address as
// fee recipient are in scope, and PrivateKey signs their approvals.
type FeeRecipient struct {
	Address    common.Address
	PrivateKey string
}

// ChainSettings configures one supported chain.
type ChainSettings struct {
	FeeRecipients []FeeRecipient
	// RPCURL points at the chain's JSON-RPC endpoint. Empty runs the chain
	// without on-chain oracles: market fills are unconstrained by chain state
	// and contract-backed signatures cannot be verified.
	RPCURL string
	// ContractAddresses overrides the canonical deployment. Required for
	// chains without a default in zeroex.AddressesForChainID.
	ContractAddresses *zeroex.ContractAddresses
}

type Config struct {
	// HTTPPort is the TCP port the request surface binds, in [0, 65535].
	HTTPPort int
	// SelectiveDelay is the pause between accepting a fill request and
	// issuing its approval, during which a maker soft-cancel still wins.
	SelectiveDelay time.Duration
	// ExpirationDuration is how long fill approvals stay valid.
	ExpirationDuration time.Duration
	// Chains maps chain id to its settings.
	Chains map[int64]ChainSettings
	// TakerContractWhitelist lists smart-contract takers whose fill history
	// is aggregated per tx origin instead of per taker.
	TakerContractWhitelist []common.Address

	// DatabasePath holds the Pebble database directory.
	DatabasePath string
	// LogFile tees logs to a file when non-empty.
	LogFile string
	// AllowedOrigins feeds the CORS layer; empty allows all.
	AllowedOrigins []string
}

func Default() Config {
	return Config{
		HTTPPort:           3000,
		SelectiveDelay:     1000 * time.Millisecond,
		ExpirationDuration: 90 * time.Second,
		Chains:             map[int64]ChainSettings{},
		DatabasePath:       "data/coordinator_db",
	}
}

// chainSettingsJSON is the CHAIN_ID_TO_SETTINGS wire shape:
//
//	{"1337": {"FEE_RECIPIENTS": [{"ADDRESS": "0x..", "PRIVATE_KEY": ".."}],
//	          "RPC_URL": "http://localhost:8545",
//	          "CONTRACT_ADDRESSES": {"exchange": "0x..", ...}}}
type chainSettingsJSON struct {
	FeeRecipients     []feeRecipientJSON        `json:"FEE_RECIPIENTS"`
	RPCURL            string                    `json:"RPC_URL"`
	ContractAddresses *zeroex.ContractAddresses `json:"CONTRACT_ADDRESSES"`
}

type feeRecipientJSON struct {
	Address    string `json:"ADDRESS"`
	PrivateKey string `json:"PRIVATE_KEY"`
}

// LoadFromEnv loads configuration from a .env file (if present) and
// environment variables. Priority: ENV > .env file > defaults. Values here
// feed key management and approval policy, so parsing is strict and
// malformed input is an error rather than a silent fallback.
func LoadFromEnv(envPath string) (Config, error) {
	cfg := Default()

	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	var err error
	if cfg.HTTPPort, err = intFromEnv("HTTP_PORT", cfg.HTTPPort); err != nil {
		return cfg, err
	}
	if cfg.SelectiveDelay, err = durationFromEnv("SELECTIVE_DELAY_MS", time.Millisecond, cfg.SelectiveDelay); err != nil {
		return cfg, err
	}
	if cfg.ExpirationDuration, err = durationFromEnv("EXPIRATION_DURATION_SECONDS", time.Second, cfg.ExpirationDuration); err != nil {
		return cfg, err
	}

	if raw := os.Getenv("CHAIN_ID_TO_SETTINGS"); raw != "" {
		parsed := map[string]chainSettingsJSON{}
		if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
			return cfg, fmt.Errorf("failed to parse CHAIN_ID_TO_SETTINGS: %w", err)
		}
		cfg.Chains = make(map[int64]ChainSettings, len(parsed))
		for key, settings := range parsed {
			chainID, err := strconv.ParseInt(key, 10, 64)
			if err != nil {
				return cfg, fmt.Errorf("CHAIN_ID_TO_SETTINGS key %q is not a chain id", key)
			}
			recipients := make([]FeeRecipient, len(settings.FeeRecipients))
			for i, r := range settings.FeeRecipients {
				if !common.IsHexAddress(r.Address) {
					return cfg, fmt.Errorf("chain %d fee recipient %q is not a valid address", chainID, r.Address)
				}
				recipients[i] = FeeRecipient{
					Address:    common.HexToAddress(r.Address),
					PrivateKey: r.PrivateKey,
				}
			}
			cfg.Chains[chainID] = ChainSettings{
				FeeRecipients:     recipients,
				RPCURL:            settings.RPCURL,
				ContractAddresses: settings.ContractAddresses,
			}
		}
	}

	if raw := os.Getenv("TAKER_CONTRACT_WHITELIST"); raw != "" {
		var entries []string
		if err := json.Unmarshal([]byte(raw), &entries); err != nil {
			return cfg, fmt.Errorf("failed to parse TAKER_CONTRACT_WHITELIST: %w", err)
		}
		cfg.TakerContractWhitelist = make([]common.Address, len(entries))
		for i, entry := range entries {
			if !common.IsHexAddress(entry) {
				return cfg, fmt.Errorf("TAKER_CONTRACT_WHITELIST entry %q is not a valid address", entry)
			}
			cfg.TakerContractWhitelist[i] = common.HexToAddress(entry)
		}
	}

	if path := os.Getenv("DB_PATH"); path != "" {
		cfg.DatabasePath = path
	}
	cfg.LogFile = os.Getenv("LOG_FILE")
	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		var parsed []string
		if err := json.Unmarshal([]byte(origins), &parsed); err != nil {
			return cfg, fmt.Errorf("failed to parse ALLOWED_ORIGINS: %w", err)
		}
		cfg.AllowedOrigins = parsed
	}

	return cfg, nil
}

// Validate checks the semantic constraints configuration must satisfy before
// the server may start.
func (c Config) Validate() error {
	if c.HTTPPort < 0 || c.HTTPPort > 65535 {
		return fmt.Errorf("HTTP_PORT %d outside [0, 65535]", c.HTTPPort)
	}
	if c.SelectiveDelay < 0 {
		return fmt.Errorf("SELECTIVE_DELAY_MS must not be negative, got %s", c.SelectiveDelay)
	}
	if c.ExpirationDuration <= 0 {
		return fmt.Errorf("EXPIRATION_DURATION_SECONDS must be positive, got %s", c.ExpirationDuration)
	}
	if len(c.Chains) == 0 {
		return fmt.Errorf("CHAIN_ID_TO_SETTINGS configures no chains")
	}
	for chainID, settings := range c.Chains {
		if len(settings.FeeRecipients) == 0 {
			return fmt.Errorf("chain %d has no fee recipients", chainID)
		}
		for _, recipient := range settings.FeeRecipients {
			signer, err := crypto.FromPrivateKeyHex(recipient.PrivateKey)
			if err != nil {
				return fmt.Errorf("chain %d fee recipient %s: %w", chainID, recipient.Address.Hex(), err)
			}
			if signer.Address() != recipient.Address {
				return fmt.Errorf("chain %d fee recipient %s does not match its private key (derives %s)",
					chainID, recipient.Address.Hex(), signer.Address().Hex())
			}
		}
		if settings.ContractAddresses == nil {
			if _, err := zeroex.AddressesForChainID(chainID); err != nil {
				return fmt.Errorf("chain %d needs CONTRACT_ADDRESSES: %w", chainID, err)
			}
		}
	}
	return nil
}

// Addresses resolves the contract addresses for a configured chain,
// preferring the explicit override.
func (s ChainSettings) Addresses(chainID int64) (zeroex.ContractAddresses, error) {
	if s.ContractAddresses != nil {
		return *s.ContractAddresses, nil
	}
	return zeroex.AddressesForChainID(chainID)
}

func intFromEnv(key string, fallback int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback, fmt.Errorf("%s must be an integer, got %q", key, raw)
	}
	return value, nil
}

func durationFromEnv(key string, unit time.Duration, fallback time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback, fmt.Errorf("%s must be an integer, got %q", key, raw)
	}
	return time.Duration(value) * unit, nil
}
