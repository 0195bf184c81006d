package drift

import (
	"fmt"
	"os"

	solana "github.com/gagliardetto/solana-go"
	"github.com/joho/godotenv"
)

// DefaultKeyEnv holds the base58 delegate secret key.
const DefaultKeyEnv = "DRIFT_DELEGATE_KEY_BASE58"

// LoadDelegateKey reads the delegate signer from env, loading .env first when present.
func LoadDelegateKey(envVar string) (solana.PrivateKey, error) {
	if envVar == "" {
		envVar = DefaultKeyEnv
	}
	_ = godotenv.Load() // best-effort
	b58 := os.Getenv(envVar)
	if b58 == "" {
		return nil, fmt.Errorf("%s not set", envVar)
	}
	key, err := solana.PrivateKeyFromBase58(b58)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", envVar, err)
	}
	return key, nil
}
