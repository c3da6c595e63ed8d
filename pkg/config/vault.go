package config

import (
	"os"

	vault "github.com/hashicorp/vault-client-go"
	"go.uber.org/fx"
)

// VaultModule provides a vault client when VAULT_ADDR is present in the
// environment. LoadConfig picks it up as an optional dependency.
var VaultModule = fx.Module("vault", fx.Provide(ProvideVault))

func ProvideVault() (*vault.Client, error) {
	if os.Getenv("VAULT_ADDR") == "" {
		return nil, nil
	}

	return vault.New(
		vault.WithEnvironment(),
	)
}
