package secrets

import (
	"fmt"
	"os"
	"strings"
)

// Source describes where a secret may come from. Sources are tried in the
// order File, Value, Env.
type Source struct {
	// Name is used in error messages to give more context about the secret.
	Name string
	// File points to a file containing the secret. A configured but unreadable
	// or empty file is an error and never falls through.
	File string
	// Value is an inline secret value provided via configuration or flags.
	Value string
	// Env names an environment variable consulted last.
	Env string
}

// Load returns the trimmed secret from the first configured location.
func Load(src Source) (string, error) {
	name := strings.TrimSpace(src.Name)
	if name == "" {
		name = "secret"
	}

	if file := strings.TrimSpace(src.File); file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return "", fmt.Errorf("reading %s from file %q: %w", name, file, err)
		}
		secret := strings.TrimSpace(string(data))
		if secret == "" {
			return "", fmt.Errorf("%s file %q is empty", name, file)
		}
		return secret, nil
	}

	if secret := strings.TrimSpace(src.Value); secret != "" {
		return secret, nil
	}

	if env := strings.TrimSpace(src.Env); env != "" {
		if secret := strings.TrimSpace(os.Getenv(env)); secret != "" {
			return secret, nil
		}
		return "", fmt.Errorf("%s is not configured (set %s)", name, env)
	}

	return "", fmt.Errorf("%s is not configured", name)
}
