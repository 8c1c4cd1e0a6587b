package reconcile

import (
	_ "embed"
	"fmt"
	"os"

	"github.com/BurntSushi/toml"

	"github.com/postfiatorg/validator-history-service/internal/keys"
)

//go:embed fallback.toml
var defaultFallback []byte

type fallbackFile struct {
	Domains map[string]string `toml:"domains"`
}

// LoadFallback reads the fallback table from path, or the built-in table
// when path is empty. Master keys must be valid node public keys.
func LoadFallback(path string) (map[string]string, error) {
	data := defaultFallback
	if path != "" {
		var err error
		if data, err = os.ReadFile(path); err != nil {
			return nil, fmt.Errorf("read fallback table: %w", err)
		}
	}
	return ParseFallback(data)
}

// ParseFallback decodes a TOML fallback table:
//
//	[domains]
//	nHB... = "validator.example"
func ParseFallback(data []byte) (map[string]string, error) {
	var f fallbackFile
	if _, err := toml.Decode(string(data), &f); err != nil {
		return nil, fmt.Errorf("parse fallback table: %w", err)
	}
	out := make(map[string]string, len(f.Domains))
	for key, domain := range f.Domains {
		if _, err := keys.DecodeNodePublic(key); err != nil {
			return nil, fmt.Errorf("fallback table: master key %q: %w", key, err)
		}
		if domain == "" {
			return nil, fmt.Errorf("fallback table: empty domain for %s", key)
		}
		out[key] = domain
	}
	return out, nil
}
