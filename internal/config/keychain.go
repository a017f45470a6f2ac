package config

import "strings"

const (
	keychainService  = "sqldraft"
	geminiKeyAccount = "gemini_api_key"
	apiTokenAccount  = "api_token"
)

// SecretStore reads and writes secrets in the platform secret store.
type SecretStore interface {
	SecretReader
	Set(service, account, value string) error
}

// Keychain is the platform secret store: macOS Keychain on darwin, a 0600
// JSON file under XDG_DATA_HOME elsewhere.
type Keychain struct{}

func NewKeychain() Keychain { return Keychain{} }

func (Keychain) Get(service, account string) (string, error) {
	out, err := keychainGet(service, account)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

func (Keychain) Set(service, account, value string) error {
	return keychainSet(service, account, value)
}

// SetGeminiKey stores the Gemini API key in the secret store.
func SetGeminiKey(kc SecretStore, key string) error {
	return kc.Set(keychainService, geminiKeyAccount, strings.TrimSpace(key))
}
