package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// SecretsDir - каталог Docker Secrets.
var SecretsDir = "/run/secrets"

// ReadSecret читает секрет из SecretsDir/<name>. Если файла нет, берется
// переменная окружения с именем в верхнем регистре (ai_api_key -> AI_API_KEY).
// Пустое значение считается отсутствием секрета.
func ReadSecret(name string) (string, error) {
	path := filepath.Join(SecretsDir, name)
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if secret := strings.TrimSpace(string(data)); secret != "" {
			return secret, nil
		}
		return "", fmt.Errorf("secret file %s is empty", path)
	case !errors.Is(err, fs.ErrNotExist):
		return "", fmt.Errorf("failed to read secret file %s: %w", path, err)
	}

	envName := strings.ToUpper(name)
	if secret := strings.TrimSpace(os.Getenv(envName)); secret != "" {
		return secret, nil
	}
	return "", fmt.Errorf("secret %q not found in %s or $%s", name, SecretsDir, envName)
}

// readOptionalSecret - как ReadSecret, но отсутствие секрета не ошибка.
func readOptionalSecret(name string) string {
	secret, err := ReadSecret(name)
	if err != nil {
		return ""
	}
	return secret
}
