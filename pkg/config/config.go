// Package config loads binary configuration from the environment.
//
// Settings are declared on plain structs with `env` tags (defaults included)
// and `validate` tags. Load reads an optional .env file first; variables
// already present in the environment win over the file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	env "github.com/Netflix/go-env"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Load fills dst from the environment after loading the given dotenv files
// (".env" when none are given), then validates it. Missing dotenv files are
// ignored.
func Load(dst any, files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("config: load %s: %w", f, err)
		}
	}
	if _, err := env.UnmarshalFromEnviron(dst); err != nil {
		return fmt.Errorf("config: environment: %w", err)
	}
	return Validate(dst)
}

// Defaults fills dst with the defaults declared in its env tags only.
func Defaults(dst any) error {
	if err := env.Unmarshal(env.EnvSet{}, dst); err != nil {
		return fmt.Errorf("config: defaults: %w", err)
	}
	return nil
}

// Validate checks the validate tags of v and reports every failing field.
func Validate(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("config: %w", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s must satisfy %s=%s (got %v)", fe.Field(), fe.Tag(), fe.Param(), fe.Value()))
		} else {
			msgs = append(msgs, fmt.Sprintf("%s must satisfy %s (got %v)", fe.Field(), fe.Tag(), fe.Value()))
		}
	}
	return fmt.Errorf("config: invalid settings: %s", strings.Join(msgs, "; "))
}

// ProjectByte returns the single byte of a key project setting such as "A".
func ProjectByte(project string) (byte, error) {
	if len(project) != 1 {
		return 0, fmt.Errorf("config: key project must be a single byte, got %q", project)
	}
	return project[0], nil
}
