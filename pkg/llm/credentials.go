// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package llm

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/zalando/go-keyring"
)

// KeyringService is the OS keyring service name used for keyring: references.
const KeyringService = "switchyard"

const (
	envPrefix     = "env:"
	keyringPrefix = "keyring:"
)

// ErrSecretNotFound is returned when a secret reference resolves to nothing.
var ErrSecretNotFound = errors.New("secret not found")

// ResolveSecret expands an API key reference. "env:NAME" reads the
// environment, "keyring:NAME" reads the OS keyring, and anything else is
// returned verbatim. An empty ref resolves to "".
func ResolveSecret(ref string) (string, error) {
	switch {
	case ref == "":
		return "", nil
	case strings.HasPrefix(ref, envPrefix):
		name := strings.TrimPrefix(ref, envPrefix)
		v, ok := os.LookupEnv(name)
		if !ok || v == "" {
			return "", fmt.Errorf("%w: environment variable %s is not set", ErrSecretNotFound, name)
		}
		return v, nil
	case strings.HasPrefix(ref, keyringPrefix):
		name := strings.TrimPrefix(ref, keyringPrefix)
		v, err := keyring.Get(KeyringService, name)
		if errors.Is(err, keyring.ErrNotFound) {
			return "", fmt.Errorf("%w: keyring entry %s/%s", ErrSecretNotFound, KeyringService, name)
		}
		if err != nil {
			return "", fmt.Errorf("failed to read keyring entry %s: %w", name, err)
		}
		return v, nil
	default:
		return ref, nil
	}
}

// maskSecret shows the first and last four characters of long secrets.
func maskSecret(secret string) string {
	if len(secret) <= 8 {
		return strings.Repeat("*", len(secret))
	}
	return secret[:4] + strings.Repeat("*", len(secret)-8) + secret[len(secret)-4:]
}
