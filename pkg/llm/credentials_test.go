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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"
)

func TestResolveSecret(t *testing.T) {
	keyring.MockInit()
	require.NoError(t, keyring.Set(KeyringService, "openai", "sk-from-keyring"))
	t.Setenv("SWITCHYARD_TEST_KEY", "sk-from-env")

	tests := []struct {
		ref     string
		want    string
		wantErr error
	}{
		{"", "", nil},
		{"sk-literal", "sk-literal", nil},
		{"env:SWITCHYARD_TEST_KEY", "sk-from-env", nil},
		{"env:SWITCHYARD_TEST_MISSING", "", ErrSecretNotFound},
		{"keyring:openai", "sk-from-keyring", nil},
		{"keyring:anthropic", "", ErrSecretNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.ref, func(t *testing.T) {
			got, err := ResolveSecret(tt.ref)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMaskSecret(t *testing.T) {
	assert.Equal(t, "", maskSecret(""))
	assert.Equal(t, "****", maskSecret("abcd"))
	assert.Equal(t, "abcd****wxyz", maskSecret("abcd1234wxyz"))
}
