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


package prefs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseModelPrefs(t *testing.T) {
	got, err := ParseModelPrefs([]string{"openai:code=gpt-4o", "openai:general=gpt-4o-mini", "gemini:code=pro"})
	require.NoError(t, err)
	assert.Equal(t, map[string]map[string]string{
		"openai": {"code": "gpt-4o", "general": "gpt-4o-mini"},
		"gemini": {"code": "pro"},
	}, got)

	for _, bad := range []string{"openai", "openai=gpt", ":code=gpt", "openai:=gpt", "openai:code="} {
		_, err := ParseModelPrefs([]string{bad})
		assert.Error(t, err, bad)
	}
}

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, splitList(" a, ,b "))
	assert.Equal(t, []string{}, splitList(""))
}
