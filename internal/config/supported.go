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

package config

import "slices"

// SupportedProviderTypes lists the adapter types a provider entry may use.
var SupportedProviderTypes = []string{
	"openai",
	"anthropic",
	"gemini",
	"ollama",
	"bedrock",
	"http",
	"echo",
}

// IsSupportedProvider returns true if the given provider type has an adapter.
func IsSupportedProvider(providerType string) bool {
	return slices.Contains(SupportedProviderTypes, providerType)
}
