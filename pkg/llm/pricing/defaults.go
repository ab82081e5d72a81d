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

package pricing

// Defaults returns the built-in blended prices per 1K tokens. Operators
// override them with a pricing file or a live feed.
func Defaults() Snapshot {
	return Snapshot{
		"openai": {
			"gpt-4":       0.03,
			"gpt-4-turbo": 0.01,
			"gpt-4o":      0.005,
			"gpt-4o-mini": 0.00015,
		},
		"gemini": {
			"ultra":            0.0125,
			"gemini-1.5-pro":   0.00125,
			"gemini-1.5-flash": 0.000075,
		},
		"anthropic": {
			"claude-3-opus-20240229":     0.015,
			"claude-3-5-sonnet-20241022": 0.003,
			"claude-3-5-haiku-20241022":  0.0008,
		},
		"bedrock": {
			"anthropic.claude-3-5-sonnet-20240620-v1:0": 0.003,
			"amazon.titan-text-express-v1":              0.0002,
		},
		"ollama": {
			"llama3.2": 0,
		},
	}
}
