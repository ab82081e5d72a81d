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

package providers

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	"github.com/tombee/switchyard/pkg/errors"
	"github.com/tombee/switchyard/pkg/llm"
)

const (
	bedrockDefaultRegion = "us-east-1"
	bedrockDefaultModel  = "anthropic.claude-3-5-sonnet-20240620-v1:0"
	bedrockMaxTokens     = 1024
)

// BedrockAPI is the subset of the bedrockruntime client the adapter uses.
type BedrockAPI interface {
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

// Bedrock invokes models through AWS Bedrock with the default credential
// chain. Request and response bodies follow the model family.
type Bedrock struct {
	id, model string
	client    BedrockAPI
}

// NewBedrock is the bedrock Factory. Settings.Region defaults to us-east-1.
func NewBedrock(s llm.Settings) (llm.Adapter, error) {
	region := s.Region
	if region == "" {
		region = bedrockDefaultRegion
	}
	awsCfg, err := config.LoadDefaultConfig(context.Background(), config.WithRegion(region))
	if err != nil {
		return nil, &errors.ConfigError{
			Key:    "providers." + s.ID + ".region",
			Reason: fmt.Sprintf("failed to load AWS config (region: %s)", region),
			Cause:  err,
		}
	}
	return NewBedrockWithClient(s.ID, pickModel(s.Model, bedrockDefaultModel), bedrockruntime.NewFromConfig(awsCfg)), nil
}

// NewBedrockWithClient builds the adapter around an existing client.
func NewBedrockWithClient(id, model string, client BedrockAPI) *Bedrock {
	return &Bedrock{id: id, model: pickModel(model, bedrockDefaultModel), client: client}
}

// Name implements llm.Adapter.
func (p *Bedrock) Name() string { return p.id }

// Invoke implements llm.Adapter.
func (p *Bedrock) Invoke(ctx context.Context, prompt, model string) (*llm.Response, error) {
	model = pickModel(model, p.model)

	body, err := json.Marshal(bedrockRequestBody(prompt, model))
	if err != nil {
		return nil, &errors.ProviderError{Provider: p.id, Model: model, Message: "failed to marshal request", Cause: err}
	}

	out, err := p.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(model),
		Body:        body,
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
	})
	if err != nil {
		pe := &errors.ProviderError{Provider: p.id, Model: model, Message: "bedrock invoke failed", Cause: err}
		var re *awshttp.ResponseError
		if stderrors.As(err, &re) {
			pe.StatusCode = re.HTTPStatusCode()
			pe.RequestID = re.ServiceRequestID()
		}
		return nil, pe
	}

	text, err := bedrockText(out.Body, model)
	if err != nil {
		return nil, &errors.ProviderError{Provider: p.id, Model: model, Message: "failed to parse response", Cause: err}
	}
	return &llm.Response{Text: text, Raw: out.Body, Model: model}, nil
}

func bedrockFamily(model string) string {
	// Cross-region inference profiles prefix the family with a geography.
	for _, geo := range []string{"us.", "eu.", "apac."} {
		model = strings.TrimPrefix(model, geo)
	}
	family, _, _ := strings.Cut(model, ".")
	return family
}

func bedrockRequestBody(prompt, model string) map[string]any {
	switch bedrockFamily(model) {
	case "amazon":
		return map[string]any{
			"inputText":            prompt,
			"textGenerationConfig": map[string]any{"maxTokenCount": bedrockMaxTokens},
		}
	case "meta":
		return map[string]any{"prompt": prompt, "max_gen_len": bedrockMaxTokens}
	default:
		return map[string]any{
			"anthropic_version": "bedrock-2023-05-31",
			"max_tokens":        bedrockMaxTokens,
			"messages":          []map[string]string{{"role": "user", "content": prompt}},
		}
	}
}

func bedrockText(body []byte, model string) (string, error) {
	switch bedrockFamily(model) {
	case "amazon":
		var out struct {
			Results []struct {
				OutputText string `json:"outputText"`
			} `json:"results"`
		}
		if err := json.Unmarshal(body, &out); err != nil {
			return "", err
		}
		if len(out.Results) == 0 {
			return "", nil
		}
		return out.Results[0].OutputText, nil
	case "meta":
		var out struct {
			Generation string `json:"generation"`
		}
		err := json.Unmarshal(body, &out)
		return out.Generation, err
	default:
		var out anthropicResponse
		if err := json.Unmarshal(body, &out); err != nil {
			return "", err
		}
		return joinAnthropicText(out), nil
	}
}
