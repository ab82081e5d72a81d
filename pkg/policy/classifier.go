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

package policy

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	syerrors "github.com/tombee/switchyard/pkg/errors"
)

// DefaultTaskType is returned when no classification rule matches.
const DefaultTaskType = "general"

// Classifier maps a free-text task description to a task type.
type Classifier interface {
	Classify(task string) string
}

// KeywordRule assigns TaskType when any keyword appears in the task.
type KeywordRule struct {
	TaskType string
	Keywords []string
}

// KeywordClassifier matches lowercase keywords in rule order.
type KeywordClassifier struct {
	Rules    []KeywordRule
	Fallback string
}

// DefaultKeywordRules is the built-in heuristic.
var DefaultKeywordRules = []KeywordRule{
	{TaskType: "code", Keywords: []string{"code", "function", "bug", "debug", "refactor", "compile", "stack trace", "unit test"}},
	{TaskType: "summarization", Keywords: []string{"summarize", "summarise", "summary", "tl;dr"}},
	{TaskType: "translation", Keywords: []string{"translate", "translation"}},
	{TaskType: "analysis", Keywords: []string{"analyze", "analyse", "analysis", "compare", "evaluate"}},
}

// NewKeywordClassifier returns a classifier using rules, or the defaults
// when rules is empty.
func NewKeywordClassifier(rules []KeywordRule, fallback string) *KeywordClassifier {
	if len(rules) == 0 {
		rules = DefaultKeywordRules
	}
	if fallback == "" {
		fallback = DefaultTaskType
	}
	return &KeywordClassifier{Rules: rules, Fallback: fallback}
}

// Classify implements Classifier.
func (c *KeywordClassifier) Classify(task string) string {
	lower := strings.ToLower(task)
	for _, rule := range c.Rules {
		for _, kw := range rule.Keywords {
			if kw != "" && strings.Contains(lower, strings.ToLower(kw)) {
				return rule.TaskType
			}
		}
	}
	if c.Fallback == "" {
		return DefaultTaskType
	}
	return c.Fallback
}

// ExprRule assigns TaskType when Expr evaluates to true. Expressions see
// task (raw text), lower (lowercased), words and length.
//
//	lower contains "sql" or words > 400
type ExprRule struct {
	TaskType string
	Expr     string
}

type compiledRule struct {
	taskType string
	program  *vm.Program
}

// ExprClassifier evaluates compiled expr rules in order and defers to
// next when none match.
type ExprClassifier struct {
	rules []compiledRule
	next  Classifier
}

// NewExprClassifier compiles every rule up front. next handles tasks no
// rule matches and defaults to a KeywordClassifier.
func NewExprClassifier(rules []ExprRule, next Classifier) (*ExprClassifier, error) {
	if next == nil {
		next = NewKeywordClassifier(nil, "")
	}
	c := &ExprClassifier{next: next}
	for i, rule := range rules {
		prog, err := expr.Compile(rule.Expr, expr.Env(exprEnv("")), expr.AsBool())
		if err != nil {
			return nil, &syerrors.ValidationError{
				Field:      fmt.Sprintf("classifier.rules[%d].expr", i),
				Message:    fmt.Sprintf("failed to compile expression: %s", err.Error()),
				Suggestion: "expressions must return a boolean and may use task, lower, words and length",
			}
		}
		c.rules = append(c.rules, compiledRule{taskType: rule.TaskType, program: prog})
	}
	return c, nil
}

// Classify implements Classifier. Rules that fail at runtime are skipped.
func (c *ExprClassifier) Classify(task string) string {
	env := exprEnv(task)
	for _, rule := range c.rules {
		out, err := expr.Run(rule.program, env)
		if err != nil {
			continue
		}
		if matched, ok := out.(bool); ok && matched {
			return rule.taskType
		}
	}
	return c.next.Classify(task)
}

// KeywordExpr renders a keyword rule as an expression so keyword and
// expression rules can share one ordered list.
func KeywordExpr(keywords []string) string {
	parts := make([]string, 0, len(keywords))
	for _, kw := range keywords {
		if kw == "" {
			continue
		}
		parts = append(parts, "lower contains "+strconv.Quote(strings.ToLower(kw)))
	}
	if len(parts) == 0 {
		return "false"
	}
	return strings.Join(parts, " or ")
}

func exprEnv(task string) map[string]any {
	return map[string]any{
		"task":   task,
		"lower":  strings.ToLower(task),
		"words":  len(strings.Fields(task)),
		"length": len(task),
	}
}
