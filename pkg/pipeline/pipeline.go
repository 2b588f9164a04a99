// Package pipeline implements §4.C Execution Pipeline: running exactly
// one discovered test and producing one model.TestResult. Panic
// recovery around the three external collaborator calls (case runner,
// agent, validator) is grounded on pkg/mcp/recovery.go's classification
// of operation failures into retry/no-retry buckets — here simplified
// to "any panic or error becomes errorType=unexpected" since the
// pipeline has no retry concept.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/riverbend-labs/agentcheck/pkg/agentio"
	"github.com/riverbend-labs/agentcheck/pkg/history"
	"github.com/riverbend-labs/agentcheck/pkg/model"
)

// Runner executes one TestDescriptor end to end.
type Runner struct {
	caseRunner agentio.CaseRunner
	agent      agentio.Agent
	validator  agentio.Validator
	history    *history.Store
}

// NewRunner builds a Runner from its three external collaborators plus
// the history store results are appended to.
func NewRunner(caseRunner agentio.CaseRunner, agent agentio.Agent, validator agentio.Validator, store *history.Store) *Runner {
	return &Runner{caseRunner: caseRunner, agent: agent, validator: validator, history: store}
}

// Run executes desc and returns the resulting TestResult. Run never
// returns an error: any failure in the underlying collaborators is
// captured as an unexpected-classified TestResult instead, per §4.C
// ("the pipeline itself never propagates exceptions to the Job
// Manager").
func (r *Runner) Run(ctx context.Context, desc model.TestDescriptor) model.TestResult {
	start := time.Now()
	result := model.TestResult{
		QualifiedName: desc.QualifiedName,
		Module:        desc.Module,
		Name:          desc.Name,
	}

	caseSpec, err := r.runCase(ctx, desc)
	if err != nil {
		result = r.finish(result, start, false, model.ErrorTypeUnexpected, err.Error(), nil, nil)
		return result
	}
	result.Prompt = caseSpec.Prompt
	result.Expectations = caseSpec.Expectations
	result.ExpectedToolCalls = caseSpec.ExpectedToolCalls

	response, err := r.queryAgent(ctx, caseSpec.Prompt)
	if err != nil {
		result = r.finish(result, start, false, model.ErrorTypeUnexpected, err.Error(), nil, nil)
		return result
	}
	result.Response = response

	observed := observedToolCalls(response)
	if missing := missingFromMultiset(caseSpec.ExpectedToolCalls, observed); len(missing) > 0 {
		result = r.finish(result, start, false, model.ErrorTypeToolCall,
			fmt.Sprintf("expected tool calls not observed: %v", missing), nil, nil)
		return result
	}

	verdict, err := r.judge(ctx, response, caseSpec.Expectations)
	if err != nil {
		result = r.finish(result, start, false, model.ErrorTypeUnexpected, err.Error(), nil, nil)
		return result
	}

	if len(verdict.Unmet) > 0 {
		result = r.finish(result, start, false, model.ErrorTypeExpectation, "", verdict.Unmet, verdict.FailureReasons)
		return result
	}
	if !verdict.Success {
		result = r.finish(result, start, false, model.ErrorTypeValidation, verdict.Reasoning, nil, verdict.FailureReasons)
		return result
	}

	result = r.finish(result, start, true, "", "", nil, nil)
	return result
}

// runCase recovers from a panicking CaseRunner and treats a test that
// emits no case as an unexpected failure. The CaseRunner interface
// carries at most one CaseSpec, so a test that emits several cases is
// not detected here.
func (r *Runner) runCase(ctx context.Context, desc model.TestDescriptor) (spec *model.CaseSpec, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic running test: %v", p)
		}
	}()
	spec, err = r.caseRunner.RunCase(ctx, desc)
	if err != nil {
		return nil, err
	}
	if spec == nil {
		return nil, fmt.Errorf("no case emitted")
	}
	return spec, nil
}

func (r *Runner) queryAgent(ctx context.Context, prompt string) (resp *model.AgentResponse, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic invoking agent: %v", p)
		}
	}()
	return r.agent.Query(ctx, prompt)
}

func (r *Runner) judge(ctx context.Context, resp *model.AgentResponse, expectations []string) (v *model.ValidationVerdict, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic in validator: %v", p)
		}
	}()
	return r.validator.Judge(ctx, resp, expectations)
}

// finish assembles the final TestResult, sums token usage, stops the
// timer, and appends to history. Append failures are logged via the
// returned result's own error text only if the primary classification
// succeeded cleanly — a history write failure never overrides a real
// test outcome.
func (r *Runner) finish(result model.TestResult, start time.Time, passed bool, errType model.ErrorType, errText string, unmet []string, failureReasons map[string]string) model.TestResult {
	result.Passed = passed
	result.ErrorType = errType
	result.ErrorText = errText
	result.Unmet = unmet
	result.FailureReasons = failureReasons
	result.DurationSeconds = time.Since(start).Seconds()
	result.TotalTokens = sumTokens(result.Response)
	result.CompletedAt = time.Now()

	if err := r.history.Append(result); err != nil && passed {
		result.ErrorText = fmt.Sprintf("append to history: %v", err)
	}
	return result
}

func sumTokens(resp *model.AgentResponse) int {
	if resp == nil {
		return 0
	}
	total := 0
	for _, m := range resp.Messages {
		if m.TokenUsage != nil {
			total += m.TokenUsage.Total
		}
	}
	return total
}

func observedToolCalls(resp *model.AgentResponse) []string {
	if resp == nil {
		return nil
	}
	var out []string
	for _, m := range resp.Messages {
		for _, tc := range m.ToolCalls {
			out = append(out, tc.Name)
		}
	}
	return out
}

// missingFromMultiset returns the expected names whose count exceeds
// their observed count — i.e. the expected multiset is not a
// sub-multiset of observed, per §4.C step 4. Extra observed calls are
// not an error.
func missingFromMultiset(expected, observed []string) []string {
	counts := make(map[string]int, len(observed))
	for _, o := range observed {
		counts[o]++
	}
	var missing []string
	for _, e := range expected {
		if counts[e] > 0 {
			counts[e]--
			continue
		}
		missing = append(missing, e)
	}
	return missing
}
