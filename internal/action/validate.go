// Package action implements the action execution subsystem: the validator
// chain, per-family executor strategies, the error classifier, and the retry
// policy.
package action

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/williamzujkowski/puppeteer-mcp-go/internal/types"
)

// ValidationResult is the outcome of one validator. Errors block execution,
// warnings do not.
type ValidationResult struct {
	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// Valid reports whether the result carries no errors.
func (r *ValidationResult) Valid() bool {
	return len(r.Errors) == 0
}

func (r *ValidationResult) errorf(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

func (r *ValidationResult) warnf(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

func (r *ValidationResult) merge(other *ValidationResult) {
	r.Errors = append(r.Errors, other.Errors...)
	r.Warnings = append(r.Warnings, other.Warnings...)
}

// Validator checks one aspect of an action.
type Validator interface {
	Name() string
	Validate(ctx context.Context, act *types.Action) *ValidationResult
}

// PipelineOptions tune one validation run.
type PipelineOptions struct {
	// StopOnFirstError aborts the chain when a validator reports errors.
	StopOnFirstError bool
	// SkipValidators lists validator names to skip for this run.
	SkipValidators []string
	// Timeout bounds the whole chain. Zero means no bound.
	Timeout time.Duration
	// Parallel runs validators concurrently. Order of the aggregate
	// follows registration order either way.
	Parallel bool
}

// Pipeline runs an ordered validator chain.
type Pipeline struct {
	validators []Validator
}

// NewPipeline builds the default chain for a deployment: a structural
// validator per family plus the security validator.
func NewPipeline(opts ValidatorConfig) *Pipeline {
	return &Pipeline{
		validators: []Validator{
			&structureValidator{},
			&navigationValidator{cfg: opts},
			&interactionValidator{},
			&waitValidator{},
			&contentValidator{},
			&evaluationValidator{},
			&securityValidator{},
		},
	}
}

// ValidatorConfig carries deployment limits into the chain.
type ValidatorConfig struct {
	AllowFileURLs bool
	BlockedHosts  []string
}

// Run executes the chain against the action and returns the aggregate.
func (p *Pipeline) Run(ctx context.Context, act *types.Action, opts PipelineOptions) *ValidationResult {
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	skip := make(map[string]bool, len(opts.SkipValidators))
	for _, name := range opts.SkipValidators {
		skip[name] = true
	}

	if opts.Parallel {
		return p.runParallel(ctx, act, skip)
	}

	agg := &ValidationResult{}
	for _, v := range p.validators {
		if skip[v.Name()] {
			continue
		}
		select {
		case <-ctx.Done():
			agg.errorf("validation timed out in %s", v.Name())
			return agg
		default:
		}
		res := v.Validate(ctx, act)
		agg.merge(res)
		if opts.StopOnFirstError && len(res.Errors) > 0 {
			break
		}
	}
	if !agg.Valid() {
		log.Debug().
			Str("action", act.Kind).
			Strs("errors", agg.Errors).
			Msg("Action rejected by validator chain")
	}
	return agg
}

// runParallel fans the validators out and merges results in registration
// order. StopOnFirstError does not apply.
func (p *Pipeline) runParallel(ctx context.Context, act *types.Action, skip map[string]bool) *ValidationResult {
	results := make([]*ValidationResult, len(p.validators))
	done := make(chan int, len(p.validators))

	ran := 0
	for i, v := range p.validators {
		if skip[v.Name()] {
			continue
		}
		ran++
		go func(i int, v Validator) {
			results[i] = v.Validate(ctx, act)
			done <- i
		}(i, v)
	}

	agg := &ValidationResult{}
	for n := 0; n < ran; n++ {
		select {
		case <-done:
		case <-ctx.Done():
			agg.errorf("validation timed out")
			return agg
		}
	}
	for _, res := range results {
		if res != nil {
			agg.merge(res)
		}
	}
	return agg
}

// structureValidator rejects unknown action kinds before family validators
// run.
type structureValidator struct{}

func (structureValidator) Name() string { return "structure" }

func (structureValidator) Validate(_ context.Context, act *types.Action) *ValidationResult {
	res := &ValidationResult{}
	if act.Kind == "" {
		res.errorf("action type is required")
		return res
	}
	if act.Family() == "" {
		res.errorf("unknown action type %q", act.Kind)
	}
	if act.TimeoutMs < 0 {
		res.errorf("timeout must not be negative")
	}
	return res
}
