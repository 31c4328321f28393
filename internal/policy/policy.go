// Package policy holds the privacy and safety predicates applied to
// aggregate analytics and experiment tagging. Checks are pure: they never
// see per-user rows and never mutate their inputs.
package policy

import (
	"errors"
	"fmt"
	"sort"
)

// DefaultK is the minimum group size allowed in published aggregates.
const DefaultK = 5

// ErrPolicyViolation is matched by every Violation.
var ErrPolicyViolation = errors.New("policy violation")

const (
	PolicyKAnonymity        = "k_anonymity"
	PolicyCrisisExperiments = "crisis_no_experiments"
)

// Violation describes a failed predicate.
type Violation struct {
	Policy string
	Reason string
}

func (v *Violation) Error() string {
	return fmt.Sprintf("%s: %s: %s", ErrPolicyViolation, v.Policy, v.Reason)
}

func (v *Violation) Is(target error) bool {
	return target == ErrPolicyViolation
}

// Engine evaluates policies with a fixed configuration.
type Engine struct {
	k                     int
	denyCrisisExperiments bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithK overrides the k-anonymity threshold. Values below 1 are ignored.
func WithK(k int) Option {
	return func(e *Engine) {
		if k > 0 {
			e.k = k
		}
	}
}

// WithCrisisExperiments toggles the global experimentation ban on crisis flows.
func WithCrisisExperiments(deny bool) Option {
	return func(e *Engine) {
		e.denyCrisisExperiments = deny
	}
}

// NewEngine returns an engine with k=DefaultK and crisis experiments denied.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{k: DefaultK, denyCrisisExperiments: true}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// K returns the configured threshold.
func (e *Engine) K() int {
	return e.k
}

// EnsureKAnon fails if any group in counts is smaller than k.
func (e *Engine) EnsureKAnon(counts []int) error {
	for i, n := range counts {
		if n < e.k {
			return &Violation{
				Policy: PolicyKAnonymity,
				Reason: fmt.Sprintf("group %d has size %d below k=%d", i, n, e.k),
			}
		}
	}
	return nil
}

// EnsureKAnonGroups is EnsureKAnon over named groups; the reported group is
// the first failing key in sorted order so the message is stable.
func (e *Engine) EnsureKAnonGroups(groups map[string]int) error {
	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if n := groups[key]; n < e.k {
			return &Violation{
				Policy: PolicyKAnonymity,
				Reason: fmt.Sprintf("group %q has size %d below k=%d", key, n, e.k),
			}
		}
	}
	return nil
}

// ExperimentTag is an experiment or variant label attached to a flow.
type ExperimentTag struct {
	Name       string
	CrisisFlow bool
}

// EnsureNoCrisisExperiments rejects experiment tags on crisis-flagged flows
// while the global ban is on.
func (e *Engine) EnsureNoCrisisExperiments(tag ExperimentTag) error {
	if tag.Name == "" || !tag.CrisisFlow || !e.denyCrisisExperiments {
		return nil
	}
	return &Violation{
		Policy: PolicyCrisisExperiments,
		Reason: fmt.Sprintf("experiment %q attached to crisis flow", tag.Name),
	}
}
