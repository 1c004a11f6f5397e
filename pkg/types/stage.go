// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package types defines shared data structures for the knowledge-gardener pipeline:
// stages, report documents, and configuration.
package types

import "fmt"

// Stage names one phase of the maintenance pipeline.
type Stage string

const (
	StageAnalyst    Stage = "analyst"
	StageResearcher Stage = "researcher"
	StageCurator    Stage = "curator"
	StageAuditor    Stage = "auditor"
	StageFixer      Stage = "fixer"
	StageAdvisor    Stage = "advisor"
)

// Stages lists every stage in chain order.
var Stages = []Stage{
	StageAnalyst,
	StageResearcher,
	StageCurator,
	StageAuditor,
	StageFixer,
	StageAdvisor,
}

var stagePrefixes = map[Stage]string{
	StageAnalyst:    "ana",
	StageResearcher: "res",
	StageCurator:    "cur",
	StageAuditor:    "aud",
	StageFixer:      "fix",
	StageAdvisor:    "adv",
}

// Prefix returns the report identifier prefix for the stage (e.g. "ana").
func (s Stage) Prefix() string {
	return stagePrefixes[s]
}

// Valid reports whether s is one of the six pipeline stages.
func (s Stage) Valid() bool {
	_, ok := stagePrefixes[s]
	return ok
}

// ParseStage converts a stage name into a Stage.
func ParseStage(name string) (Stage, error) {
	s := Stage(name)
	if !s.Valid() {
		return "", fmt.Errorf("unknown stage %q: use one of %v", name, Stages)
	}
	return s, nil
}

// StageForPrefix returns the stage owning an identifier prefix.
func StageForPrefix(prefix string) (Stage, bool) {
	for s, p := range stagePrefixes {
		if p == prefix {
			return s, true
		}
	}
	return "", false
}

// ReportState tracks a report through its owning stage's execution.
type ReportState string

const (
	StateNotStarted ReportState = "not_started"
	StateInProgress ReportState = "in_progress"
	StateDone       ReportState = "done"
)
