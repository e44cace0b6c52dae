package models

import (
	"math"
	"time"
)

// GraduationStep is one milestone of the fixed program catalog.
type GraduationStep struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Order       int    `json:"order"`
}

// GraduationApproval records the admin sign-off on a completed program.
type GraduationApproval struct {
	ApprovedBy     string    `json:"approvedBy"`
	ApprovedByName string    `json:"approvedByName"`
	ApprovedAt     time.Time `json:"approvedAt"`
	Notes          string    `json:"notes,omitempty"`
}

// TotalGraduationSteps is the size of the catalog.
const TotalGraduationSteps = 10

var graduationSteps = []GraduationStep{
	{ID: "orientation", Title: "Program Orientation", Description: "Completed program orientation with the Bridge Team", Order: 1},
	{ID: "identification", Title: "Identification Documents", Description: "Obtained state ID, birth certificate and Social Security card", Order: 2},
	{ID: "housing", Title: "Stable Housing", Description: "Secured stable housing for at least 60 days", Order: 3},
	{ID: "employment", Title: "Employment", Description: "Obtained and maintained employment or enrolled in job training", Order: 4},
	{ID: "transportation", Title: "Transportation", Description: "Established reliable transportation", Order: 5},
	{ID: "financial_literacy", Title: "Financial Literacy", Description: "Completed a budgeting course and opened a bank account", Order: 6},
	{ID: "healthcare", Title: "Healthcare", Description: "Established healthcare coverage and a primary care provider", Order: 7},
	{ID: "support_network", Title: "Support Network", Description: "Connected with a faith or community support group", Order: 8},
	{ID: "supervision_compliance", Title: "Supervision Compliance", Description: "Maintained parole or probation compliance for six months", Order: 9},
	{ID: "life_plan", Title: "Life Plan", Description: "Completed a twelve month life plan with the mentor", Order: 10},
}

var graduationStepIndex = func() map[string]int {
	index := make(map[string]int, len(graduationSteps))
	for i, step := range graduationSteps {
		index[step.ID] = i
	}
	return index
}()

// GraduationSteps returns a copy of the ordered catalog.
func GraduationSteps() []GraduationStep {
	out := make([]GraduationStep, len(graduationSteps))
	copy(out, graduationSteps)
	return out
}

// IsGraduationStep reports whether id names a catalog step.
func IsGraduationStep(id string) bool {
	_, ok := graduationStepIndex[id]
	return ok
}

// NormalizeGraduationSteps collapses duplicates and orders the IDs by catalog
// order. Unknown IDs are returned separately so callers can reject them.
func NormalizeGraduationSteps(ids []string) (steps []string, unknown []string) {
	seen := make([]bool, len(graduationSteps))
	for _, id := range ids {
		idx, ok := graduationStepIndex[id]
		if !ok {
			unknown = append(unknown, id)
			continue
		}
		seen[idx] = true
	}
	steps = make([]string, 0, len(graduationSteps))
	for i, done := range seen {
		if done {
			steps = append(steps, graduationSteps[i].ID)
		}
	}
	return steps, unknown
}

// CalculateGraduationProgress returns the completion percentage rounded to the nearest integer.
func CalculateGraduationProgress(completedSteps []string) int {
	return int(math.Round(100 * float64(len(completedSteps)) / TotalGraduationSteps))
}

// IsReadyForGraduation reports whether every step of the catalog is complete.
func IsReadyForGraduation(completedSteps []string) bool {
	return len(completedSteps) == TotalGraduationSteps
}

// RemovedSteps lists IDs present in before but missing from after.
func RemovedSteps(before, after []string) []string {
	keep := make(map[string]struct{}, len(after))
	for _, id := range after {
		keep[id] = struct{}{}
	}
	var removed []string
	for _, id := range before {
		if _, ok := keep[id]; !ok {
			removed = append(removed, id)
		}
	}
	return removed
}
