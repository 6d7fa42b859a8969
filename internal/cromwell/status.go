package cromwell

import "github.com/carrotsystems/carrot/pkg/carrottypes"

// SubmitResult is the response to a workflow submission (spec §6).
type SubmitResult struct {
	ID     string                  `json:"id"`
	Status carrottypes.CromwellStatus `json:"status"`
}

// StatusResult is a normalized poll response, generalized from the
// teacher's internal/trigger/status.go StatusResult/RunCheckState shape.
type StatusResult struct {
	Status carrottypes.CromwellStatus
}

// OutputsResult holds the fetched workflow outputs keyed as
// "<workflow>.<name>" (spec §6).
type OutputsResult struct {
	Outputs map[string]interface{} `json:"outputs"`
}
