package reporttrigger

import (
	"encoding/json"
	"fmt"

	"github.com/carrotsystems/carrot/pkg/carrottypes"
)

// materializeNotebook prepends a metadata cell describing the run(s) this
// report covers to the report's stored notebook (spec §4.6). Grounded on
// report_builder.rs's create_report_template/build_run_metadata_cell pair:
// a single run gets a status/timing/job-id summary cell, a run_group (the
// pr-trigger case) gets a base-vs-head comparison cell instead.
func materializeNotebook(notebook json.RawMessage, testName string, runs []carrottypes.Run) (json.RawMessage, error) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(notebook, &doc); err != nil {
		return nil, fmt.Errorf("parse notebook json: %w", err)
	}
	var cells []json.RawMessage
	if raw, ok := doc["cells"]; ok {
		if err := json.Unmarshal(raw, &cells); err != nil {
			return nil, fmt.Errorf("parse notebook cells: %w", err)
		}
	}

	var metadataCell metadataCellJSON
	switch len(runs) {
	case 1:
		metadataCell = runMetadataCell(runs[0], testName)
	case 2:
		metadataCell = prComparisonMetadataCell(runs[0], runs[1], testName)
	default:
		return nil, carrottypes.NewError(carrottypes.ErrCarrotInternal, fmt.Sprintf("notebook materialization expects 1 or 2 runs, got %d", len(runs)), nil)
	}
	cellJSON, err := json.Marshal(metadataCell)
	if err != nil {
		return nil, fmt.Errorf("marshal metadata cell: %w", err)
	}

	newCells := make([]json.RawMessage, 0, len(cells)+1)
	newCells = append(newCells, cellJSON)
	newCells = append(newCells, cells...)
	newCellsJSON, err := json.Marshal(newCells)
	if err != nil {
		return nil, fmt.Errorf("marshal cells array: %w", err)
	}
	doc["cells"] = newCellsJSON

	return json.Marshal(doc)
}

// metadataCellJSON mirrors a Jupyter code cell: a markdown-producing Python
// snippet the notebook runner executes first.
type metadataCellJSON struct {
	CellType       string        `json:"cell_type"`
	ExecutionCount interface{}   `json:"execution_count"`
	Metadata       struct{}      `json:"metadata"`
	Outputs        []interface{} `json:"outputs"`
	Source         []string      `json:"source"`
}

func jobIDOrNone(id *string) string {
	if id == nil {
		return "None"
	}
	return *id
}

func runMetadataCell(run carrottypes.Run, testName string) metadataCellJSON {
	finished := "None"
	if run.FinishedAt != nil {
		finished = run.FinishedAt.Format(csvTimeFormat)
	}
	return metadataCellJSON{
		CellType: "code",
		Outputs:  []interface{}{},
		Source: []string{
			"from IPython.display import Markdown\n",
			fmt.Sprintf("md_string = \"# Test: %s\\n### Run ID: %s | Run Name: %s\\n\"\n", testName, run.RunID, run.Name),
			fmt.Sprintf("md_string += \"#### Status: %s\\n\"\n", run.Status),
			fmt.Sprintf("md_string += \"#### Start time: %s\\n#### End time: %s\\n\"\n", run.CreatedAt.Format(csvTimeFormat), finished),
			fmt.Sprintf("md_string += \"#### Test Cromwell ID: %s\\n\"\n", jobIDOrNone(run.TestCromwellJobID)),
			fmt.Sprintf("md_string += \"#### Eval Cromwell ID: %s\\n\"\n", jobIDOrNone(run.EvalCromwellJobID)),
			"Markdown(md_string)",
		},
	}
}

func prComparisonMetadataCell(base, head carrottypes.Run, testName string) metadataCellJSON {
	baseFinished, headFinished := "None", "None"
	if base.FinishedAt != nil {
		baseFinished = base.FinishedAt.Format(csvTimeFormat)
	}
	if head.FinishedAt != nil {
		headFinished = head.FinishedAt.Format(csvTimeFormat)
	}
	return metadataCellJSON{
		CellType: "code",
		Outputs:  []interface{}{},
		Source: []string{
			"from IPython.display import Markdown\n",
			fmt.Sprintf("md_string = \"# Test: %s\\n### Base Run ID: %s | Run Name: %s\\n\"\n", testName, base.RunID, base.Name),
			fmt.Sprintf("md_string += \"### Head Run ID: %s | Run Name: %s\\n\"\n", head.RunID, head.Name),
			fmt.Sprintf("md_string += \"#### Base start time: %s | End time: %s\\n\"\n", base.CreatedAt.Format(csvTimeFormat), baseFinished),
			fmt.Sprintf("md_string += \"#### Head start time: %s | End time: %s\\n\"\n", head.CreatedAt.Format(csvTimeFormat), headFinished),
			"Markdown(md_string)",
		},
	}
}
