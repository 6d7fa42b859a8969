package reporttrigger

import (
	"archive/zip"
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/carrotsystems/carrot/pkg/carrottypes"
)

// csvBundle is the set of per-run CSV files a report-generation workflow
// consumes (spec §6). run_id joins rows across files; exact filenames are
// fixed by the spec rather than derived.
type csvBundle struct {
	Metadata    []byte
	TestInputs  []byte
	EvalInputs  []byte
	TestOptions []byte
	EvalOptions []byte
	Results     []byte
}

// resultNamer resolves a result_id to the Result's display name, used as a
// results.csv column header.
type resultNamer func(resultID string) (string, error)

func buildCSVBundle(runs []carrottypes.Run, runResults map[string][]carrottypes.RunResult, namer resultNamer) (csvBundle, error) {
	metadata, err := writeMetadataCSV(runs)
	if err != nil {
		return csvBundle{}, fmt.Errorf("write metadata.csv: %w", err)
	}
	testInputs, err := writeJSONFieldCSV(runs, func(r carrottypes.Run) json.RawMessage { return r.TestInput })
	if err != nil {
		return csvBundle{}, fmt.Errorf("write test_inputs.csv: %w", err)
	}
	evalInputs, err := writeJSONFieldCSV(runs, func(r carrottypes.Run) json.RawMessage { return r.EvalInput })
	if err != nil {
		return csvBundle{}, fmt.Errorf("write eval_inputs.csv: %w", err)
	}
	testOptions, err := writeJSONFieldCSV(runs, func(r carrottypes.Run) json.RawMessage { return r.TestOptions })
	if err != nil {
		return csvBundle{}, fmt.Errorf("write test_options.csv: %w", err)
	}
	evalOptions, err := writeJSONFieldCSV(runs, func(r carrottypes.Run) json.RawMessage { return r.EvalOptions })
	if err != nil {
		return csvBundle{}, fmt.Errorf("write eval_options.csv: %w", err)
	}
	results, err := writeResultsCSV(runs, runResults, namer)
	if err != nil {
		return csvBundle{}, fmt.Errorf("write results.csv: %w", err)
	}
	return csvBundle{
		Metadata:    metadata,
		TestInputs:  testInputs,
		EvalInputs:  evalInputs,
		TestOptions: testOptions,
		EvalOptions: evalOptions,
		Results:     results,
	}, nil
}

func writeMetadataCSV(runs []carrottypes.Run) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write([]string{"run_id", "name", "status", "test_id", "created_at", "created_by", "finished_at"}); err != nil {
		return nil, err
	}
	for _, r := range runs {
		finished := ""
		if r.FinishedAt != nil {
			finished = r.FinishedAt.Format(csvTimeFormat)
		}
		if err := w.Write([]string{
			r.RunID, r.Name, string(r.Status), r.TestID, r.CreatedAt.Format(csvTimeFormat), r.CreatedBy, finished,
		}); err != nil {
			return nil, err
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}

const csvTimeFormat = "2006-01-02T15:04:05Z07:00"

// writeJSONFieldCSV flattens a per-run JSON object field into a CSV whose
// header is "run_id" followed by the union of JSON keys seen across every
// run, sorted for a stable column order.
func writeJSONFieldCSV(runs []carrottypes.Run, field func(carrottypes.Run) json.RawMessage) ([]byte, error) {
	rowValues := make([]map[string]string, len(runs))
	keySet := map[string]struct{}{}
	for i, r := range runs {
		values, err := flattenJSONObject(field(r))
		if err != nil {
			return nil, fmt.Errorf("run %s: %w", r.RunID, err)
		}
		rowValues[i] = values
		for k := range values {
			keySet[k] = struct{}{}
		}
	}
	keys := make([]string, 0, len(keySet))
	for k := range keySet {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	header := append([]string{"run_id"}, keys...)
	if err := w.Write(header); err != nil {
		return nil, err
	}
	for i, r := range runs {
		row := make([]string, 0, len(keys)+1)
		row = append(row, r.RunID)
		for _, k := range keys {
			row = append(row, rowValues[i][k])
		}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}

// flattenJSONObject renders each top-level value of a JSON object as a
// string: scalars print as themselves, nested objects/arrays re-marshal to
// compact JSON so the column still carries the full value.
func flattenJSONObject(raw json.RawMessage) (map[string]string, error) {
	out := map[string]string{}
	if len(raw) == 0 {
		return out, nil
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, fmt.Errorf("not a json object: %w", err)
	}
	for k, v := range obj {
		var scalar interface{}
		if err := json.Unmarshal(v, &scalar); err != nil {
			return nil, fmt.Errorf("key %q: %w", k, err)
		}
		if s, ok := scalar.(string); ok {
			out[k] = s
			continue
		}
		out[k] = string(bytes.TrimSpace(v))
	}
	return out, nil
}

func writeResultsCSV(runs []carrottypes.Run, runResults map[string][]carrottypes.RunResult, namer resultNamer) ([]byte, error) {
	nameCache := map[string]string{}
	resolve := func(resultID string) (string, error) {
		if name, ok := nameCache[resultID]; ok {
			return name, nil
		}
		name, err := namer(resultID)
		if err != nil {
			return "", err
		}
		nameCache[resultID] = name
		return name, nil
	}

	rowValues := make([]map[string]string, len(runs))
	keySet := map[string]struct{}{}
	for i, r := range runs {
		values := map[string]string{}
		for _, rr := range runResults[r.RunID] {
			name, err := resolve(rr.ResultID)
			if err != nil {
				return nil, fmt.Errorf("resolve result name for %s: %w", rr.ResultID, err)
			}
			values[name] = rr.Value
			keySet[name] = struct{}{}
		}
		rowValues[i] = values
	}
	keys := make([]string, 0, len(keySet))
	for k := range keySet {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(append([]string{"run_id"}, keys...)); err != nil {
		return nil, err
	}
	for i, r := range runs {
		row := make([]string, 0, len(keys)+1)
		row = append(row, r.RunID)
		for _, k := range keys {
			row = append(row, rowValues[i][k])
		}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}

// zipCSVBundle packs the six csv files into a single zip archive, the form
// the report-generation workflow downloads as one input.
func zipCSVBundle(b csvBundle) ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	files := []struct {
		name string
		data []byte
	}{
		{"metadata.csv", b.Metadata},
		{"test_inputs.csv", b.TestInputs},
		{"eval_inputs.csv", b.EvalInputs},
		{"test_options.csv", b.TestOptions},
		{"eval_options.csv", b.EvalOptions},
		{"results.csv", b.Results},
	}
	for _, f := range files {
		w, err := zw.Create(f.name)
		if err != nil {
			return nil, fmt.Errorf("create %s in zip: %w", f.name, err)
		}
		if _, err := w.Write(f.data); err != nil {
			return nil, fmt.Errorf("write %s: %w", f.name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("close zip: %w", err)
	}
	return buf.Bytes(), nil
}
