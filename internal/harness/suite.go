package harness

import (
	"fmt"
	"path/filepath"
)

// SuiteResult summarizes a directory of scenarios.
type SuiteResult struct {
	TotalScenarios int            `json:"total_scenarios"`
	Passed         int            `json:"passed"`
	Failed         int            `json:"failed"`
	Failures       []SuiteFailure `json:"failures,omitempty"`
}

// SuiteFailure is one scenario that failed to load, run or pass.
type SuiteFailure struct {
	Scenario     string   `json:"scenario,omitempty"`
	ScenarioPath string   `json:"scenario_path"`
	Error        string   `json:"error"`
	Details      []string `json:"details,omitempty"`
}

// OK reports whether every scenario passed.
func (r *SuiteResult) OK() bool {
	return r.Failed == 0
}

// RunSuite loads and runs every scenario file in paths. Directories are
// expanded to their *.yaml and *.yml files.
func RunSuite(paths []string, opts ...Option) (*SuiteResult, error) {
	var files []string
	for _, p := range paths {
		matches, err := LoadDir(p)
		if err != nil {
			return nil, err
		}
		if len(matches) == 0 && filepath.Ext(p) != "" {
			matches = []string{p}
		}
		files = append(files, matches...)
	}

	result := &SuiteResult{}
	for _, path := range files {
		result.TotalScenarios++

		scenario, err := LoadScenario(path)
		if err != nil {
			result.fail(SuiteFailure{ScenarioPath: path, Error: fmt.Sprintf("failed to load scenario: %v", err)})
			continue
		}

		run, err := Run(scenario, opts...)
		if err != nil {
			result.fail(SuiteFailure{Scenario: scenario.Name, ScenarioPath: path, Error: fmt.Sprintf("scenario execution failed: %v", err)})
			continue
		}
		if !run.Pass {
			result.fail(SuiteFailure{
				Scenario:     scenario.Name,
				ScenarioPath: path,
				Error:        "scenario assertions failed",
				Details:      run.Errors,
			})
			continue
		}
		result.Passed++
	}
	return result, nil
}

func (r *SuiteResult) fail(f SuiteFailure) {
	r.Failed++
	r.Failures = append(r.Failures, f)
}
