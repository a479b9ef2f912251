package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/roach88/coinsync/internal/cache"
	"github.com/roach88/coinsync/internal/engine"
)

// Scenario is one balance conformance test.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// UID is the session user. Empty runs a signed-out session.
	UID string `yaml:"uid"`

	// Remote is the initial users table.
	Remote []RemoteRow `yaml:"remote,omitempty"`

	// Cache is the initial local cache, by key.
	Cache map[string]any `yaml:"cache,omitempty"`

	// Prompt is the answer to insufficient-funds prompts (default cancel).
	Prompt string `yaml:"prompt,omitempty"`

	// Setup steps run first. Their outcomes are traced but not checked.
	Setup []Step `yaml:"setup,omitempty"`

	// Flow steps run after setup and may carry expect clauses.
	Flow []Step `yaml:"flow"`

	// Assertions validate the final trace and state.
	Assertions []Assertion `yaml:"assertions"`
}

// RemoteRow is one seeded users row.
type RemoteRow struct {
	UID   string `yaml:"uid"`
	Coins int64  `yaml:"coins"`
	Pro   bool   `yaml:"pro"`
}

// Step invokes one action.
type Step struct {
	Action string         `yaml:"action"`
	Args   map[string]any `yaml:"args,omitempty"`

	// Expect is checked against the actual completion. Nil skips the check.
	Expect *ExpectClause `yaml:"expect,omitempty"`
}

// ExpectClause specifies expected completion behavior.
type ExpectClause struct {
	// Case is the expected output case (e.g. "Confirmed", "Refused").
	Case string `yaml:"case"`

	// Result is a subset of the expected completion fields.
	Result map[string]any `yaml:"result,omitempty"`
}

// Assertion validates trace or final state.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Action is used by trace_contains and trace_count.
	Action string `yaml:"action,omitempty"`

	// Args is a subset match for trace_contains.
	Args map[string]any `yaml:"args,omitempty"`

	// Table and Where select a final_state row.
	Table string         `yaml:"table,omitempty"`
	Where map[string]any `yaml:"where,omitempty"`

	// Expect holds expected values for final_state, final_cache and
	// final_balance.
	Expect map[string]any `yaml:"expect,omitempty"`

	// Count is used by trace_count.
	Count int `yaml:"count,omitempty"`

	// Actions is used by trace_order.
	Actions []string `yaml:"actions,omitempty"`
}

// Assertion type constants.
const (
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
	AssertFinalState    = "final_state"
	AssertFinalCache    = "final_cache"
	AssertFinalBalance  = "final_balance"
)

// Action names.
const (
	ActionStart         = "start"
	ActionFetch         = "fetch"
	ActionBeginFetch    = "begin_fetch"
	ActionCompleteFetch = "complete_fetch"
	ActionPush          = "push"
	ActionSetRemote     = "set_remote"
	ActionFailRemote    = "fail_remote"
	ActionResolvePro    = "resolve_pro"
	ActionCanAfford     = "can_afford"
	ActionCheck         = "check"
	ActionSpend         = "spend"
	ActionDisplay       = "display"
	ActionCacheGet      = "cache_get"
	ActionCacheClear    = "cache_clear"
	ActionUnmount       = "unmount"
	ActionLogout        = "logout"
)

// requiredArgs lists the args each action needs.
var requiredArgs = map[string][]string{
	ActionStart:         nil,
	ActionFetch:         nil,
	ActionBeginFetch:    {"id"},
	ActionCompleteFetch: {"id"},
	ActionPush:          {"coins"},
	ActionSetRemote:     nil,
	ActionFailRemote:    {"count"},
	ActionResolvePro:    nil,
	ActionCanAfford:     {"coins"},
	ActionCheck:         {"coins"},
	ActionSpend:         {"coins"},
	ActionDisplay:       nil,
	ActionCacheGet:      {"key"},
	ActionCacheClear:    nil,
	ActionUnmount:       nil,
	ActionLogout:        nil,
}

// Actions returns every supported action name, sorted.
func Actions() []string {
	names := make([]string, 0, len(requiredArgs))
	for name := range requiredArgs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// LoadScenario reads and parses a scenario YAML file.
// Unknown fields are rejected so typos fail loudly.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// LoadDir loads every *.yaml and *.yml scenario in dir, sorted by path.
func LoadDir(dir string) ([]string, error) {
	var paths []string
	for _, pattern := range []string{"*.yaml", "*.yml"} {
		matches, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			return nil, err
		}
		paths = append(paths, matches...)
	}
	sort.Strings(paths)
	return paths, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Flow) == 0 {
		return fmt.Errorf("flow list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	switch engine.Choice(s.Prompt) {
	case "", engine.ChoiceRecharge, engine.ChoiceCancel:
	default:
		return fmt.Errorf("prompt must be %q or %q, got %q", engine.ChoiceRecharge, engine.ChoiceCancel, s.Prompt)
	}

	for i, row := range s.Remote {
		if row.UID == "" {
			return fmt.Errorf("remote[%d]: uid is required", i)
		}
	}
	for key := range s.Cache {
		if key != cache.KeyCoinsCount && key != cache.KeyProStatus {
			return fmt.Errorf("cache: unknown key %q", key)
		}
	}

	for i, step := range s.Setup {
		if err := validateStep(step); err != nil {
			return fmt.Errorf("setup[%d]: %w", i, err)
		}
	}
	for i, step := range s.Flow {
		if err := validateStep(step); err != nil {
			return fmt.Errorf("flow[%d]: %w", i, err)
		}
	}
	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i]); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(step Step) error {
	required, ok := requiredArgs[step.Action]
	if !ok {
		return fmt.Errorf("unknown action %q (want one of %s)", step.Action, strings.Join(Actions(), ", "))
	}
	for _, arg := range required {
		if _, ok := step.Args[arg]; !ok {
			return fmt.Errorf("%s: arg %q is required", step.Action, arg)
		}
	}
	if step.Expect != nil && step.Expect.Case == "" {
		return fmt.Errorf("%s.expect: case is required", step.Action)
	}
	return nil
}

func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertTraceContains:
		if a.Action == "" {
			return fmt.Errorf("assertions[%d]: action is required for trace_contains", index)
		}
	case AssertTraceOrder:
		if len(a.Actions) == 0 {
			return fmt.Errorf("assertions[%d]: actions list is required for trace_order", index)
		}
	case AssertTraceCount:
		if a.Action == "" {
			return fmt.Errorf("assertions[%d]: action is required for trace_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	case AssertFinalState:
		if a.Table == "" {
			return fmt.Errorf("assertions[%d]: table is required for final_state", index)
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for final_state", index)
		}
	case AssertFinalCache, AssertFinalBalance:
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for %s", index, a.Type)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
