package harness

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"time"

	"github.com/roach88/coinsync/internal/cache"
	"github.com/roach88/coinsync/internal/engine"
	"github.com/roach88/coinsync/internal/model"
	"github.com/roach88/coinsync/internal/retry"
	"github.com/roach88/coinsync/internal/store"
	"github.com/roach88/coinsync/internal/testutil"
)

const defaultStepTimeout = 2 * time.Second

// Harness drives one scenario. A new one is built per Run.
type Harness struct {
	scenario *Scenario
	store    *store.Store
	cache    cache.Cache
	users    *testutil.ScriptedUsers
	source   *engine.MemorySource
	session  *engine.Session
	clock    *testutil.DeterministicClock
	sleeper  *testutil.RecordingSleeper
	logger   *slog.Logger
	timeout  time.Duration

	applied chan engine.Update
	pending map[string]*pendingFetch
}

type pendingFetch struct {
	gate chan struct{}
	done chan engine.FetchResult
}

// outcome is what a step produced.
type outcome struct {
	Case   string
	Result map[string]any
}

type runConfig struct {
	logger  *slog.Logger
	timeout time.Duration
}

// Option configures Run.
type Option func(*runConfig)

// WithLogger routes session logs to l. Logs are discarded by default.
func WithLogger(l *slog.Logger) Option {
	return func(c *runConfig) {
		c.logger = l
	}
}

// WithStepTimeout bounds how long a step waits for asynchronous work.
func WithStepTimeout(d time.Duration) Option {
	return func(c *runConfig) {
		c.timeout = d
	}
}

// Run executes a scenario in a fresh in-memory store and returns the
// result. An error means the scenario could not be executed; failed
// expectations are reported in Result.Errors.
func Run(scenario *Scenario, opts ...Option) (*Result, error) {
	cfg := runConfig{
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		timeout: defaultStepTimeout,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	st, err := store.Open(store.MemoryPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	clock := testutil.NewDeterministicClock()
	st.SetNow(clock.Now)

	h := &Harness{
		scenario: scenario,
		store:    st,
		cache:    cache.NewPersistent(st, cache.WithLogger(cfg.logger)),
		users:    testutil.NewScriptedUsers(),
		source:   engine.NewMemorySource(),
		clock:    clock,
		sleeper:  &testutil.RecordingSleeper{},
		logger:   cfg.logger,
		timeout:  cfg.timeout,
		applied:  make(chan engine.Update, 16),
		pending:  make(map[string]*pendingFetch),
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h.seed(ctx)
	h.session = h.newSession()
	defer h.shutdown(cancel)

	result := NewResult()
	if err := h.executeSteps(ctx, "setup", scenario.Setup, result, false); err != nil {
		return nil, fmt.Errorf("failed to execute setup: %w", err)
	}
	if err := h.executeSteps(ctx, "flow", scenario.Flow, result, true); err != nil {
		return nil, fmt.Errorf("failed to execute flow: %w", err)
	}

	state := h.session.State()
	result.Balance = state.Coins()
	result.Confirmed = state.Confirmed()
	for _, key := range []string{cache.KeyCoinsCount, cache.KeyProStatus} {
		if v, ok := h.cacheValue(ctx, key); ok {
			result.Cache[key] = v
		}
	}

	actx := &AssertionContext{
		DB:  st.DB(),
		Ctx: ctx,
	}
	for _, errMsg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(errMsg)
	}
	return result, nil
}

func (h *Harness) seed(ctx context.Context) {
	for _, row := range h.scenario.Remote {
		h.users.Put(model.UserRow{UID: row.UID, UserCoins: row.Coins, SubscriptionActive: row.Pro})
	}
	for key, value := range h.scenario.Cache {
		h.cache.Set(ctx, key, value)
	}
}

func (h *Harness) newSession() *engine.Session {
	policy := retry.Default
	policy.Sleeper = h.sleeper

	choice := engine.ChoiceCancel
	if h.scenario.Prompt != "" {
		choice = engine.Choice(h.scenario.Prompt)
	}

	s := engine.NewSession(h.scenario.UID, engine.Deps{
		Users:    h.users,
		Cache:    h.cache,
		Source:   h.source,
		Recorder: h.store,
		Prompter: engine.PrompterFunc(func(context.Context, *engine.InsufficientFundsError) engine.Choice {
			return choice
		}),
		Namer:  engine.NewFixedNamer("mount-1", "mount-2", "mount-3", "mount-4"),
		Retry:  &policy,
		Logger: h.logger,
	})
	s.State().OnChange(func(u engine.Update) {
		select {
		case h.applied <- u:
		default:
		}
	})
	return s
}

func (h *Harness) shutdown(cancel context.CancelFunc) {
	cancel()
	h.session.Close()
	for id, p := range h.pending {
		select {
		case <-p.done:
		case <-time.After(h.timeout):
			h.logger.Warn("pending fetch did not stop", "id", id)
		}
	}
}

func (h *Harness) executeSteps(ctx context.Context, section string, steps []Step, result *Result, check bool) error {
	for i, step := range steps {
		result.AddInvocationTrace(step.Action, step.Args, h.clock.Next())

		out, err := h.execute(ctx, step)
		if err != nil {
			return fmt.Errorf("%s[%d] %s: %w", section, i, step.Action, err)
		}
		result.AddCompletionTrace(out.Case, out.Result, h.clock.Next())

		h.logger.Debug("step completed", "section", section, "step", i, "action", step.Action, "case", out.Case)

		if check && step.Expect != nil {
			for _, msg := range compareOutcome(out, step.Expect) {
				result.AddError(fmt.Sprintf("%s[%d] %s: %s", section, i, step.Action, msg))
			}
		}
	}
	return nil
}

func (h *Harness) execute(ctx context.Context, step Step) (outcome, error) {
	uid := h.scenario.UID
	args := step.Args

	switch step.Action {
	case ActionStart:
		before := len(h.sleeper.Delays())
		return h.fetchOutcome(h.session.Start(ctx), before), nil

	case ActionFetch:
		before := len(h.sleeper.Delays())
		return h.fetchOutcome(h.session.Refresh(ctx), before), nil

	case ActionBeginFetch:
		return h.beginFetch(ctx, args)

	case ActionCompleteFetch:
		return h.completeFetch(args)

	case ActionPush:
		target := argStringOr(args, "uid", uid)
		coins, err := argInt(args, "coins")
		if err != nil {
			return outcome{}, err
		}
		row, _ := h.users.Row(target)
		row.UID = target
		row.UserCoins = coins
		h.users.Put(row)
		return h.publish(row)

	case ActionSetRemote:
		target := argStringOr(args, "uid", uid)
		row, _ := h.users.Row(target)
		row.UID = target
		if _, ok := args["coins"]; ok {
			coins, err := argInt(args, "coins")
			if err != nil {
				return outcome{}, err
			}
			row.UserCoins = coins
		}
		if v, ok := args["pro"]; ok {
			pro, ok := v.(bool)
			if !ok {
				return outcome{}, fmt.Errorf("arg %q must be a bool", "pro")
			}
			row.SubscriptionActive = pro
		}
		h.users.Put(row)
		return outcome{Case: "Success", Result: map[string]any{
			"coins": row.UserCoins,
			"pro":   row.SubscriptionActive,
		}}, nil

	case ActionFailRemote:
		n, err := argInt(args, "count")
		if err != nil {
			return outcome{}, err
		}
		var failure error
		if argStringOr(args, "error", "") == "not_found" {
			failure = model.ErrUserNotFound
		}
		h.users.FailNext(uid, int(n), failure)
		return outcome{Case: "Success"}, nil

	case ActionResolvePro:
		before := len(h.sleeper.Delays())
		res := h.session.ProStatus(ctx)
		c := "Inactive"
		if res.Active {
			c = "Active"
		}
		out := map[string]any{
			"remote":    res.Remote,
			"cached":    res.Cached,
			"confirmed": res.Confirmed,
			"attempts":  int64(res.Attempts),
		}
		h.addBackoff(out, before)
		return outcome{Case: c, Result: out}, nil

	case ActionCanAfford:
		coins, err := argInt(args, "coins")
		if err != nil {
			return outcome{}, err
		}
		allowed := h.session.CanAfford(ctx, coins)
		return outcome{Case: allowedCase(allowed), Result: map[string]any{"allowed": allowed}}, nil

	case ActionCheck:
		coins, err := argInt(args, "coins")
		if err != nil {
			return outcome{}, err
		}
		d := h.session.Check(ctx, coins)
		out := map[string]any{
			"balance":  d.Balance,
			"verified": d.Verified,
		}
		if d.Choice != "" {
			out["choice"] = string(d.Choice)
		}
		if !d.Allowed && !d.Verified {
			return outcome{Case: "Unverified", Result: out}, nil
		}
		return outcome{Case: allowedCase(d.Allowed), Result: out}, nil

	case ActionSpend:
		coins, err := argInt(args, "coins")
		if err != nil {
			return outcome{}, err
		}
		balance, err := h.users.SpendCoins(ctx, uid, coins)
		switch {
		case errors.Is(err, model.ErrInsufficientCoins):
			return outcome{Case: "InsufficientCoins"}, nil
		case errors.Is(err, model.ErrUserNotFound):
			return outcome{Case: "UserNotFound"}, nil
		case err != nil:
			return outcome{}, err
		}
		row, _ := h.users.Row(uid)
		out, err := h.publish(row)
		if err != nil {
			return outcome{}, err
		}
		out.Case = "Success"
		out.Result["balance"] = balance
		return out, nil

	case ActionDisplay:
		state := h.session.State()
		return outcome{Case: "Success", Result: map[string]any{
			"coins":     state.Coins(),
			"confirmed": state.Confirmed(),
		}}, nil

	case ActionCacheGet:
		key := argStringOr(args, "key", "")
		v, ok := h.cacheValue(ctx, key)
		if !ok {
			return outcome{Case: "Miss"}, nil
		}
		return outcome{Case: "Hit", Result: map[string]any{"value": v}}, nil

	case ActionCacheClear:
		keys, err := argStrings(args, "keys")
		if err != nil {
			return outcome{}, err
		}
		if len(keys) == 0 {
			cache.ClearSession(ctx, h.cache)
		} else {
			h.cache.Clear(ctx, keys...)
		}
		return outcome{Case: "Success"}, nil

	case ActionUnmount:
		h.session.Close()
		return outcome{Case: "Success"}, nil

	case ActionLogout:
		h.session.Logout(ctx)
		return outcome{Case: "Success"}, nil
	}

	return outcome{}, fmt.Errorf("unknown action %q", step.Action)
}

func (h *Harness) beginFetch(ctx context.Context, args map[string]any) (outcome, error) {
	id := argStringOr(args, "id", "")
	uid := h.scenario.UID
	if uid == "" {
		return outcome{}, errors.New("begin_fetch needs a session uid")
	}
	if _, exists := h.pending[id]; exists {
		return outcome{}, fmt.Errorf("fetch %q already pending", id)
	}

	p := &pendingFetch{
		gate: make(chan struct{}),
		done: make(chan engine.FetchResult, 1),
	}
	before := h.users.Calls(uid)
	h.users.BlockNext(uid, p.gate)
	go func() {
		p.done <- h.session.Refresh(ctx)
	}()

	// the fetch must hold its read before later steps script the table
	deadline := time.Now().Add(h.timeout)
	for h.users.Calls(uid) <= before {
		if time.Now().After(deadline) {
			return outcome{}, fmt.Errorf("fetch %q did not start within %s", id, h.timeout)
		}
		time.Sleep(time.Millisecond)
	}

	h.pending[id] = p
	return outcome{Case: "Pending", Result: map[string]any{"id": id}}, nil
}

func (h *Harness) completeFetch(args map[string]any) (outcome, error) {
	id := argStringOr(args, "id", "")
	p, ok := h.pending[id]
	if !ok {
		return outcome{}, fmt.Errorf("no pending fetch %q", id)
	}
	delete(h.pending, id)

	close(p.gate)
	select {
	case res := <-p.done:
		return h.fetchOutcome(res, -1), nil
	case <-time.After(h.timeout):
		return outcome{}, fmt.Errorf("fetch %q did not complete within %s", id, h.timeout)
	}
}

// publish delivers the row's change event and waits until the session
// applied it.
func (h *Harness) publish(row model.UserRow) (outcome, error) {
	for len(h.applied) > 0 {
		<-h.applied
	}

	delivered := h.source.Publish(engine.UserUpdate(row))
	if delivered == 0 {
		return outcome{Case: "NotDelivered", Result: map[string]any{"delivered": int64(0)}}, nil
	}

	timer := time.NewTimer(h.timeout)
	defer timer.Stop()
	for {
		select {
		case u := <-h.applied:
			if u.Source != model.SourcePush {
				continue
			}
			return outcome{Case: "Delivered", Result: map[string]any{
				"delivered": int64(delivered),
				"coins":     u.Coins,
			}}, nil
		case <-timer.C:
			return outcome{}, fmt.Errorf("push for %s not applied within %s", row.UID, h.timeout)
		}
	}
}

// fetchOutcome describes a fetch. before is the sleeper position when the
// fetch started, or -1 when backoff cannot be attributed.
func (h *Harness) fetchOutcome(res engine.FetchResult, before int) outcome {
	c := "LastKnown"
	switch {
	case errors.Is(res.Err, engine.ErrNoUser):
		c = "NoUser"
	case res.Confirmed:
		c = "Confirmed"
	}
	out := map[string]any{
		"coins":    res.Coins,
		"attempts": int64(res.Attempts),
	}
	h.addBackoff(out, before)
	return outcome{Case: c, Result: out}
}

func (h *Harness) addBackoff(out map[string]any, before int) {
	if before < 0 {
		return
	}
	delays := h.sleeper.Delays()
	if len(delays) <= before {
		return
	}
	backoff := make([]any, 0, len(delays)-before)
	for _, d := range delays[before:] {
		backoff = append(backoff, d.Milliseconds())
	}
	out["backoff_ms"] = backoff
}

func (h *Harness) cacheValue(ctx context.Context, key string) (any, bool) {
	raw, ok := h.cache.Get(ctx, key)
	if !ok {
		return nil, false
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, false
	}
	return v, true
}

func allowedCase(allowed bool) string {
	if allowed {
		return "Allowed"
	}
	return "Refused"
}

// compareOutcome checks an actual outcome against an expect clause.
func compareOutcome(out outcome, expect *ExpectClause) []string {
	var errs []string
	if out.Case != expect.Case {
		errs = append(errs, fmt.Sprintf("expected case %q, got %q (result %v)", expect.Case, out.Case, out.Result))
	}
	for _, key := range sortedKeys(expect.Result) {
		actual, ok := out.Result[key]
		if !ok {
			errs = append(errs, fmt.Sprintf("result field %q missing (result %v)", key, out.Result))
			continue
		}
		if !sameJSON(actual, expect.Result[key]) {
			errs = append(errs, fmt.Sprintf("result field %q = %v, expected %v", key, actual, expect.Result[key]))
		}
	}
	return errs
}

func argInt(args map[string]any, name string) (int64, error) {
	switch v := args[name].(type) {
	case int:
		return int64(v), nil
	case int64:
		return v, nil
	case uint64:
		if v > math.MaxInt64 {
			return 0, fmt.Errorf("arg %q out of range", name)
		}
		return int64(v), nil
	case float64:
		if v == math.Trunc(v) {
			return int64(v), nil
		}
	}
	return 0, fmt.Errorf("arg %q must be an integer, got %v", name, args[name])
}

func argStringOr(args map[string]any, name, fallback string) string {
	if v, ok := args[name]; ok {
		return fmt.Sprint(v)
	}
	return fallback
}

func argStrings(args map[string]any, name string) ([]string, error) {
	raw, ok := args[name]
	if !ok {
		return nil, nil
	}
	list, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("arg %q must be a list", name)
	}
	out := make([]string, 0, len(list))
	for _, item := range list {
		out = append(out, fmt.Sprint(item))
	}
	return out, nil
}
