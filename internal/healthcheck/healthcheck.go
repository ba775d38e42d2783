// Package healthcheck implements the per-agent stall/liveness check and the
// soft/hard recovery state machine (spec component 4.4), plus the
// self-terminating monitor loop that drives it.
package healthcheck

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	agerrors "github.com/agentmux/agentmux/internal/common/errors"
	"github.com/agentmux/agentmux/internal/common/logger"
	"github.com/agentmux/agentmux/internal/dashboard"
	"github.com/agentmux/agentmux/internal/ipc"
	"github.com/agentmux/agentmux/internal/registry"
	"github.com/agentmux/agentmux/internal/terminal"
	"github.com/agentmux/agentmux/internal/vcs"
	v1 "github.com/agentmux/agentmux/pkg/api/v1"
)

// Verdict is one agent's healthcheck outcome.
type Verdict struct {
	AgentID       string
	Healthy       bool
	SessionDead   bool
	TaskStalled   bool
}

// recoveryStage is one node of the per-(agent,task) recovery state machine.
type recoveryStage string

const (
	stageIdle          recoveryStage = "idle"
	stageAttempted     recoveryStage = "attempted"
	stageFullAttempted recoveryStage = "full_attempted"
	stageFailedTask    recoveryStage = "failed_task"
)

type recoveryKey struct {
	agentID string
	taskID  string
}

type recoveryState struct {
	stage   recoveryStage
	attempts int
}

// pollRecord tracks the two most recent pane-tail hashes for stall
// detection (spec 4.4: "the pane tail hash has not changed across two
// consecutive polls").
type pollRecord struct {
	lastHash     string
	prevHash     string
	lastActivity time.Time
}

// Config bundles the tunables healthcheck reads from session config.json
// (spec 4.4/§6: healthcheck_interval_seconds, healthcheck_stall_timeout_seconds,
// healthcheck_max_recovery_attempts, healthcheck_idle_stop_consecutive).
type Config struct {
	IntervalSeconds       int
	StallTimeoutSeconds   int
	MaxRecoveryAttempts   int
	IdleStopConsecutive   int
	EnableGit             bool
	TailLines             int
}

// Engine runs healthchecks and recovery for one session.
type Engine struct {
	cfg   Config
	reg   *registry.Registry
	dash  *dashboard.Store
	mbox  *ipc.Mailbox
	term  terminal.Adapter
	vc    vcs.Adapter
	log   *logger.Logger

	mu         sync.Mutex
	polls      map[string]*pollRecord
	recoveries map[recoveryKey]*recoveryState

	idleStreak int
	stopCh     chan struct{}
	wg         sync.WaitGroup
}

// New returns an Engine for one session's agents/dashboard/mailbox.
func New(cfg Config, reg *registry.Registry, dash *dashboard.Store, mbox *ipc.Mailbox, term terminal.Adapter, vc vcs.Adapter, log *logger.Logger) *Engine {
	if cfg.TailLines == 0 {
		cfg.TailLines = 50
	}
	return &Engine{
		cfg:        cfg,
		reg:        reg,
		dash:       dash,
		mbox:       mbox,
		term:       term,
		vc:         vc,
		log:        log,
		polls:      make(map[string]*pollRecord),
		recoveries: make(map[recoveryKey]*recoveryState),
		stopCh:     make(chan struct{}),
	}
}

func hashTail(tail string) string {
	sum := sha256.Sum256([]byte(tail))
	return hex.EncodeToString(sum[:])
}

// CheckAgent evaluates one agent's liveness and stall state. Terminated
// agents are always reported healthy and excluded from recovery (spec
// invariant 6).
func (e *Engine) CheckAgent(ctx context.Context, agent *v1.Agent) (Verdict, error) {
	if agent.Status == v1.AgentTerminated {
		return Verdict{AgentID: agent.ID, Healthy: true}, nil
	}

	ref := terminal.PaneRef{SessionName: agent.SessionName, WindowIndex: agent.WindowIndex, PaneIndex: agent.PaneIndex}
	alive, err := e.term.SessionAlive(ctx, ref)
	if err != nil {
		return Verdict{}, err
	}
	if !alive {
		return Verdict{AgentID: agent.ID, Healthy: false, SessionDead: true}, nil
	}

	if agent.CurrentTaskID == "" {
		return Verdict{AgentID: agent.ID, Healthy: true}, nil
	}

	stallTimeout := time.Duration(e.cfg.StallTimeoutSeconds) * time.Second
	if stallTimeout <= 0 || time.Since(agent.LastActivity) <= stallTimeout {
		return Verdict{AgentID: agent.ID, Healthy: true}, nil
	}

	tail, err := e.term.PaneTail(ctx, ref, e.cfg.TailLines)
	if err != nil {
		return Verdict{}, err
	}
	hash := hashTail(tail)

	e.mu.Lock()
	rec, ok := e.polls[agent.ID]
	if !ok {
		rec = &pollRecord{}
		e.polls[agent.ID] = rec
	}
	rec.prevHash, rec.lastHash = rec.lastHash, hash
	stalled := rec.prevHash != "" && rec.prevHash == rec.lastHash
	e.mu.Unlock()

	if stalled {
		return Verdict{AgentID: agent.ID, Healthy: false, TaskStalled: true}, nil
	}
	return Verdict{AgentID: agent.ID, Healthy: true}, nil
}

// CheckAll evaluates every non-terminated agent in the session.
func (e *Engine) CheckAll(ctx context.Context) ([]Verdict, error) {
	agents, err := e.reg.List()
	if err != nil {
		return nil, err
	}
	var out []Verdict
	for _, a := range agents {
		if a.Status == v1.AgentTerminated {
			continue
		}
		v, err := e.CheckAgent(ctx, a)
		if err != nil {
			if e.log != nil {
				e.log.WithAgentID(a.ID).WithError(err).Warn("healthcheck: check failed")
			}
			continue
		}
		out = append(out, v)
	}
	return out, nil
}

// Unhealthy returns the agent ids CheckAll flagged as unhealthy.
func Unhealthy(verdicts []Verdict) []string {
	var ids []string
	for _, v := range verdicts {
		if !v.Healthy {
			ids = append(ids, v.AgentID)
		}
	}
	return ids
}

func (e *Engine) stageFor(key recoveryKey) *recoveryState {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.recoveries[key]
	if !ok {
		st = &recoveryState{stage: stageIdle}
		e.recoveries[key] = st
	}
	return st
}

// AttemptRecovery performs soft recovery: recreate the session (if dead) or
// interrupt+clear the pane (if stalled). Identity, worktree, and task
// assignment are preserved.
func (e *Engine) AttemptRecovery(ctx context.Context, agent *v1.Agent, verdict Verdict) error {
	key := recoveryKey{agentID: agent.ID, taskID: agent.CurrentTaskID}
	st := e.stageFor(key)
	st.stage = stageAttempted
	st.attempts++

	ref := terminal.PaneRef{SessionName: agent.SessionName, WindowIndex: agent.WindowIndex, PaneIndex: agent.PaneIndex}

	var err error
	var recreated bool
	if verdict.SessionDead {
		ref, err = e.term.CreateSession(ctx, agent.SessionName, agent.WorkingDir)
		recreated = err == nil
	} else if verdict.TaskStalled {
		err = e.term.SendKeys(ctx, ref, "", false) // interrupt placeholder (Ctrl-C is transport-specific)
		if err == nil {
			err = e.term.SendKeys(ctx, ref, "clear", true)
		}
	}
	if err != nil {
		st.stage = stageFullAttempted
		return e.recordRecoveryMetadata(agent, "soft recovery failed: "+err.Error())
	}

	if recreated {
		if err := e.reg.Update(agent.ID, func(a *v1.Agent) {
			a.WindowIndex, a.PaneIndex = ref.WindowIndex, ref.PaneIndex
		}); err != nil {
			return err
		}
	}
	return e.markRecovered(agent.ID, key)
}

// FullRecovery performs hard recovery: terminate the old agent, optionally
// recreate the worktree on the same branch, create a new agent on the same
// pane slot, and reassign the unfinished task.
func (e *Engine) FullRecovery(ctx context.Context, agent *v1.Agent) error {
	key := recoveryKey{agentID: agent.ID, taskID: agent.CurrentTaskID}
	st := e.stageFor(key)

	if st.attempts >= e.cfg.MaxRecoveryAttempts {
		return e.exhaustRecovery(ctx, agent)
	}
	st.stage = stageFullAttempted
	st.attempts++

	if err := e.reg.Terminate(agent.ID); err != nil {
		return err
	}

	if e.cfg.EnableGit && agent.WorktreePath != "" && agent.Branch != "" {
		if err := e.vc.WorktreeRemove(ctx, agent.WorkingDir, agent.WorktreePath, true); err != nil && e.log != nil {
			e.log.WithAgentID(agent.ID).WithError(err).Warn("healthcheck: worktree removal failed during full recovery")
		}
		if err := e.vc.WorktreeAdd(ctx, agent.WorkingDir, agent.WorktreePath, agent.Branch, ""); err != nil {
			return e.exhaustRecovery(ctx, agent)
		}
	}

	newAgent := *agent
	newAgent.ID = fmt.Sprintf("%s-recovered-%d", agent.ID, time.Now().UnixNano())
	newAgent.Status = v1.AgentIdle
	newAgent.LastActivity = time.Now().UTC()
	ref, err := e.term.CreateSession(ctx, newAgent.SessionName, newAgent.WorkingDir)
	if err != nil {
		return e.exhaustRecovery(ctx, agent)
	}
	newAgent.WindowIndex, newAgent.PaneIndex = ref.WindowIndex, ref.PaneIndex
	if err := e.reg.Register(&newAgent); err != nil {
		return e.exhaustRecovery(ctx, agent)
	}

	if agent.CurrentTaskID != "" {
		if _, err := e.dash.AssignTaskToAgent(agent.CurrentTaskID, newAgent.ID); err != nil {
			return err
		}
	}
	if err := e.dash.IncrementRecoveryCount(); err != nil {
		return err
	}

	return e.markRecovered(newAgent.ID, key)
}

func (e *Engine) markRecovered(agentID string, key recoveryKey) error {
	e.mu.Lock()
	e.recoveries[key].stage = stageIdle
	e.mu.Unlock()
	return e.reg.Update(agentID, func(a *v1.Agent) {
		a.Status = v1.AgentIdle
		a.LastActivity = time.Now().UTC()
	})
}

func (e *Engine) recordRecoveryMetadata(agent *v1.Agent, reason string) error {
	if agent.CurrentTaskID == "" {
		return nil
	}
	task, err := e.dash.GetTask(agent.CurrentTaskID)
	if err != nil {
		return nil
	}
	if task.Metadata == nil {
		task.Metadata = map[string]interface{}{}
	}
	count, _ := task.Metadata[v1.MetaRecoveryCount].(int)
	task.Metadata[v1.MetaRecoveryCount] = count + 1
	task.Metadata[v1.MetaLastRecoveryReason] = reason
	task.Metadata[v1.MetaLastRecoveryAt] = time.Now().UTC().Format(time.RFC3339)
	return nil
}

// exhaustRecovery transitions the task to failed, clears the worker to
// idle, and sends an error IPC to the admin. This is emitted once per
// (worker, task) pair (spec 4.4/§7).
func (e *Engine) exhaustRecovery(ctx context.Context, agent *v1.Agent) error {
	key := recoveryKey{agentID: agent.ID, taskID: agent.CurrentTaskID}
	e.mu.Lock()
	alreadyFailed := e.recoveries[key].stage == stageFailedTask
	e.recoveries[key].stage = stageFailedTask
	e.mu.Unlock()

	if agent.CurrentTaskID != "" {
		errMsg := ""
		if _, err := e.dash.UpdateTaskStatus(agent.CurrentTaskID, v1.TaskFailed, nil, "recovery exhausted"); err != nil && !agerrors.Is(err, agerrors.ErrCodeTerminalStateImmutable) {
			return err
		}
		_ = errMsg
	}
	_ = e.reg.Update(agent.ID, func(a *v1.Agent) {
		a.Status = v1.AgentIdle
		a.CurrentTaskID = ""
	})

	if !alreadyFailed && e.mbox != nil {
		_ = e.mbox.SendMessage(ctx, &v1.Message{
			ID:         fmt.Sprintf("recovery-exhausted-%s-%d", agent.ID, time.Now().UnixNano()),
			SenderID:   "healthcheck",
			ReceiverID: "admin",
			Type:       v1.MsgError,
			Priority:   v1.PriorityHigh,
			Content:    fmt.Sprintf("recovery exhausted for agent %s", agent.ID),
		})
	}
	return agerrors.RecoveryExhausted(agent.ID)
}

// RunMonitorPass performs one iteration of the monitor loop: list agents,
// check all, recover the unhealthy ones, and evaluate the idle-stop
// condition. The monitor is a reporter, not an asserter: recovery failures
// mutate state but a failed recovery step never aborts the pass.
func (e *Engine) RunMonitorPass(ctx context.Context) (shouldStop bool, err error) {
	agents, err := e.reg.List()
	if err != nil {
		return false, err
	}
	verdicts, err := e.CheckAll(ctx)
	if err != nil {
		return false, err
	}

	byID := make(map[string]*v1.Agent, len(agents))
	for _, a := range agents {
		byID[a.ID] = a
	}
	for _, v := range verdicts {
		if v.Healthy {
			continue
		}
		agent := byID[v.AgentID]
		if agent == nil {
			continue
		}
		key := recoveryKey{agentID: agent.ID, taskID: agent.CurrentTaskID}
		st := e.stageFor(key)
		var recErr error
		switch st.stage {
		case stageIdle, stageAttempted:
			recErr = e.AttemptRecovery(ctx, agent, v)
		default:
			recErr = e.FullRecovery(ctx, agent)
		}
		if recErr != nil && e.log != nil {
			e.log.WithAgentID(agent.ID).WithError(recErr).Warn("healthcheck: recovery step failed")
		}
	}

	idleNow := allWorkersIdleWithNoTask(agents)
	zeroInProgress, statsErr := e.zeroTasksInProgress()
	if statsErr == nil && idleNow && zeroInProgress {
		e.idleStreak++
	} else {
		e.idleStreak = 0
	}
	return e.idleStreak >= e.cfg.IdleStopConsecutive && e.cfg.IdleStopConsecutive > 0, nil
}

func allWorkersIdleWithNoTask(agents []*v1.Agent) bool {
	sawWorker := false
	for _, a := range agents {
		if a.Role != v1.RoleWorker || a.Status == v1.AgentTerminated {
			continue
		}
		sawWorker = true
		if a.Status != v1.AgentIdle || a.CurrentTaskID != "" {
			return false
		}
	}
	return sawWorker
}

func (e *Engine) zeroTasksInProgress() (bool, error) {
	tasks, err := e.dash.ListTasks()
	if err != nil {
		return false, err
	}
	for _, t := range tasks {
		if t.Status == v1.TaskInProgress {
			return false, nil
		}
	}
	return true, nil
}

// Start launches the monitor loop as a background goroutine, firing every
// IntervalSeconds and stopping itself once RunMonitorPass reports the
// idle-stop condition or Stop is called.
func (e *Engine) Start(ctx context.Context) {
	e.wg.Add(1)
	go e.loop(ctx)
}

func (e *Engine) loop(ctx context.Context) {
	defer e.wg.Done()

	interval := time.Duration(e.cfg.IntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-e.stopCh:
			return
		case <-ticker.C:
			stop, err := e.RunMonitorPass(ctx)
			if err != nil && e.log != nil {
				e.log.WithError(err).Warn("healthcheck: monitor pass failed")
				continue
			}
			if stop {
				if e.log != nil {
					e.log.Info("healthcheck: self-terminating, all workers idle with no in-progress tasks", zap.Int("streak", e.idleStreak))
				}
				return
			}
		}
	}
}

// Stop signals the monitor loop to exit and waits for it to finish.
func (e *Engine) Stop() {
	close(e.stopCh)
	e.wg.Wait()
}
