package executor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/strandlabs/strand/internal/application/node"
	"github.com/strandlabs/strand/internal/domain"
	"github.com/strandlabs/strand/internal/ports"
)

// HumanInputKey is the memory key injected input is delivered under.
const HumanInputKey = "human_input"

// NodeRunner runs one node's turn loop. Satisfied by *node.Executor; tests
// substitute a scripted fake.
type NodeRunner interface {
	Execute(ctx context.Context, req *node.Request) *domain.NodeResult
}

// TriggerOptions optionally resumes existing state instead of starting fresh.
type TriggerOptions struct {
	ResumeSessionID      string `json:"resume_session_id,omitempty"`
	ResumeFromCheckpoint string `json:"resume_from_checkpoint,omitempty"`
}

// compiledEdge pairs an edge with its parsed condition.
type compiledEdge struct {
	spec domain.EdgeSpec
	cond *Condition
}

// graphEntry is a registered graph with routing tables prepared once.
type graphEntry struct {
	spec  *domain.GraphSpec
	edges map[string][]compiledEdge
}

// executionContext tracks one live or paused execution. All mutable fields,
// cancel included, are guarded by mu: InjectInput swaps the cancel function
// when it restarts a paused session, and CancelExecution must never race with
// that swap.
type executionContext struct {
	executionID string
	sessionID   string
	graphID     string

	mu           sync.Mutex
	cancel       context.CancelFunc
	awaitingNode string
	cancelled    bool
	terminal     bool
}

// Manager drives whole sessions: it resolves triggers, walks the graph one
// node at a time, enforces visit limits, evaluates edges, checkpoints at
// transitions and owns pause/resume/replay/cancel. At most one node per
// session is ever active; concurrent sessions share the bus and store.
type Manager struct {
	bus       ports.EventBus
	store     ports.SessionStore
	metrics   ports.MetricsCollector
	validator *Validator
	nodes     NodeRunner
	logger    *zap.Logger
	loop      domain.LoopConfig

	mu          sync.RWMutex
	graphs      map[string]*graphEntry
	entryPoints map[string]domain.EntryPoint

	executions sync.Map // map[string]*executionContext, keyed by execution id
}

// NewManager creates the graph executor.
func NewManager(
	bus ports.EventBus,
	store ports.SessionStore,
	metrics ports.MetricsCollector,
	validator *Validator,
	nodes NodeRunner,
	logger *zap.Logger,
	loopDefaults domain.LoopConfig,
) *Manager {
	return &Manager{
		bus:         bus,
		store:       store,
		metrics:     metrics,
		validator:   validator,
		nodes:       nodes,
		logger:      logger,
		loop:        loopDefaults,
		graphs:      make(map[string]*graphEntry),
		entryPoints: make(map[string]domain.EntryPoint),
	}
}

// RegisterGraph validates and indexes a graph. Entry point ids are unique
// across all registered graphs; conditional expressions are compiled here.
func (m *Manager) RegisterGraph(g *domain.GraphSpec) error {
	if err := m.validator.Validate(g); err != nil {
		m.logger.Error("graph validation failed",
			zap.String("graph_id", g.ID),
			zap.Error(err))
		return fmt.Errorf("validation failed: %w", err)
	}

	entry := &graphEntry{
		spec:  g,
		edges: make(map[string][]compiledEdge),
	}
	for _, e := range g.Edges {
		ce := compiledEdge{spec: e}
		if e.Condition == domain.ConditionExpression {
			cond, err := ParseCondition(e.Expression)
			if err != nil {
				return fmt.Errorf("edge %s: %w", e.ID, err)
			}
			ce.cond = cond
		}
		entry.edges[e.Source] = append(entry.edges[e.Source], ce)
	}
	// Lower priority first; equal priorities keep declaration order, which
	// makes the tie-break deterministic.
	for src := range entry.edges {
		edges := entry.edges[src]
		sort.SliceStable(edges, func(i, j int) bool {
			return edges[i].spec.Priority < edges[j].spec.Priority
		})
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for name := range g.EntryPoints {
		if existing, dup := m.entryPoints[name]; dup {
			return fmt.Errorf("entry point %s already registered by graph %s", name, existing.ID)
		}
	}
	m.graphs[g.ID] = entry
	for name, ep := range g.EntryPoints {
		m.entryPoints[name] = domain.EntryPoint{ID: g.ID, NodeID: ep.NodeID, Trigger: ep.Trigger}
	}

	m.logger.Info("graph registered",
		zap.String("graph_id", g.ID),
		zap.Int("nodes", len(g.Nodes)),
		zap.Int("edges", len(g.Edges)))
	return nil
}

// Trigger starts a new session at a named entry point, or resumes existing
// state when opts carries a resume target. It returns the execution id.
func (m *Manager) Trigger(ctx context.Context, entryPointID string, input domain.Memory, opts *TriggerOptions) (string, error) {
	if opts != nil && opts.ResumeSessionID != "" {
		return m.Resume(ctx, opts.ResumeSessionID, opts.ResumeFromCheckpoint)
	}

	m.mu.RLock()
	ep, ok := m.entryPoints[entryPointID]
	var entry *graphEntry
	if ok {
		entry = m.graphs[ep.ID]
	}
	m.mu.RUnlock()
	if !ok || entry == nil {
		return "", fmt.Errorf("%w: %s", domain.ErrInvalidEntryPoint, entryPointID)
	}

	now := time.Now().UTC()
	sess := &domain.Session{
		ID:              uuid.New().String(),
		GraphID:         entry.spec.ID,
		ExecutionID:     uuid.New().String(),
		Status:          domain.SessionCreated,
		CurrentNode:     ep.NodeID,
		NodeVisitCounts: make(map[string]int),
		Memory:          input.Clone(),
		InputData:       input.Clone(),
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	return m.launch(entry, sess, domain.EventExecutionStarted)
}

// Resume reconstructs a session from its status document and continues it.
// With a checkpoint id the reconstruction uses that snapshot instead, which
// is replay: forward re-execution under a fresh execution id while the
// original session's history stays intact.
func (m *Manager) Resume(ctx context.Context, sessionID, checkpointID string) (string, error) {
	if checkpointID != "" {
		return m.Replay(ctx, sessionID, checkpointID)
	}

	sess, err := m.store.LoadSession(ctx, sessionID)
	if err != nil {
		return "", err
	}
	if sess.Status.IsTerminal() {
		return "", fmt.Errorf("%w: %s", domain.ErrSessionTerminal, sess.Status)
	}

	entry, err := m.graphEntry(sess.GraphID)
	if err != nil {
		return "", err
	}

	sess.ExecutionID = uuid.New().String()
	sess.PausedAt = ""
	return m.launch(entry, sess, domain.EventExecutionResumed)
}

// Replay starts a fresh running session from a checkpoint. checkpointID is
// mandatory.
func (m *Manager) Replay(ctx context.Context, sessionID, checkpointID string) (string, error) {
	if checkpointID == "" {
		return "", fmt.Errorf("%w: checkpoint id is required for replay", domain.ErrNotFound)
	}

	cp, err := m.store.LoadCheckpoint(ctx, checkpointID)
	if err != nil {
		return "", err
	}
	if cp.SessionID != sessionID {
		return "", fmt.Errorf("checkpoint %s does not belong to session %s: %w", checkpointID, sessionID, domain.ErrNotFound)
	}

	entry, err := m.graphEntry(cp.GraphID)
	if err != nil {
		return "", err
	}

	now := time.Now().UTC()
	path := make([]string, len(cp.ExecutionPath))
	copy(path, cp.ExecutionPath)
	visits := make(map[string]int, len(cp.NodeVisitCounts))
	for k, v := range cp.NodeVisitCounts {
		visits[k] = v
	}

	sess := &domain.Session{
		ID:              uuid.New().String(),
		GraphID:         cp.GraphID,
		ExecutionID:     uuid.New().String(),
		Status:          domain.SessionCreated,
		CurrentNode:     cp.NodeID,
		ExecutionPath:   path,
		NodeVisitCounts: visits,
		Memory:          cp.Memory.Clone(),
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	return m.launch(entry, sess, domain.EventExecutionStarted)
}

func (m *Manager) graphEntry(graphID string) (*graphEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.graphs[graphID]
	if !ok {
		return nil, fmt.Errorf("graph %s: %w", graphID, domain.ErrNotFound)
	}
	return entry, nil
}

// launch persists the session and starts its run loop in the background.
func (m *Manager) launch(entry *graphEntry, sess *domain.Session, startEvent domain.EventType) (string, error) {
	ctx, cancel := context.WithCancel(context.Background())

	sess.Status = domain.SessionRunning
	sess.UpdatedAt = time.Now().UTC()
	if err := m.store.SaveSession(context.Background(), sess); err != nil {
		cancel()
		m.logger.Error("failed to save session",
			zap.String("session_id", sess.ID),
			zap.Error(err))
		return "", fmt.Errorf("failed to save session: %w", err)
	}

	execCtx := &executionContext{
		executionID: sess.ExecutionID,
		sessionID:   sess.ID,
		graphID:     sess.GraphID,
		cancel:      cancel,
	}
	m.executions.Store(sess.ExecutionID, execCtx)

	if m.metrics != nil {
		m.metrics.RecordSessionTriggered(string(sess.Status))
	}
	m.emit(domain.Event{
		Type:        startEvent,
		ExecutionID: sess.ExecutionID,
		GraphID:     sess.GraphID,
		StreamID:    sess.ID,
		NodeID:      sess.CurrentNode,
	})
	m.logger.Info("execution launched",
		zap.String("execution_id", sess.ExecutionID),
		zap.String("session_id", sess.ID),
		zap.String("graph_id", sess.GraphID),
		zap.String("entry_node", sess.CurrentNode))

	go m.runSession(ctx, entry, sess, execCtx, false)

	return sess.ExecutionID, nil
}

// runSession is the session state machine. One node at a time: enforce the
// visit limit, run the turn loop, commit validated output to shared memory,
// checkpoint, then route. It owns all writes to the session document.
func (m *Manager) runSession(ctx context.Context, entry *graphEntry, sess *domain.Session, execCtx *executionContext, resumedWithInput bool) {
	started := time.Now()
	current := sess.CurrentNode

	for {
		if ctx.Err() != nil {
			m.finishSession(sess, execCtx, domain.SessionFailed, "cancelled", domain.EventExecutionCancelled, started)
			return
		}

		spec := entry.spec.Nodes[current]
		if spec == nil {
			m.finishSession(sess, execCtx, domain.SessionFailed,
				fmt.Sprintf("node %s not in graph", current), domain.EventExecutionFailed, started)
			return
		}

		// A pause node waits for operator input before its turn loop runs.
		// Resumption re-enters here with the input already in memory.
		if entry.spec.IsPauseNode(current) && !resumedWithInput {
			m.pauseSession(sess, execCtx, current)
			return
		}
		resumedWithInput = false

		sess.CurrentNode = current
		sess.ExecutionPath = append(sess.ExecutionPath, current)
		visits := sess.NodeVisitCounts[current] + 1
		limitBreached := spec.MaxNodeVisits > 0 && visits > spec.MaxNodeVisits
		if !limitBreached {
			// The breaching entry never runs, so the persisted counter stays
			// capped at the limit.
			sess.NodeVisitCounts[current] = visits
		}
		sess.UpdatedAt = time.Now().UTC()
		m.saveSession(sess)

		m.emit(domain.Event{
			Type:        domain.EventNodeStarted,
			ExecutionID: sess.ExecutionID,
			GraphID:     sess.GraphID,
			NodeID:      current,
			StreamID:    sess.ID,
			Payload:     map[string]any{"visit": visits},
		})

		var result *domain.NodeResult
		nodeStarted := time.Now()

		if limitBreached {
			// Fail the branch, not the session; existing on_failure edges
			// decide what happens next.
			result = domain.NewFailureResult(current, domain.ReasonVisitLimit,
				fmt.Errorf("%w: node %s entry %d exceeds limit %d",
					domain.ErrVisitLimitExceeded, current, visits, spec.MaxNodeVisits))
		} else {
			result = m.nodes.Execute(ctx, &node.Request{
				Session: sess,
				Node:    spec,
				Loop:    m.effectiveLoop(entry.spec.Loop),
				Memory:  m.memoryScope(sess, spec),
			})
		}

		if result.Reason == domain.ReasonCancelled {
			m.finishSession(sess, execCtx, domain.SessionFailed, "cancelled", domain.EventExecutionCancelled, started)
			return
		}
		if result.AwaitingInput {
			m.pauseSession(sess, execCtx, current)
			return
		}

		// Shared memory is mutated only here, after output validation, never
		// mid-turn by the node itself.
		view := sess.Memory
		if result.Success && len(result.Output) > 0 {
			if spec.Isolation == domain.IsolationIsolated {
				view = sess.Memory.Clone()
				for k, v := range result.Output {
					view[k] = v
				}
			} else {
				for k, v := range result.Output {
					sess.Memory[k] = v
				}
			}
		}

		m.recordStep(sess, current, result)
		m.emitNodeOutcome(sess, current, result, time.Since(nodeStarted))

		cp := domain.NewCheckpoint(uuid.New().String(), sess)
		if err := m.store.SaveCheckpoint(context.Background(), cp); err != nil {
			m.logger.Error("failed to write checkpoint",
				zap.String("session_id", sess.ID),
				zap.String("node_id", current),
				zap.Error(err))
		}

		next, matched := entry.route(current, result.Success, view)
		if !matched {
			if entry.spec.IsTerminal(current) {
				m.finishSession(sess, execCtx, domain.SessionCompleted, "", domain.EventExecutionCompleted, started)
			} else {
				m.finishSession(sess, execCtx, domain.SessionFailed,
					fmt.Sprintf("%v at node %s", domain.ErrDeadEnd, current), domain.EventExecutionFailed, started)
			}
			return
		}

		m.saveSession(sess)
		current = next
	}
}

// route evaluates outbound edges in priority order; the first matching
// condition wins.
func (e *graphEntry) route(nodeID string, success bool, view domain.Memory) (string, bool) {
	for _, ce := range e.edges[nodeID] {
		switch ce.spec.Condition {
		case domain.ConditionOnSuccess:
			if success {
				return ce.spec.Target, true
			}
		case domain.ConditionOnFailure:
			if !success {
				return ce.spec.Target, true
			}
		case domain.ConditionExpression:
			if ce.cond != nil && ce.cond.Evaluate(view) {
				return ce.spec.Target, true
			}
		}
	}
	return "", false
}

// memoryScope hands the node either the shared map or a private copy of its
// declared inputs, selected per invocation. Isolated scopes are never merged
// back.
func (m *Manager) memoryScope(sess *domain.Session, spec *domain.NodeSpec) domain.Memory {
	if spec.Isolation != domain.IsolationIsolated {
		return sess.Memory
	}
	scope := make(domain.Memory, len(spec.InputKeys))
	for _, key := range spec.InputKeys {
		if v, ok := sess.Memory[key]; ok {
			scope[key] = v
		}
	}
	return scope
}

func (m *Manager) effectiveLoop(g domain.LoopConfig) domain.LoopConfig {
	out := g
	if out.MaxIterations <= 0 {
		out.MaxIterations = m.loop.MaxIterations
	}
	if out.MaxToolCallsPerTurn <= 0 {
		out.MaxToolCallsPerTurn = m.loop.MaxToolCallsPerTurn
	}
	if out.MaxHistoryTokens <= 0 {
		out.MaxHistoryTokens = m.loop.MaxHistoryTokens
	}
	return out
}

// pauseSession records the pause point, checkpoints, and returns without
// blocking. The execution context stays registered, awaiting InjectInput.
func (m *Manager) pauseSession(sess *domain.Session, execCtx *executionContext, nodeID string) {
	sess.Status = domain.SessionPaused
	sess.PausedAt = nodeID
	sess.CurrentNode = nodeID
	sess.UpdatedAt = time.Now().UTC()
	m.saveSession(sess)

	cp := domain.NewCheckpoint(uuid.New().String(), sess)
	if err := m.store.SaveCheckpoint(context.Background(), cp); err != nil {
		m.logger.Error("failed to write pause checkpoint",
			zap.String("session_id", sess.ID),
			zap.Error(err))
	}

	execCtx.mu.Lock()
	execCtx.awaitingNode = nodeID
	execCtx.mu.Unlock()

	m.emit(domain.Event{
		Type:        domain.EventExecutionPaused,
		ExecutionID: sess.ExecutionID,
		GraphID:     sess.GraphID,
		NodeID:      nodeID,
		StreamID:    sess.ID,
	})
	m.logger.Info("execution paused awaiting input",
		zap.String("execution_id", sess.ExecutionID),
		zap.String("node_id", nodeID))
}

// InjectInput delivers operator content to a node currently awaiting input.
// It reports false when nothing is awaiting; graphID narrows the match. The
// pause point is claimed test-and-set under the execution's lock, so of two
// concurrent callers exactly one delivers and restarts the run loop.
func (m *Manager) InjectInput(ctx context.Context, nodeID, content, graphID string) bool {
	var target *executionContext
	m.executions.Range(func(_, value any) bool {
		ec := value.(*executionContext)
		if graphID != "" && ec.graphID != graphID {
			return true
		}
		ec.mu.Lock()
		claimed := ec.awaitingNode == nodeID && !ec.terminal && !ec.cancelled
		if claimed {
			ec.awaitingNode = ""
		}
		ec.mu.Unlock()
		if claimed {
			target = ec
			return false
		}
		return true
	})
	if target == nil {
		return false
	}

	// Failed delivery restores the claim so a later call can still land.
	restore := func() {
		target.mu.Lock()
		target.awaitingNode = nodeID
		target.mu.Unlock()
	}

	sess, err := m.store.LoadSession(ctx, target.sessionID)
	if err != nil {
		m.logger.Error("failed to load paused session",
			zap.String("session_id", target.sessionID),
			zap.Error(err))
		restore()
		return false
	}

	entry, err := m.graphEntry(sess.GraphID)
	if err != nil {
		restore()
		return false
	}

	runCtx, cancel := context.WithCancel(context.Background())
	target.mu.Lock()
	if target.cancelled {
		// A cancel landed between the claim and here; honor it instead of
		// restarting the session.
		target.mu.Unlock()
		cancel()
		m.finishPaused(target)
		return false
	}
	stale := target.cancel
	target.cancel = cancel
	target.mu.Unlock()
	stale()

	sess.Status = domain.SessionRunning
	sess.PausedAt = ""
	sess.Memory[HumanInputKey] = content
	sess.UpdatedAt = time.Now().UTC()
	m.saveSession(sess)

	m.emit(domain.Event{
		Type:        domain.EventExecutionResumed,
		ExecutionID: sess.ExecutionID,
		GraphID:     sess.GraphID,
		NodeID:      nodeID,
		StreamID:    sess.ID,
	})

	go m.runSession(runCtx, entry, sess, target, true)

	return true
}

// CancelExecution requests cooperative cancellation. A running loop observes
// it at the next turn boundary or between tool calls; a call already in
// flight completes first. A paused execution has no loop left to observe the
// context, so its session is finalized here and later InjectInput calls are
// refused.
func (m *Manager) CancelExecution(executionID string) bool {
	value, ok := m.executions.Load(executionID)
	if !ok {
		return false
	}
	ec := value.(*executionContext)

	ec.mu.Lock()
	if ec.terminal {
		ec.mu.Unlock()
		return false
	}
	ec.cancelled = true
	awaiting := ec.awaitingNode
	ec.awaitingNode = ""
	cancelFn := ec.cancel
	ec.mu.Unlock()

	cancelFn()
	m.logger.Info("cancellation requested",
		zap.String("execution_id", executionID))

	if awaiting != "" {
		m.finishPaused(ec)
	}
	return true
}

// finishPaused transitions a paused execution's session to its cancelled
// terminal state.
func (m *Manager) finishPaused(ec *executionContext) {
	sess, err := m.store.LoadSession(context.Background(), ec.sessionID)
	if err != nil {
		m.logger.Error("failed to load paused session for cancellation",
			zap.String("session_id", ec.sessionID),
			zap.Error(err))
		return
	}
	m.finishSession(sess, ec, domain.SessionFailed, "cancelled", domain.EventExecutionCancelled, sess.CreatedAt)
}

// GetGoalProgress is a pure read: session memory and execution path scored
// against the graph's declared success criteria weights.
func (m *Manager) GetGoalProgress(ctx context.Context, executionID string) (*domain.GoalProgress, error) {
	value, ok := m.executions.Load(executionID)
	if !ok {
		return nil, fmt.Errorf("execution %s: %w", executionID, domain.ErrNotFound)
	}
	ec := value.(*executionContext)

	sess, err := m.store.LoadSession(ctx, ec.sessionID)
	if err != nil {
		return nil, err
	}
	entry, err := m.graphEntry(sess.GraphID)
	if err != nil {
		return nil, err
	}

	progress := &domain.GoalProgress{
		ExecutionID:  executionID,
		SessionID:    sess.ID,
		Status:       sess.Status,
		NodesVisited: len(sess.ExecutionPath),
	}
	for _, n := range entry.spec.Nodes {
		for _, c := range n.SuccessCriteria {
			progress.TotalWeight += c.Weight
			if v, present := sess.Memory[c.Key]; present && v != nil {
				progress.SatisfiedWeight += c.Weight
			}
		}
	}
	if progress.TotalWeight > 0 {
		progress.Ratio = progress.SatisfiedWeight / progress.TotalWeight
	}
	return progress, nil
}

// GetSession loads a session document.
func (m *Manager) GetSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	return m.store.LoadSession(ctx, sessionID)
}

func (m *Manager) finishSession(sess *domain.Session, execCtx *executionContext, status domain.SessionStatus, errMsg string, eventType domain.EventType, started time.Time) {
	now := time.Now().UTC()
	sess.Status = status
	sess.Error = errMsg
	sess.UpdatedAt = now
	sess.CompletedAt = &now
	m.saveSession(sess)

	execCtx.mu.Lock()
	execCtx.terminal = true
	execCtx.awaitingNode = ""
	cancelFn := execCtx.cancel
	execCtx.mu.Unlock()
	cancelFn()

	if m.metrics != nil {
		m.metrics.RecordSessionFinished(string(status), time.Since(started))
	}

	payload := map[string]any{"execution_path": sess.ExecutionPath}
	if errMsg != "" {
		payload["error"] = errMsg
	}
	m.emit(domain.Event{
		Type:        eventType,
		ExecutionID: sess.ExecutionID,
		GraphID:     sess.GraphID,
		NodeID:      sess.CurrentNode,
		StreamID:    sess.ID,
		Payload:     payload,
	})

	m.logger.Info("execution finished",
		zap.String("execution_id", sess.ExecutionID),
		zap.String("session_id", sess.ID),
		zap.String("status", string(status)),
		zap.Strings("execution_path", sess.ExecutionPath))
}

func (m *Manager) recordStep(sess *domain.Session, nodeID string, result *domain.NodeResult) {
	verdict := domain.VerdictPositive
	summary := "ok"
	if !result.Success {
		verdict = domain.VerdictNegative
		summary = result.Error
		if summary == "" {
			summary = string(result.Reason)
		}
	}
	rec := &domain.StepRecord{
		SessionID: sess.ID,
		NodeID:    nodeID,
		Turn:      len(sess.ExecutionPath),
		Verdict:   verdict,
		Summary:   summary,
		Timestamp: time.Now().UTC(),
	}
	if err := m.store.AppendStep(context.Background(), rec); err != nil {
		m.logger.Error("failed to append step record",
			zap.String("session_id", sess.ID),
			zap.Error(err))
	}
}

func (m *Manager) emitNodeOutcome(sess *domain.Session, nodeID string, result *domain.NodeResult, elapsed time.Duration) {
	eventType := domain.EventNodeCompleted
	status := "completed"
	payload := map[string]any{"turns": result.Turns}
	if !result.Success {
		eventType = domain.EventNodeFailed
		status = "failed"
		payload["reason"] = string(result.Reason)
		if result.Error != "" {
			payload["error"] = result.Error
		}
	}

	if m.metrics != nil {
		nodeType := ""
		if entry, err := m.graphEntry(sess.GraphID); err == nil && entry.spec.Nodes[nodeID] != nil {
			nodeType = entry.spec.Nodes[nodeID].Type
		}
		m.metrics.RecordNodeExecuted(nodeType, status, elapsed)
	}

	m.emit(domain.Event{
		Type:        eventType,
		ExecutionID: sess.ExecutionID,
		GraphID:     sess.GraphID,
		NodeID:      nodeID,
		StreamID:    sess.ID,
		Payload:     payload,
	})
}

func (m *Manager) saveSession(sess *domain.Session) {
	if err := m.store.SaveSession(context.Background(), sess); err != nil {
		m.logger.Error("failed to save session",
			zap.String("session_id", sess.ID),
			zap.Error(err))
	}
}

func (m *Manager) emit(event domain.Event) {
	m.bus.Emit(context.Background(), event)
}

// Shutdown cancels all live executions and waits briefly for them to settle.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.logger.Info("shutting down graph executor")

	m.executions.Range(func(_, value any) bool {
		ec := value.(*executionContext)
		ec.mu.Lock()
		cancelFn := ec.cancel
		ec.mu.Unlock()
		cancelFn()
		return true
	})

	select {
	case <-ctx.Done():
		return errors.New("shutdown timeout")
	case <-time.After(100 * time.Millisecond):
	}

	m.logger.Info("graph executor shut down complete")
	return nil
}
