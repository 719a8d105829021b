// Package agentcore implements the main documentation loop (§4.7): it
// drains the persistent queue with bounded parallelism, recovers crashed
// in-flight work, periodically rechecks documented programs for IDL
// upgrades, and notifies a webhook sink on completion.
package agentcore

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/soldocs/soldocs/pkg/discovery"
	"github.com/soldocs/soldocs/pkg/docgen"
	"github.com/soldocs/soldocs/pkg/logx"
	"github.com/soldocs/soldocs/pkg/metrics"
	"github.com/soldocs/soldocs/pkg/model"
	"github.com/soldocs/soldocs/pkg/store"
)

// upgradeCheckEvery is the number of main-loop iterations between upgrade
// checks (§4.7: "when it reaches 12, reset to 0").
const upgradeCheckEvery = 12

// Generator is implemented by pkg/docgen.Pipeline.
type Generator interface {
	Generate(ctx context.Context, idl map[string]any, programID, idlHash string) (*model.Documentation, []string, []docgen.PassStatus, error)
}

// GetAccountFunc and FetchIDLFunc adapt a concrete chain client into the
// function shape Agent needs, avoiding an import-cycle-prone interface on
// a struct with unexported internals.
type GetAccountFunc func(ctx context.Context, address string) (*Account, error)
type FetchIDLFunc func(ctx context.Context, programID string) (map[string]any, error)

// Account is the subset of a fetched chain account the agent inspects.
type Account struct {
	Owner      string
	Executable bool
}

// NotifyFunc adapts pkg/webhook.Notify.
type NotifyFunc func(ctx context.Context, url string, doc model.Documentation) error

// Agent runs the cooperative documentation loop over a Store.
type Agent struct {
	store             *store.Store
	getAccount        GetAccountFunc
	fetchIDL          FetchIDLFunc
	generate          Generator
	notify            NotifyFunc
	webhookURL        string
	discoveryInterval time.Duration
	concurrency       int
	metrics           *metrics.Registry
	logger            *logx.Logger

	mu                  sync.Mutex
	running             bool
	startedAt           time.Time
	lastRunAt           time.Time
	errors              []model.AgentError
	upgradeCheckCounter int

	stopCh chan struct{}
	doneCh chan struct{}
}

// Config bundles Agent's construction parameters.
type Config struct {
	Store             *store.Store
	GetAccount        GetAccountFunc
	FetchIDL          FetchIDLFunc
	Generator         Generator
	Notify            NotifyFunc
	WebhookURL        string
	DiscoveryInterval time.Duration
	Concurrency       int
	Metrics           *metrics.Registry
}

// New constructs an Agent from cfg.
func New(cfg Config) *Agent {
	concurrency := cfg.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}
	return &Agent{
		store:             cfg.Store,
		getAccount:        cfg.GetAccount,
		fetchIDL:          cfg.FetchIDL,
		generate:          cfg.Generator,
		notify:            cfg.Notify,
		webhookURL:        cfg.WebhookURL,
		discoveryInterval: cfg.DiscoveryInterval,
		concurrency:       concurrency,
		metrics:           cfg.Metrics,
		logger:            logx.New("agentcore"),
	}
}

// Start runs the main loop until Stop is called or ctx is canceled. It
// blocks the calling goroutine; callers typically invoke it in its own
// goroutine.
func (a *Agent) Start(ctx context.Context) error {
	a.mu.Lock()
	a.running = true
	a.startedAt = time.Now().UTC()
	a.stopCh = make(chan struct{})
	a.doneCh = make(chan struct{})
	a.mu.Unlock()
	defer close(a.doneCh)

	if n, err := a.store.RecoverStuckItems(); err != nil {
		a.logger.Error("recover stuck items: %v", err)
	} else if n > 0 {
		a.logger.Info("recovered %d stuck queue items after restart", n)
	}

	if empty, err := a.store.IsEmpty(); err != nil {
		a.logger.Error("check empty store: %v", err)
	} else if empty {
		count, err := discovery.Seed(a.store)
		if err != nil {
			a.logger.Error("seed: %v", err)
		} else {
			a.logger.Info("seeded %d well-known programs", count)
		}
	}

	for a.isRunning() {
		a.processQueue(ctx)

		a.mu.Lock()
		a.lastRunAt = time.Now().UTC()
		a.upgradeCheckCounter++
		runUpgrade := a.upgradeCheckCounter >= upgradeCheckEvery
		if runUpgrade {
			a.upgradeCheckCounter = 0
		}
		a.mu.Unlock()

		if a.metrics != nil {
			a.metrics.AgentCyclesTotal.Inc()
		}

		if runUpgrade {
			a.runUpgradeCheck(ctx)
		}

		if !a.isRunning() {
			break
		}
		if !a.sleep(ctx) {
			break
		}
	}
	return nil
}

// sleep waits discoveryInterval, cancelable by ctx or Stop. It returns
// false if the wait was interrupted by shutdown.
func (a *Agent) sleep(ctx context.Context) bool {
	timer := time.NewTimer(a.discoveryInterval)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	case <-a.stopCh:
		return false
	}
}

func (a *Agent) isRunning() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.running
}

// Stop requests the loop exit at the next batch or sleep boundary and
// waits for it to do so.
func (a *Agent) Stop() {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return
	}
	a.running = false
	stopCh, doneCh := a.stopCh, a.doneCh
	a.mu.Unlock()

	close(stopCh)
	<-doneCh
}

// State is a live, deep-copied snapshot of the agent's runtime (§4.7):
// counters are re-folded from the store on every call rather than tracked
// in memory, so they survive a process restart exactly as programs.json
// does.
func (a *Agent) State() (model.AgentState, error) {
	pending, err := a.store.ListPending()
	if err != nil {
		return model.AgentState{}, fmt.Errorf("agentcore: list pending: %w", err)
	}
	stats, err := a.store.Stats()
	if err != nil {
		return model.AgentState{}, fmt.Errorf("agentcore: store stats: %w", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	errorsCopy := make([]model.AgentError, len(a.errors))
	copy(errorsCopy, a.errors)

	return model.AgentState{
		Running:            a.running,
		ProgramsDocumented: stats.Documented,
		ProgramsFailed:     stats.Failed,
		TotalProcessed:     stats.Documented + stats.Failed,
		QueueLength:        len(pending),
		StartedAt:          a.startedAt,
		LastRunAt:          a.lastRunAt,
		Errors:             errorsCopy,
	}, nil
}

// processQueue takes a snapshot of pending items and processes them in
// contiguous batches of size concurrency, waiting for each batch to settle
// before starting the next (§4.7).
func (a *Agent) processQueue(ctx context.Context) {
	pending, err := a.store.ListPending()
	if err != nil {
		a.logger.Error("list pending: %v", err)
		return
	}
	if a.metrics != nil {
		a.metrics.QueueLength.Set(float64(len(pending)))
	}

	for start := 0; start < len(pending); start += a.concurrency {
		if !a.isRunning() {
			return
		}
		end := start + a.concurrency
		if end > len(pending) {
			end = len(pending)
		}
		batch := pending[start:end]

		g, gctx := errgroup.WithContext(ctx)
		for _, item := range batch {
			item := item
			g.Go(func() error {
				a.processProgramSafe(gctx, item.ProgramID)
				return nil
			})
		}
		_ = g.Wait()
	}
}

// processProgramSafe wraps processProgram so a single program's failure
// never aborts the batch or the loop.
func (a *Agent) processProgramSafe(ctx context.Context, programID string) {
	if err := a.processProgram(ctx, programID); err != nil {
		msg := err.Error()
		a.recordFailure(programID, msg)
	}
}

func (a *Agent) recordFailure(programID, msg string) {
	_ = a.store.UpdateQueueItemSafe(programID, func(q *model.QueueItem) {
		q.Status = model.QueueFailed
		q.Attempts++
		q.LastError = msg
	})

	existing, ok, _ := a.store.GetProgram(programID)
	createdAt := time.Now().UTC()
	if ok {
		createdAt = existing.CreatedAt
	}
	name := programID
	if len(name) > 8 {
		name = name[:8] + "…"
	}
	_ = a.store.UpsertProgramSafe(model.ProgramMetadata{
		ProgramID:    programID,
		Name:         name,
		Status:       model.StatusFailed,
		ErrorMessage: msg,
		CreatedAt:    createdAt,
		UpdatedAt:    time.Now().UTC(),
	})

	a.appendError(programID, msg)
	if a.metrics != nil {
		a.metrics.ProgramsTotal.WithLabelValues("failed").Inc()
	}
}

// recordPasses labels soldocs_docgen_passes_total per pass actually
// attempted, instead of collapsing the pipeline into a single outcome.
func (a *Agent) recordPasses(passes []docgen.PassStatus) {
	if a.metrics == nil {
		return
	}
	for _, p := range passes {
		status := "ok"
		if p.Err != nil {
			status = "error"
		}
		a.metrics.DocgenPassesTotal.WithLabelValues(p.Name, status).Inc()
	}
}

func (a *Agent) appendError(programID, msg string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.errors = append(a.errors, model.AgentError{ProgramID: programID, Message: msg, Timestamp: time.Now().UTC()})
	if len(a.errors) > model.ErrorRingCap {
		a.errors = a.errors[len(a.errors)-model.ErrorRingCap:]
	}
	if a.metrics != nil {
		a.metrics.AgentErrorsTotal.Inc()
	}
}

// processProgram implements the §4.7 step sequence for one program.
func (a *Agent) processProgram(ctx context.Context, programID string) error {
	queue, err := a.store.ListQueue()
	if err != nil {
		return fmt.Errorf("list queue: %w", err)
	}
	var current *model.QueueItem
	for i := range queue {
		if queue[i].ProgramID == programID {
			current = &queue[i]
			break
		}
	}
	if current == nil {
		return nil
	}

	// Step 0: permanent failure once the retry budget is exhausted.
	if current.Attempts >= model.MaxAttempts {
		_ = a.store.RemoveQueueItemSafe(programID)
		msg := fmt.Sprintf("Permanently failed after %d attempts: %s", model.MaxAttempts, current.LastError)
		_ = a.store.UpsertProgramSafe(model.ProgramMetadata{
			ProgramID:    programID,
			Status:       model.StatusFailed,
			ErrorMessage: msg,
			UpdatedAt:    time.Now().UTC(),
		})
		a.appendError(programID, msg)
		return nil
	}

	// Step 1: mark processing.
	if err := a.store.UpdateQueueItemSafe(programID, func(q *model.QueueItem) {
		q.Status = model.QueueProcessing
	}); err != nil {
		return fmt.Errorf("mark processing: %w", err)
	}

	// Step 2: obtain the IDL.
	cached, hadCache, err := a.store.GetIDL(programID)
	if err != nil {
		return fmt.Errorf("read idl cache: %w", err)
	}
	var idl map[string]any
	var priorHash string
	if hadCache {
		idl = cached.IDL
		priorHash = cached.Hash
	} else {
		account, err := a.getAccount(ctx, programID)
		if err != nil {
			return fmt.Errorf("fetch account: %w", err)
		}
		if account == nil {
			return fmt.Errorf("program %s not found on chain", programID)
		}
		if !account.Executable {
			return fmt.Errorf("program %s account is not executable", programID)
		}
		idl, err = a.fetchIDL(ctx, programID)
		if err != nil {
			return fmt.Errorf("fetch idl: %w", err)
		}
		if idl == nil {
			return fmt.Errorf("no IDL found for program %s", programID)
		}
	}

	// Step 3: save IDL cache, skip regeneration if unchanged.
	savedIDL, err := a.store.SaveIDLSafe(programID, idl)
	if err != nil {
		return fmt.Errorf("save idl: %w", err)
	}
	_, hadDoc, err := a.store.GetDoc(programID)
	if err != nil {
		return fmt.Errorf("read doc: %w", err)
	}
	if hadCache && hadDoc && priorHash == savedIDL.Hash {
		return a.store.RemoveQueueItemSafe(programID)
	}

	// Step 4: generate and persist documentation.
	doc, warnings, passes, err := a.generate.Generate(ctx, idl, programID, savedIDL.Hash)
	a.recordPasses(passes)
	if err != nil {
		return fmt.Errorf("generate docs: %w", err)
	}
	for _, w := range warnings {
		a.logger.Warn("doc structural warning for %s: %s", programID, w)
	}
	if err := a.store.SaveDocSafe(*doc); err != nil {
		return fmt.Errorf("save doc: %w", err)
	}

	// Step 5: upsert program metadata.
	existing, hadProgram, err := a.store.GetProgram(programID)
	if err != nil {
		return fmt.Errorf("read program: %w", err)
	}
	createdAt := time.Now().UTC()
	if hadProgram {
		createdAt = existing.CreatedAt
	}
	meta := model.ProgramMetadata{
		ProgramID:        programID,
		Name:             doc.Name,
		Description:      summarize(doc.Overview),
		InstructionCount: listLen(idl, "instructions"),
		AccountCount:     listLen(idl, "accounts"),
		Status:           model.StatusDocumented,
		IDLHash:          savedIDL.Hash,
		CreatedAt:        createdAt,
		UpdatedAt:        time.Now().UTC(),
	}
	if err := a.store.UpsertProgramSafe(meta); err != nil {
		return fmt.Errorf("upsert program: %w", err)
	}

	if a.metrics != nil {
		a.metrics.ProgramsTotal.WithLabelValues("documented").Inc()
	}

	// Step 6: fire-and-forget webhook.
	if a.webhookURL != "" && a.notify != nil {
		if err := a.notify(ctx, a.webhookURL, *doc); err != nil {
			a.logger.Warn("webhook notification failed for %s: %v", programID, err)
		}
	}

	// Step 7: remove queue item.
	return a.store.RemoveQueueItemSafe(programID)
}

// runUpgradeCheck re-fetches the on-chain IDL for every documented program
// and enqueues any whose hash has changed (§4.7).
func (a *Agent) runUpgradeCheck(ctx context.Context) {
	candidates, err := discovery.UpgradeCandidates(a.store)
	if err != nil {
		a.logger.Error("upgrade check: list candidates: %v", err)
		return
	}
	for _, programID := range candidates {
		idl, err := a.fetchIDL(ctx, programID)
		if err != nil || idl == nil {
			continue
		}
		newHash := store.HashIDL(idl)
		cached, ok, err := a.store.GetIDL(programID)
		if err != nil {
			continue
		}
		if ok && cached.Hash == newHash {
			continue
		}
		if _, _, err := a.store.AddToQueueSafe(programID); err != nil {
			a.logger.Error("upgrade check: enqueue %s: %v", programID, err)
		}
	}
}

func listLen(idl map[string]any, key string) int {
	items, ok := idl[key].([]any)
	if !ok {
		return 0
	}
	return len(items)
}

// summarize derives ProgramMetadata.Description from a generated overview:
// leading "#", "*" and whitespace are stripped, then the first 200
// characters are kept and trimmed.
func summarize(overview string) string {
	s := strings.TrimLeft(overview, "#*\n \t")
	const maxLen = 200
	if len(s) > maxLen {
		s = s[:maxLen]
	}
	return strings.TrimSpace(s)
}
