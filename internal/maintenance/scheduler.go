package maintenance

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Job is a unit of maintenance work
type Job func(ctx context.Context) error

// EntryInfo describes a registered job
type EntryInfo struct {
	Name       string
	Expression string
	Next       time.Time
	Prev       time.Time
}

// Scheduler runs maintenance jobs on cron expressions with a seconds field.
// Descriptors such as "@every 30s" and "@daily" are accepted as well.
type Scheduler struct {
	logger *zap.Logger
	cron   *cron.Cron
	parser cron.Parser
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.RWMutex
	entries map[string]*entry
}

type entry struct {
	id         cron.EntryID
	expression string
	job        Job
}

// cronLogger adapts zap.Logger to cron.Logger
type cronLogger struct {
	logger *zap.Logger
}

func (l *cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, zap.Any("details", keysAndValues))
}

func (l *cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, zap.Error(err))
}

// NewScheduler creates a new maintenance scheduler
func NewScheduler(logger *zap.Logger) *Scheduler {
	cronLogger := &cronLogger{logger: logger.Named("cron")}
	parser := cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	cronOptions := []cron.Option{
		cron.WithParser(parser),
		cron.WithLogger(cronLogger),
		cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		logger:  logger.Named("maintenance"),
		cron:    cron.New(cronOptions...),
		parser:  parser,
		ctx:     ctx,
		cancel:  cancel,
		entries: make(map[string]*entry),
	}
}

// AddJob registers job under name on the given expression
func (s *Scheduler) AddJob(name, expression string, job Job) error {
	if _, err := s.parser.Parse(expression); err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", expression, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[name]; exists {
		return fmt.Errorf("job %s already registered", name)
	}

	id, err := s.cron.AddFunc(expression, func() {
		s.execute(name, job)
	})
	if err != nil {
		return fmt.Errorf("failed to add cron job: %w", err)
	}

	s.entries[name] = &entry{id: id, expression: expression, job: job}
	s.logger.Info("Added job",
		zap.String("name", name),
		zap.String("expression", expression))
	return nil
}

// RemoveJob unregisters the named job
func (s *Scheduler) RemoveJob(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[name]
	if !ok {
		return fmt.Errorf("job not found: %s", name)
	}
	s.cron.Remove(e.id)
	delete(s.entries, name)

	s.logger.Info("Removed job", zap.String("name", name))
	return nil
}

// RunNow executes the named job synchronously
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	s.mu.RLock()
	e, ok := s.entries[name]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("job not found: %s", name)
	}
	return e.job(ctx)
}

// Entries lists the registered jobs sorted by name
func (s *Scheduler) Entries() []EntryInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	infos := make([]EntryInfo, 0, len(s.entries))
	for name, e := range s.entries {
		ce := s.cron.Entry(e.id)
		infos = append(infos, EntryInfo{
			Name:       name,
			Expression: e.expression,
			Next:       ce.Next,
			Prev:       ce.Prev,
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

// Start starts running jobs in the background
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("Maintenance scheduler started", zap.Int("jobs", len(s.Entries())))
}

// Stop stops the scheduler and waits for running jobs to finish
func (s *Scheduler) Stop() {
	s.cancel()
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("Maintenance scheduler stopped")
}

func (s *Scheduler) execute(name string, job Job) {
	start := time.Now()
	if err := job(s.ctx); err != nil {
		s.logger.Error("Job failed",
			zap.String("name", name),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err))
		return
	}
	s.logger.Debug("Job finished",
		zap.String("name", name),
		zap.Duration("duration", time.Since(start)))
}
