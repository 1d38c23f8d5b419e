package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/LJTian/SectorPulse/internal/archive"
	"github.com/LJTian/SectorPulse/internal/collector"
	"github.com/LJTian/SectorPulse/internal/metrics"
)

// EventSaver 导出事件的可选持久化
type EventSaver interface {
	SaveEvents(ctx context.Context, runDate string, events []archive.Event) (int, error)
}

type Scheduler struct {
	cron     *cron.Cron
	fetchers []collector.Fetcher
	store    EventSaver
	outDir   string
	now      func() time.Time
	log      *logrus.Entry

	// 同一时间只允许一轮导出
	mu sync.Mutex
}

type Option func(*Scheduler)

func WithStore(store EventSaver) Option {
	return func(s *Scheduler) { s.store = store }
}

func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

func WithLogger(l *logrus.Entry) Option {
	return func(s *Scheduler) { s.log = l }
}

func New(fetchers []collector.Fetcher, outDir string, opts ...Option) *Scheduler {
	s := &Scheduler{
		cron:     cron.New(),
		fetchers: fetchers,
		outDir:   outDir,
		now:      time.Now,
		log:      logrus.NewEntry(logrus.StandardLogger()),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Result 一轮导出的结果
type Result struct {
	Path   string
	Events int
	Saved  int
}

// Schedule 按 cron 表达式注册定时导出
func (s *Scheduler) Schedule(spec string) error {
	_, err := s.cron.AddFunc(spec, func() {
		if _, err := s.RunOnce(context.Background()); err != nil {
			s.log.WithError(err).Error("scheduled export failed")
		}
	})
	return err
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop 返回的 context 在正在执行的任务结束后关闭
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

// RunOnce 依次执行所有数据源，写出当天的归档文件；单个数据源失败只记日志
func (s *Scheduler) RunOnce(ctx context.Context) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	day := s.now()
	runDate := day.Format("2006-01-02")
	s.log.WithField("run_date", runDate).Info("start export job...")

	a := archive.New()
	for _, f := range s.fetchers {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		name := f.Name()
		entry := s.log.WithField("fetcher", name)

		events, err := f.Fetch(ctx)
		if err != nil {
			entry.WithError(err).Warn("fetch failed")
			if len(events) == 0 {
				continue
			}
		}
		if !a.Add(events...) {
			entry.Warn("events with unknown bucket dropped")
		}
		entry.WithField("events", len(events)).Info("fetch done")
	}

	path, err := a.Write(s.outDir, day, s.log)
	if err != nil {
		return Result{}, err
	}
	all := a.All()
	for _, e := range all {
		metrics.ExportedEvents.WithLabelValues(e.Bucket.Category, e.Bucket.Sector).Inc()
	}

	res := Result{Path: path, Events: len(all)}
	if s.store != nil {
		n, err := s.store.SaveEvents(ctx, runDate, all)
		if err != nil {
			// 文件已经写出，数据库失败不影响本轮结果
			s.log.WithError(err).Warn("save events failed")
		}
		res.Saved = n
	}

	s.log.WithFields(logrus.Fields{
		"path":   res.Path,
		"events": res.Events,
		"saved":  res.Saved,
	}).Info("export job done")
	return res, nil
}
