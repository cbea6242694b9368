package app

import (
	"context"
	"errors"
	"time"

	"gasfund/internal/feed"
	"gasfund/internal/gas"
	"gasfund/internal/oracle"
	"gasfund/internal/service"
)

// SimulateAlert 通过给定的分档 gas 价格模拟一次告警流程。
func (a *App) SimulateAlert(ctx context.Context, fast, standard, slow uint64) error {
	if !a.Config.Alerting.Enabled {
		return errors.New("alerting 未启用")
	}

	notifier := a.newNotifier()
	if notifier == nil {
		return errors.New("未配置任何告警通道")
	}

	src := &staticSource{sample: gas.Sample{
		Fast:     fast,
		Standard: standard,
		Slow:     slow,
		Source:   "simulated",
	}}
	orc := oracle.New([]feed.Source{src}, nil, nil, a.Config.Oracle, a.Logger)

	svc := service.New(a.Config, nil, orc, nil, nil, nil, notifier, a.Logger)

	bucket := time.Now().UTC().Truncate(a.Config.Scheduler.Interval)
	return svc.ProcessBucket(ctx, bucket)
}

type staticSource struct {
	sample gas.Sample
}

func (s *staticSource) Name() string { return "simulated" }

func (s *staticSource) Sample(ctx context.Context) (gas.Sample, error) {
	out := s.sample
	out.At = time.Now().UTC()
	return out, nil
}

var _ feed.Source = (*staticSource)(nil)
