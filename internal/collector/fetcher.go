package collector

import (
	"context"

	"github.com/LJTian/SectorPulse/internal/archive"
)

// Fetcher 抽象每一个导出数据源
type Fetcher interface {
	Name() string
	Fetch(ctx context.Context) ([]archive.Event, error)
}
