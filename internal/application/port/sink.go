package port

import (
	"time"

	"fundarb/internal/domain/model"
)

// Sink 结果输出（控制台等展示层）
type Sink interface {
	WriteOpportunities(opps []model.ArbitrageOpportunity) error
	WritePositions(positions []model.Position) error
	WriteSummary(summary model.PortfolioSummary) error
	WriteCollection(summary model.CollectionSummary) error
}

// LiveSink 单行刷新输出
type LiveSink interface {
	// Live line: overwrite last line (no newline)
	WriteLive(line string) error
	// Snapshot line: append a historical line with timestamp
	WriteSnapshot(ts time.Time, line string) error
	NewLine() error
}
