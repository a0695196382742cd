package monitor

import (
	"sort"
	"sync"
)

type Dir int

const (
	DirSame Dir = 0
	DirUp   Dir = +1
	DirDown Dir = -1
)

// Mark 一个持仓最近一次的标记结果
type Mark struct {
	PositionID      string
	Symbol          string
	LongExchange    string
	ShortExchange   string
	EntryDivergence float64
	Divergence      float64
	HasQuote        bool
	Dir             Dir
	Flagged         bool
	Reason          string
}

// State 仅用于展示的标记缓存，不是持仓的事实来源
type State struct {
	mu    sync.Mutex
	marks map[string]Mark
}

func NewState() *State {
	return &State{marks: make(map[string]Mark)}
}

// Apply 写入新标记并计算相对上次的方向
func (s *State) Apply(m Mark) Mark {
	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.marks[m.PositionID]; ok && prev.HasQuote && m.HasQuote {
		switch {
		case m.Divergence > prev.Divergence:
			m.Dir = DirUp
		case m.Divergence < prev.Divergence:
			m.Dir = DirDown
		}
	}
	s.marks[m.PositionID] = m
	return m
}

// Retain 只保留仍为 open 的持仓
func (s *State) Retain(ids map[string]bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id := range s.marks {
		if !ids[id] {
			delete(s.marks, id)
		}
	}
}

// Snapshot 按 symbol、持仓 ID 排序的标记
func (s *State) Snapshot() []Mark {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Mark, 0, len(s.marks))
	for _, m := range s.marks {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Symbol != out[j].Symbol {
			return out[i].Symbol < out[j].Symbol
		}
		return out[i].PositionID < out[j].PositionID
	})
	return out
}
