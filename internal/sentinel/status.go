package sentinel

import (
	"dex-pool-sentinel/internal/sentinel/chain"
	"dex-pool-sentinel/internal/sentinel/heat"
	"dex-pool-sentinel/internal/sentinel/orchestrator"
	"dex-pool-sentinel/internal/sentinel/types"
)

// ChainStatus 单链运行状态，供 REST 查询
type ChainStatus struct {
	Chain   types.ChainID            `json:"chain"`
	State   types.ConnectionState    `json:"state"`
	Reason  string                   `json:"reason,omitempty"`
	Stalled bool                     `json:"stalled"`
	Heat    *heat.State              `json:"heat,omitempty"`
	Task    *orchestrator.TaskStatus `json:"task,omitempty"`
	Budget  *chain.BudgetUsage       `json:"budget,omitempty"`
}

// ChainStatuses 按链 ID 排序返回
func (app *App) ChainStatuses() []ChainStatus {
	tasks := app.orchestrator.Status()
	monitor := app.orchestrator.Monitor()

	services := app.registry.All()
	out := make([]ChainStatus, 0, len(services))
	for _, s := range services {
		st := ChainStatus{Chain: s.Chain}
		st.State, st.Reason = s.State()
		if s.Gate != nil {
			snap := s.Gate.Snapshot()
			st.Heat = &snap
		}
		if s.Adapter != nil {
			usage := s.Adapter.Budget().Usage()
			st.Budget = &usage
		}
		if t, ok := tasks[s.Chain]; ok {
			st.Task = &t
			st.Stalled = monitor.IsStalled(s.Chain)
		}
		out = append(out, st)
	}
	return out
}
