package flowsteer

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/momentics/kbecho/internal/pmd"
	"github.com/momentics/kbecho/internal/pmd/fakepmd"
)

func TestPlan_RuleCountAndRange(t *testing.T) {
	rules := Plan(4)
	require.Len(t, rules, RuleCount)
	for _, r := range rules {
		require.GreaterOrEqual(t, r.SrcPort, uint16(1))
		require.LessOrEqual(t, r.SrcPort, uint16(RuleCount))
		require.True(t, r.QueueIdx >= 0 && r.QueueIdx < 4)
	}
}

func TestPlan_WorkerAssignmentProperty(t *testing.T) {
	rules := Plan(5)
	byPort := make(map[uint16]int, len(rules))
	for _, r := range rules {
		byPort[r.SrcPort] = r.QueueIdx
	}
	for port, queue := range byPort {
		require.Equal(t, WorkerFor(port, 5), queue)
	}
}

func TestPlan_ZeroWorkersIsEmpty(t *testing.T) {
	require.Nil(t, Plan(0))
}

func TestInstall_RejectsOutOfRangeQueue(t *testing.T) {
	backend := fakepmd.New()
	bad := []pmd.FlowRule{{SrcPort: 1, QueueIdx: 9}}
	err := Install(backend, bad, 2, nil)
	require.Error(t, err)
}

func TestInstall_CommitsValidPlan(t *testing.T) {
	backend := fakepmd.New()
	require.NoError(t, backend.Init(3, 3))
	rules := Plan(3)
	require.NoError(t, Install(backend, rules, 3, nil))
}
