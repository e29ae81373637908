// File: internal/flowsteer/flowsteer.go
// Package flowsteer computes and installs the flow rule set that
// routes each TCP connection's source port to one worker's RX queue
// before any worker starts. With N workers, source port p in
// [1, RuleCount] is steered to worker (p-1) mod N, giving each such
// connection a deterministic home for its whole lifetime. WorkerFor
// applies the same formula to every port; ports above RuleCount get no
// flow rule.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Grounded on control/config.go's small, single-purpose store style
// and on internal/pmd.FlowRule/FlowSteerer, which this package is the
// sole client of outside of tests.

package flowsteer

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/momentics/kbecho/internal/pmd"
)

// RuleCount is the number of source ports the controller pre-steers,
// one rule per port in [1, RuleCount].
const RuleCount = 128

// Plan computes the flow rule set for nWorkers RX queues: rule i
// matches src_port == i+1 and steers to queue i mod nWorkers.
func Plan(nWorkers int) []pmd.FlowRule {
	if nWorkers <= 0 {
		return nil
	}
	rules := make([]pmd.FlowRule, RuleCount)
	for i := 0; i < RuleCount; i++ {
		rules[i] = pmd.FlowRule{
			SrcPort:  uint16(i + 1),
			QueueIdx: i % nWorkers,
		}
	}
	return rules
}

// WorkerFor returns which worker index a given source port lands on
// under the Plan(nWorkers) rule set: (p-1) mod nWorkers.
func WorkerFor(srcPort uint16, nWorkers int) int {
	if nWorkers <= 0 {
		return 0
	}
	return int(srcPort-1) % nWorkers
}

// Install validates the rule set (a dry run: every rule's queue index
// must be in range) and then commits it to steerer, logging the
// outcome. Installing a rule set with an out-of-range queue index is
// rejected before anything is sent to the backend.
func Install(steerer pmd.FlowSteerer, rules []pmd.FlowRule, nWorkers int, log *zap.Logger) error {
	for _, r := range rules {
		if r.QueueIdx < 0 || r.QueueIdx >= nWorkers {
			return fmt.Errorf("flowsteer: rule for port %d targets out-of-range queue %d (nWorkers=%d)", r.SrcPort, r.QueueIdx, nWorkers)
		}
	}
	if err := steerer.InstallFlowRules(rules); err != nil {
		return fmt.Errorf("flowsteer: install: %w", err)
	}
	if log != nil {
		log.Info("flow rules installed", zap.Int("rule_count", len(rules)), zap.Int("workers", nWorkers))
	}
	return nil
}
