package coordinator

import (
	"github.com/vadl-tools/cosim-broker/internal/diffengine"
	"github.com/vadl-tools/cosim-broker/internal/logx"
)

// syncInfo is one client's TB boundaries for the current resync round.
type syncInfo struct {
	startPC     uint64
	endPC       uint64
	tbSize      uint64
	clientIndex int
}

// isJump reports whether the client's end_pc is not the fall-through
// address of a tbSize*4-byte linear TB.
func (s syncInfo) isJump() bool {
	return s.startPC+s.tbSize*4 != s.endPC
}

// syncClients restores PC-alignment across clients whose TBs may have
// fused a different number of instructions this round. Each popped
// client is re-stepped via the coordinator's client endpoints.
func (c *Coordinator) syncClients(infos []syncInfo) error {
	if len(infos) == 0 {
		return nil
	}

	for i := 1; i < len(infos); i++ {
		if infos[i].startPC != infos[0].startPC {
			c.log.Warn("clients entered resync unsynced",
				logx.Uint32("client_a", uint32(infos[0].clientIndex)),
				logx.Uint32("client_b", uint32(infos[i].clientIndex)))
		}
	}

	var target uint64
	jumped := false
	for _, info := range infos {
		if info.isJump() {
			target = info.endPC
			jumped = true
			break
		}
	}
	if !jumped {
		for _, info := range infos {
			if info.endPC > target {
				target = info.endPC
			}
		}
	}

	queue := make([]syncInfo, 0, len(infos))
	for _, info := range infos {
		if info.endPC != target {
			queue = append(queue, info)
		}
	}

	for len(queue) > 0 {
		info := queue[0]
		queue = queue[1:]

		cl := c.clients[info.clientIndex]
		acked, err := cl.Step()
		if err != nil {
			return err
		}
		if !acked {
			// client closed mid-resync; drop it from the queue, any
			// resulting divergence surfaces at the next compare.
			continue
		}

		tb, err := cl.ReadTBSnapshot()
		if err != nil {
			return err
		}
		newInfo := syncInfo{
			startPC:     info.endPC,
			endPC:       tb.PC,
			tbSize:      tb.InsnCount,
			clientIndex: info.clientIndex,
		}

		if !jumped && newInfo.endPC > target {
			return &IrrecoverableDivergence{
				ClientIndex: info.clientIndex,
				EndPC:       newInfo.endPC,
				Target:      target,
			}
		}
		if newInfo.endPC == target {
			continue
		}
		queue = append(queue, newInfo)
	}

	return nil
}

// runTBLoop implements the "tb" layer: step every open client once,
// resync their PCs, then compare state once all are aligned.
func (c *Coordinator) runTBLoop() ([]diffengine.Diff, error) {
	stopAfter := c.cfg.StopAfterNInstructions
	var diffs []diffengine.Diff

	for c.anyOpen() {
		infos := make([]syncInfo, 0, len(c.clients))
		for i, cl := range c.clients {
			if !cl.IsOpen {
				continue
			}
			before, err := cl.ReadTBSnapshot()
			if err != nil {
				return nil, err
			}
			startPC := before.PC

			acked, err := cl.Step()
			if err != nil {
				return nil, err
			}
			if !acked {
				continue
			}

			after, err := cl.ReadTBSnapshot()
			if err != nil {
				return nil, err
			}
			infos = append(infos, syncInfo{
				startPC:     startPC,
				endPC:       after.PC,
				tbSize:      after.InsnCount,
				clientIndex: i,
			})
		}

		if err := c.syncClients(infos); err != nil {
			return diffs, err
		}

		if !c.cfg.ExecuteAllRemainingInstructions {
			if stopAfter > 0 {
				stopAfter--
			} else {
				return diffs, nil
			}
		}

		roundDiffs, err := c.compareAndTrace()
		if err != nil {
			return nil, err
		}
		diffs = append(diffs, roundDiffs...)
		if len(diffs) > 0 {
			return diffs, nil
		}
	}
	return diffs, nil
}
