package state

import (
	"github.com/testpipe/testpipe/protocol"
	"github.com/testpipe/testpipe/types"
)

// Handler adapters. These let the aggregator register directly with the
// dispatcher; it receives collection and test lifecycle messages.

func (a *Aggregator) HandleCollectionStart() {
	a.log.Debug("collection started")
}

func (a *Aggregator) HandleCollectReport(report protocol.CollectReportRepresentation) {
	a.AddCollected(report)
}

func (a *Aggregator) HandleDeselect(items []protocol.ItemRepresentation) {
	a.Deselect(items)
}

// HandleCollectionFinish registers any item the final list carries that no
// collection report mentioned, so the record map matches the engine's view.
func (a *Aggregator) HandleCollectionFinish(items []protocol.ItemRepresentation) {
	for _, item := range items {
		if _, ok := a.records[item.NodeID]; ok {
			continue
		}
		a.records[item.NodeID] = NewTestRecord(item)
		a.order = append(a.order, item.NodeID)
	}
	counts := a.CollectionProgress()
	a.log.Info("collection finished",
		"selected", counts.Selected,
		"deselected", counts.Deselected,
		"failed", counts.Failed)
}

func (a *Aggregator) HandleStartRunPhase() {
	a.log.Debug("run phase started")
}

func (a *Aggregator) HandleStartTest(id types.NodeID) {
	a.StartTest(id)
}

func (a *Aggregator) HandleTestReport(report protocol.TestReportRepresentation) {
	a.StorePhaseReport(report)
}

func (a *Aggregator) HandleEndTest(id types.NodeID) {
	a.EndTest(id)
}
