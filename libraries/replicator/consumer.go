package replicator

import (
	"github.com/redocdc/core/libraries/reader"
	"github.com/redocdc/core/libraries/redotypes"
)

// Consumer is the record-stream interface boundary spec.md §2 places out of
// scope ("the redo-record parser that decodes individual opcodes" is an
// external collaborator). DrainUntilTerminal stands in for that parser: it
// must consume [bufferStart, bufferEnd) via r.ReadInto/r.ConfirmReadData
// until r.CheckFinished reports a terminal state, then return the reader's
// final Ret().
type Consumer interface {
	DrainUntilTerminal(r *reader.Reader) redotypes.RedoCode
}

// PassthroughConsumer confirms every published byte without decoding it.
// It lets this module drive a Reader to completion end-to-end with no
// parser attached — useful standalone and in tests; a real deployment
// wires in a Consumer that hands bytes to the actual opcode parser before
// confirming them.
type PassthroughConsumer struct{}

func (PassthroughConsumer) DrainUntilTerminal(r *reader.Reader) redotypes.RedoCode {
	offset := r.GetBufferStart()
	for {
		finished := r.CheckFinished(offset)
		if end := r.GetBufferEnd(); end > offset {
			r.ConfirmReadData(end)
			offset = end
		}
		if finished {
			return r.Ret()
		}
	}
}

var _ Consumer = PassthroughConsumer{}
