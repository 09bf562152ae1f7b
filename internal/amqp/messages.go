package amqp

import (
	"encoding/json"
	"fmt"

	"gridbook/internal/ledger"
)

// EntryEventToJSON serializes a mirror event for the wire.
func EntryEventToJSON(ev ledger.EntryEvent) ([]byte, error) {
	return json.Marshal(ev)
}

// EntryEventFromJSON deserializes a mirror event from a delivery body.
func EntryEventFromJSON(data []byte) (ledger.EntryEvent, error) {
	var ev ledger.EntryEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return ledger.EntryEvent{}, fmt.Errorf("unmarshal entry event: %w", err)
	}
	switch ev.Action {
	case ledger.ActionUpsert, ledger.ActionDelete:
	default:
		return ledger.EntryEvent{}, fmt.Errorf("unknown entry event action %q", ev.Action)
	}
	return ev, nil
}
