package graph

// Reducer merges an incoming partial value for one state key into the
// current value. Nodes and Send sub-states only ever produce deltas; the
// Schema's declared Reducer for each key decides how a delta is folded
// into the canonical State.
type Reducer func(current, incoming any) any

// Schema declares the full set of state keys a graph may read or write,
// and the Reducer each uses to merge node output. Keys absent from the
// Schema are not rejected by Builder.Freeze; Merge ignores them.
type Schema map[string]Reducer

// ReplaceReducer implements the default reducer: "replace with new value
// if present". A nil incoming value leaves current untouched, so a node
// that doesn't touch a key need not mention it in its returned delta.
func ReplaceReducer(current, incoming any) any {
	if incoming == nil {
		return current
	}
	return incoming
}

// MessagesReducer implements the add-messages reducer (§4.4): append with
// id-based deduplication (an incoming message with the same id as an
// existing one replaces it in place), honouring Remove sentinels (a
// message tagged Remove is elided from the result entirely).
func MessagesReducer(current, incoming any) any {
	cur, _ := current.([]Message)
	add, _ := incoming.([]Message)
	if len(add) == 0 {
		return cur
	}

	byID := make(map[string]int, len(cur))
	out := make([]Message, 0, len(cur)+len(add))
	for _, m := range cur {
		byID[m.ID] = len(out)
		out = append(out, m)
	}

	for _, m := range add {
		if idx, ok := byID[m.ID]; ok {
			if m.Remove {
				out = removeAt(out, idx, byID)
				continue
			}
			out[idx] = m
			continue
		}
		if m.Remove {
			continue
		}
		byID[m.ID] = len(out)
		out = append(out, m)
	}
	return out
}

// removeAt deletes the message at idx and shifts every later index in
// byID down by one so subsequent lookups stay correct.
func removeAt(msgs []Message, idx int, byID map[string]int) []Message {
	removedID := msgs[idx].ID
	msgs = append(msgs[:idx], msgs[idx+1:]...)
	delete(byID, removedID)
	for id, i := range byID {
		if i > idx {
			byID[id] = i - 1
		}
	}
	return msgs
}

// EventsCap is the maximum length of the events key (§3, §4.4).
const EventsCap = 50

// EventsReducer implements "append, cap at 50" (§4.4).
func EventsReducer(current, incoming any) any {
	cur, _ := current.([]Event)
	add, _ := incoming.([]Event)
	if len(add) == 0 {
		return cur
	}
	out := append(append([]Event{}, cur...), add...)
	if len(out) > EventsCap {
		out = out[len(out)-EventsCap:]
	}
	return out
}

// DefaultOrchestratorSchema declares the reducers for every key in the
// orchestrator state (§3).
func DefaultOrchestratorSchema() Schema {
	return Schema{
		KeyMessages:              MessagesReducer,
		KeySummary:               ReplaceReducer,
		KeyMemory:                ReplaceReducer,
		KeyEvents:                EventsReducer,
		KeyUserID:                ReplaceReducer,
		KeyThreadID:              ReplaceReducer,
		KeyMemoryInitDone:        ReplaceReducer,
		KeyLastMemoryUpdateIndex: ReplaceReducer,
		KeyLastSummaryIndex:      ReplaceReducer,
		KeyNeedsPlanExecute:      ReplaceReducer,
		KeyPlanExecuteTask:       ReplaceReducer,
		KeyPlanExecuteApproval:   ReplaceReducer,
	}
}

// Merge applies every key in delta to base according to schema, returning
// a new State. Keys in delta that schema doesn't declare are silently
// dropped; nothing rejects them earlier.
func (schema Schema) Merge(base State, delta State) State {
	out := base.Clone()
	for key, incoming := range delta {
		reducer, ok := schema[key]
		if !ok {
			continue
		}
		out[key] = reducer(out[key], incoming)
	}
	return out
}
