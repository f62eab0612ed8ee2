package notebook

import (
	"fmt"

	"go-eventbook/pkg/eventlog"
	"go-eventbook/pkg/fractional"
)

// handledKinds is the set of event kinds this materializer folds into
// state; every other kind is ignored (spec §4.4's forward-compatibility
// rule).
var handledKinds = map[string]bool{
	"DocumentCreated":           true,
	"DocumentTitleUpdated":      true,
	"DocumentMetadataUpdated":   true,
	"CellCreated":               true,
	"CellSourceUpdated":         true,
	"CellExecutionStateChanged": true,
	"CellOutputCreated":         true,
	"CellMoved":                 true,
	"CellDeleted":               true,
	"DocumentDeleted":           true,
}

// Materializer is the pure fold from (state, event) to state for the
// notebook domain (spec §4.4). It is deterministic: identical inputs always
// produce identical outputs, with no ambient clock, file, or network read.
type Materializer struct{}

// InitialState returns a fresh, empty projection state.
func (Materializer) InitialState() State {
	return newState()
}

// Handles reports whether this materializer folds events of kind.
func (Materializer) Handles(kind string) bool {
	return handledKinds[kind]
}

// Apply folds event into state, returning the new state. state is never
// mutated. On success the returned state's LastProcessedTimestamp equals
// event.Timestamp, even when the event's kind is handled but its target
// entity doesn't (yet) exist — such events are accepted as no-ops per
// spec §4.4's per-kind table. On error Apply returns the input state
// unchanged together with the error.
func (m Materializer) Apply(state State, event eventlog.Event) (State, error) {
	next := state.clone()
	next.LastProcessedTimestamp = event.Timestamp

	switch event.Kind {
	case "DocumentCreated":
		applyDocumentCreated(&next, event)
	case "DocumentTitleUpdated":
		if err := applyDocumentTitleUpdated(&next, event); err != nil {
			return state, err
		}
	case "DocumentMetadataUpdated":
		if err := applyDocumentMetadataUpdated(&next, event); err != nil {
			return state, err
		}
	case "CellCreated":
		if err := applyCellCreated(&next, event); err != nil {
			return state, err
		}
	case "CellSourceUpdated":
		if err := applyCellSourceUpdated(&next, event); err != nil {
			return state, err
		}
	case "CellExecutionStateChanged":
		if err := applyCellExecutionStateChanged(&next, event); err != nil {
			return state, err
		}
	case "CellOutputCreated":
		if err := applyCellOutputCreated(&next, event); err != nil {
			return state, err
		}
	case "CellMoved":
		if err := applyCellMoved(&next, event); err != nil {
			return state, err
		}
	case "CellDeleted":
		if err := applyCellDeleted(&next, event); err != nil {
			return state, err
		}
	case "DocumentDeleted":
		applyDocumentDeleted(&next, event)
	default:
		// Unknown kind: inert beyond the timestamp bump (spec §8 property 5).
	}

	return next, nil
}

func validationErr(kind, field, msg string) error {
	return &eventlog.ValidationError{
		EventStoreError: eventlog.EventStoreError{Op: "Materializer.Apply(" + kind + ")", Err: fmt.Errorf("%s", msg)},
		Field:           field,
	}
}

func str(payload eventlog.Payload, key string) (string, bool) {
	v, ok := payload[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func strOr(payload eventlog.Payload, key, fallback string) string {
	if s, ok := str(payload, key); ok {
		return s
	}
	return fallback
}

func strPtr(payload eventlog.Payload, key string) *string {
	if s, ok := str(payload, key); ok {
		return &s
	}
	return nil
}

func boolOr(payload eventlog.Payload, key string, fallback bool) bool {
	if v, ok := payload[key]; ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return fallback
}

func numPtr(payload eventlog.Payload, key string) *int64 {
	if v, ok := payload[key]; ok {
		switch n := v.(type) {
		case float64:
			i := int64(n)
			return &i
		case int64:
			return &n
		case int:
			i := int64(n)
			return &i
		}
	}
	return nil
}

func numOr(payload eventlog.Payload, key string, fallback float64) float64 {
	if v, ok := payload[key]; ok {
		switch n := v.(type) {
		case float64:
			return n
		case int:
			return float64(n)
		}
	}
	return fallback
}

func mapOr(payload eventlog.Payload, key string) map[string]any {
	if v, ok := payload[key]; ok {
		if m, ok := v.(map[string]any); ok {
			return m
		}
	}
	return nil
}

func applyDocumentCreated(state *State, event eventlog.Event) {
	title := strOr(event.Payload, "title", "Untitled")
	metadata := mapOr(event.Payload, "metadata")
	if metadata == nil {
		metadata = map[string]any{}
	}

	state.Documents[event.AggregateID] = Document{
		ID:        event.AggregateID,
		Title:     title,
		Metadata:  metadata,
		CreatedAt: event.Timestamp,
		UpdatedAt: event.Timestamp,
	}
}

func applyDocumentTitleUpdated(state *State, event eventlog.Event) error {
	doc, ok := state.Documents[event.AggregateID]
	if !ok {
		return nil
	}
	title, ok := str(event.Payload, "title")
	if !ok {
		return nil
	}
	doc.Title = title
	doc.UpdatedAt = event.Timestamp
	state.Documents[event.AggregateID] = doc
	return nil
}

func applyDocumentMetadataUpdated(state *State, event eventlog.Event) error {
	doc, ok := state.Documents[event.AggregateID]
	if !ok {
		return nil
	}
	if metadata, ok := event.Payload["metadata"]; ok {
		if m, ok := metadata.(map[string]any); ok {
			doc.Metadata = m
		}
		// A metadata value present but not an object is a parse failure:
		// keep the existing metadata (spec §4.4 table).
	}
	doc.UpdatedAt = event.Timestamp
	state.Documents[event.AggregateID] = doc
	return nil
}

func applyCellCreated(state *State, event eventlog.Event) error {
	cellID, ok := str(event.Payload, "cell_id")
	if !ok {
		return validationErr(event.Kind, "cell_id", "missing cell_id")
	}
	cellTypeStr, ok := str(event.Payload, "cell_type")
	if !ok {
		return validationErr(event.Kind, "cell_type", "missing cell_type")
	}
	cellType := CellType(cellTypeStr)
	if !cellType.valid() {
		return validationErr(event.Kind, "cell_type", "invalid cell_type: "+cellTypeStr)
	}

	cell := Cell{
		ID:                cellID,
		DocumentID:        event.AggregateID,
		CellType:          cellType,
		Source:            strOr(event.Payload, "source", ""),
		FractionalIndex:   strPtr(event.Payload, "fractional_index"),
		ExecutionState:    ExecIdle,
		SQLConnectionID:   strPtr(event.Payload, "sql_connection_id"),
		SQLResultVarName:  strPtr(event.Payload, "sql_result_variable"),
		AIProvider:        strPtr(event.Payload, "ai_provider"),
		AIModel:           strPtr(event.Payload, "ai_model"),
		AISettings:        mapOr(event.Payload, "ai_settings"),
		SourceVisible:     boolOr(event.Payload, "source_visible", true),
		OutputVisible:     boolOr(event.Payload, "output_visible", true),
		AIContextVisible:  boolOr(event.Payload, "ai_context_visible", true),
		CreatedBy:         strOr(event.Payload, "created_by", "system"),
		CreatedAt:         event.Timestamp,
		UpdatedAt:         event.Timestamp,
	}
	if ec := numPtr(event.Payload, "execution_count"); ec != nil {
		cell.ExecutionCount = ec
	}

	state.Cells[cellID] = cell
	bumpDocument(state, event.AggregateID, event.Timestamp)
	return nil
}

func applyCellSourceUpdated(state *State, event eventlog.Event) error {
	cellID, ok := str(event.Payload, "cell_id")
	if !ok {
		return validationErr(event.Kind, "cell_id", "missing cell_id")
	}
	cell, ok := state.Cells[cellID]
	if !ok {
		return nil
	}
	if source, ok := str(event.Payload, "source"); ok {
		cell.Source = source
	}
	cell.UpdatedAt = event.Timestamp
	state.Cells[cellID] = cell
	bumpDocument(state, event.AggregateID, event.Timestamp)
	return nil
}

func applyCellExecutionStateChanged(state *State, event eventlog.Event) error {
	cellID, ok := str(event.Payload, "cell_id")
	if !ok {
		return validationErr(event.Kind, "cell_id", "missing cell_id")
	}
	cell, ok := state.Cells[cellID]
	if !ok {
		return nil
	}

	if stateStr, ok := str(event.Payload, "execution_state"); ok {
		es := ExecutionState(stateStr)
		if es.valid() {
			cell.ExecutionState = es
		}
		// Unknown state string: ignored, cell keeps its previous state.
	}
	if session, ok := str(event.Payload, "assigned_runtime_session"); ok {
		cell.AssignedRuntimeSession = &session
	}
	if dur := numPtr(event.Payload, "execution_duration_ms"); dur != nil {
		cell.LastExecutionDurationMs = dur
	}

	cell.UpdatedAt = event.Timestamp
	state.Cells[cellID] = cell
	return nil
}

func applyCellOutputCreated(state *State, event eventlog.Event) error {
	outputID, ok := str(event.Payload, "output_id")
	if !ok {
		return validationErr(event.Kind, "output_id", "missing output_id")
	}
	cellID, ok := str(event.Payload, "cell_id")
	if !ok {
		return validationErr(event.Kind, "cell_id", "missing cell_id")
	}
	outputTypeStr, ok := str(event.Payload, "output_type")
	if !ok {
		return validationErr(event.Kind, "output_type", "missing output_type")
	}
	outputType := OutputType(outputTypeStr)
	if !outputType.valid() {
		return validationErr(event.Kind, "output_type", "invalid output_type: "+outputTypeStr)
	}

	output := CellOutput{
		ID:             outputID,
		CellID:         cellID,
		OutputType:     outputType,
		Position:       numOr(event.Payload, "position", 0),
		StreamName:     strPtr(event.Payload, "stream_name"),
		DisplayID:      strPtr(event.Payload, "display_id"),
		Data:           strPtr(event.Payload, "data"),
		ArtifactID:     strPtr(event.Payload, "artifact_id"),
		MimeType:       strPtr(event.Payload, "mime_type"),
		CreatedAt:      event.Timestamp,
	}
	if ec := numPtr(event.Payload, "execution_count"); ec != nil {
		output.ExecutionCount = ec
	}
	if metadata, ok := event.Payload["metadata"]; ok {
		if m, ok := metadata.(map[string]any); ok {
			output.Metadata = m
		}
	}
	if reps := parseRepresentations(event.Payload["representations"]); reps != nil {
		output.Representations = reps
	}

	state.Outputs[outputID] = output
	return nil
}

func parseRepresentations(raw any) map[string]MediaRepresentation {
	rawMap, ok := raw.(map[string]any)
	if !ok {
		return nil
	}
	out := make(map[string]MediaRepresentation, len(rawMap))
	for key, v := range rawMap {
		entry, ok := v.(map[string]any)
		if !ok {
			continue
		}
		kind, _ := entry["type"].(string)
		rep := MediaRepresentation{Type: kind}
		if data, ok := entry["data"]; ok {
			rep.Data = data
		}
		if aid, ok := entry["artifact_id"].(string); ok {
			rep.ArtifactID = aid
		}
		if md, ok := entry["metadata"].(map[string]any); ok {
			rep.Metadata = md
		}
		out[key] = rep
	}
	return out
}

func applyCellMoved(state *State, event eventlog.Event) error {
	cellID, ok := str(event.Payload, "cell_id")
	if !ok {
		return validationErr(event.Kind, "cell_id", "missing cell_id")
	}
	index, ok := str(event.Payload, "fractional_index")
	if !ok {
		return validationErr(event.Kind, "fractional_index", "missing fractional_index")
	}
	if err := fractional.Validate(index); err != nil {
		return validationErr(event.Kind, "fractional_index", "invalid fractional_index: "+err.Error())
	}

	cell, ok := state.Cells[cellID]
	if !ok {
		return nil
	}
	cell.FractionalIndex = &index
	cell.UpdatedAt = event.Timestamp
	state.Cells[cellID] = cell
	bumpDocument(state, event.AggregateID, event.Timestamp)
	return nil
}

func applyCellDeleted(state *State, event eventlog.Event) error {
	cellID, ok := str(event.Payload, "cell_id")
	if !ok {
		return validationErr(event.Kind, "cell_id", "missing cell_id")
	}
	delete(state.Cells, cellID)
	for id, output := range state.Outputs {
		if output.CellID == cellID {
			delete(state.Outputs, id)
		}
	}
	bumpDocument(state, event.AggregateID, event.Timestamp)
	return nil
}

func applyDocumentDeleted(state *State, event eventlog.Event) {
	documentID := event.AggregateID
	delete(state.Documents, documentID)

	// Cascade: remove every cell of this document and their outputs
	// (spec §9 — resolved in SPEC_FULL.md §3.2 in favor of cascading).
	var orphanCells []string
	for id, cell := range state.Cells {
		if cell.DocumentID == documentID {
			orphanCells = append(orphanCells, id)
		}
	}
	for _, cellID := range orphanCells {
		delete(state.Cells, cellID)
		for outputID, output := range state.Outputs {
			if output.CellID == cellID {
				delete(state.Outputs, outputID)
			}
		}
	}
}

func bumpDocument(state *State, documentID string, ts int64) {
	if doc, ok := state.Documents[documentID]; ok {
		doc.UpdatedAt = ts
		state.Documents[documentID] = doc
	}
}
