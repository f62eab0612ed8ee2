// Package notebook implements the notebook domain's projection state, its
// materializer (spec §4.4), and the projection manager that drives it
// (spec §4.5): documents, cells, and their outputs, folded deterministically
// from an event-sourced log.
package notebook

// CellType is the closed set of cell kinds a document can contain.
type CellType string

const (
	CellCode     CellType = "code"
	CellMarkdown CellType = "markdown"
	CellSQL      CellType = "sql"
	CellAI       CellType = "ai"
	CellRaw      CellType = "raw"
)

func (t CellType) valid() bool {
	switch t {
	case CellCode, CellMarkdown, CellSQL, CellAI, CellRaw:
		return true
	}
	return false
}

// ExecutionState is the closed set of a cell's execution states. Transitions
// are purely observed: the materializer reflects what the log states, it
// never validates that a transition was legal.
type ExecutionState string

const (
	ExecIdle      ExecutionState = "idle"
	ExecQueued    ExecutionState = "queued"
	ExecRunning   ExecutionState = "running"
	ExecCompleted ExecutionState = "completed"
	ExecError     ExecutionState = "error"
)

func (s ExecutionState) valid() bool {
	switch s {
	case ExecIdle, ExecQueued, ExecRunning, ExecCompleted, ExecError:
		return true
	}
	return false
}

// OutputType is the closed set of cell-output kinds.
type OutputType string

const (
	OutputMultimediaDisplay OutputType = "multimedia_display"
	OutputMultimediaResult  OutputType = "multimedia_result"
	OutputTerminal          OutputType = "terminal"
	OutputMarkdown          OutputType = "markdown"
	OutputError             OutputType = "error"
)

func (t OutputType) valid() bool {
	switch t {
	case OutputMultimediaDisplay, OutputMultimediaResult, OutputTerminal, OutputMarkdown, OutputError:
		return true
	}
	return false
}

// MediaRepresentation is a tagged union over an inline payload or a
// reference to an out-of-band artifact, keyed by media type in
// CellOutput.Representations.
type MediaRepresentation struct {
	Type       string         `json:"type"` // "inline" or "artifact"
	Data       any            `json:"data,omitempty"`
	ArtifactID string         `json:"artifact_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// Document is a notebook document: a titled container of cells.
type Document struct {
	ID        string         `json:"id"`
	Title     string         `json:"title"`
	Metadata  map[string]any `json:"metadata"`
	CreatedAt int64          `json:"created_at"`
	UpdatedAt int64          `json:"updated_at"`
}

// Cell is a single cell within a document.
type Cell struct {
	ID                      string         `json:"id"`
	DocumentID              string         `json:"document_id"`
	CellType                CellType       `json:"cell_type"`
	Source                  string         `json:"source"`
	FractionalIndex         *string        `json:"fractional_index,omitempty"`
	ExecutionState          ExecutionState `json:"execution_state"`
	ExecutionCount          *int64         `json:"execution_count,omitempty"`
	AssignedRuntimeSession  *string        `json:"assigned_runtime_session,omitempty"`
	LastExecutionDurationMs *int64         `json:"last_execution_duration_ms,omitempty"`

	SQLConnectionID  *string `json:"sql_connection_id,omitempty"`
	SQLResultVarName *string `json:"sql_result_variable,omitempty"`

	AIProvider *string        `json:"ai_provider,omitempty"`
	AIModel    *string        `json:"ai_model,omitempty"`
	AISettings map[string]any `json:"ai_settings,omitempty"`

	SourceVisible     bool `json:"source_visible"`
	OutputVisible     bool `json:"output_visible"`
	AIContextVisible  bool `json:"ai_context_visible"`

	CreatedBy string `json:"created_by"`
	CreatedAt int64  `json:"created_at"`
	UpdatedAt int64  `json:"updated_at"`
}

// CellOutput is one output produced by a cell's execution.
type CellOutput struct {
	ID         string     `json:"id"`
	CellID     string     `json:"cell_id"`
	OutputType OutputType `json:"output_type"`
	Position   float64    `json:"position"`

	StreamName     *string `json:"stream_name,omitempty"`
	ExecutionCount *int64  `json:"execution_count,omitempty"`
	DisplayID      *string `json:"display_id,omitempty"`

	Data       *string        `json:"data,omitempty"`
	ArtifactID *string        `json:"artifact_id,omitempty"`
	MimeType   *string        `json:"mime_type,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`

	Representations map[string]MediaRepresentation `json:"representations,omitempty"`

	CreatedAt int64 `json:"created_at"`
}

// RuntimeStatus is the closed set of runtime-session lifecycle states.
type RuntimeStatus string

const (
	RuntimeStarting   RuntimeStatus = "starting"
	RuntimeReady      RuntimeStatus = "ready"
	RuntimeBusy       RuntimeStatus = "busy"
	RuntimeRestarting RuntimeStatus = "restarting"
	RuntimeTerminated RuntimeStatus = "terminated"
)

// RuntimeSession is reserved for future events; present in state, not yet
// driven by any event kind defined in this spec (spec §3).
type RuntimeSession struct {
	SessionID         string        `json:"session_id"`
	RuntimeID         string        `json:"runtime_id"`
	RuntimeType       string        `json:"runtime_type"`
	Status            RuntimeStatus `json:"status"`
	IsActive          bool          `json:"is_active"`
	CanExecuteCode    bool          `json:"can_execute_code"`
	CanExecuteSQL     bool          `json:"can_execute_sql"`
	CanExecuteAI      bool          `json:"can_execute_ai"`
	AvailableAIModels []string      `json:"available_ai_models,omitempty"`
	LastRenewedAt     *int64        `json:"last_renewed_at,omitempty"`
	ExpiresAt         *int64        `json:"expires_at,omitempty"`
}

// State is the full materialized notebook projection (spec §3).
type State struct {
	Documents              map[string]Document
	Cells                  map[string]Cell
	Outputs                map[string]CellOutput
	RuntimeSessions        map[string]RuntimeSession
	LastProcessedTimestamp int64
}

func newState() State {
	return State{
		Documents:       make(map[string]Document),
		Cells:           make(map[string]Cell),
		Outputs:         make(map[string]CellOutput),
		RuntimeSessions: make(map[string]RuntimeSession),
	}
}

// clone returns a shallow copy of s with freshly-allocated top-level maps,
// so that Materializer.Apply never mutates the state it was handed.
func (s State) clone() State {
	out := State{
		Documents:              make(map[string]Document, len(s.Documents)),
		Cells:                  make(map[string]Cell, len(s.Cells)),
		Outputs:                make(map[string]CellOutput, len(s.Outputs)),
		RuntimeSessions:        make(map[string]RuntimeSession, len(s.RuntimeSessions)),
		LastProcessedTimestamp: s.LastProcessedTimestamp,
	}
	for k, v := range s.Documents {
		out.Documents[k] = v
	}
	for k, v := range s.Cells {
		out.Cells[k] = v
	}
	for k, v := range s.Outputs {
		out.Outputs[k] = v
	}
	for k, v := range s.RuntimeSessions {
		out.RuntimeSessions[k] = v
	}
	return out
}

// DocumentCells returns the cells of documentID ordered by fractional index
// ascending (nulls last), tie-broken by CreatedAt (spec §3 invariant).
func (s State) DocumentCells(documentID string) []Cell {
	var cells []Cell
	for _, c := range s.Cells {
		if c.DocumentID == documentID {
			cells = append(cells, c)
		}
	}
	sortCells(cells)
	return cells
}

func sortCells(cells []Cell) {
	less := func(i, j int) bool {
		a, b := cells[i], cells[j]
		switch {
		case a.FractionalIndex != nil && b.FractionalIndex != nil:
			if *a.FractionalIndex != *b.FractionalIndex {
				return *a.FractionalIndex < *b.FractionalIndex
			}
			return a.CreatedAt < b.CreatedAt
		case a.FractionalIndex != nil:
			return true
		case b.FractionalIndex != nil:
			return false
		default:
			return a.CreatedAt < b.CreatedAt
		}
	}
	insertionSort(len(cells), less, func(i, j int) { cells[i], cells[j] = cells[j], cells[i] })
}

// CellOutputs returns the outputs of cellID ordered by Position ascending
// (spec §3 invariant).
func (s State) CellOutputs(cellID string) []CellOutput {
	var outputs []CellOutput
	for _, o := range s.Outputs {
		if o.CellID == cellID {
			outputs = append(outputs, o)
		}
	}
	less := func(i, j int) bool { return outputs[i].Position < outputs[j].Position }
	insertionSort(len(outputs), less, func(i, j int) { outputs[i], outputs[j] = outputs[j], outputs[i] })
	return outputs
}

// insertionSort is a small stable sort helper; these slices are short
// (cells/outputs per document), so O(n^2) is plenty and keeps the sort
// stable without importing sort.Slice's reflection-based comparator.
func insertionSort(n int, less func(i, j int) bool, swap func(i, j int)) {
	for i := 1; i < n; i++ {
		for j := i; j > 0 && less(j, j-1); j-- {
			swap(j, j-1)
		}
	}
}
