package api

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// JobStatus describes the video job of one project.
type JobStatus struct {
	State     string `json:"state"`
	Progress  int    `json:"progress"`
	Message   string `json:"message,omitempty"`
	Error     string `json:"error,omitempty"`
	RunID     string `json:"runId,omitempty"`
	UpdatedAt string `json:"updatedAt,omitempty"`
}

// Terminal reports whether the job reached completed, failed or cancelled.
func (s JobStatus) Terminal() bool {
	switch s.State {
	case "completed", "failed", "cancelled":
		return true
	}
	return false
}

// Project describes a project in a transport-friendly format.
type Project struct {
	ID        int64     `json:"id"`
	Title     string    `json:"title"`
	Status    JobStatus `json:"status"`
	HasVideo  bool      `json:"hasVideo"`
	VideoURL  string    `json:"videoUrl,omitempty"`
	ItemCount int       `json:"itemCount"`
	CreatedAt string    `json:"createdAt,omitempty"`
	UpdatedAt string    `json:"updatedAt,omitempty"`
}

// Item describes one narrated still.
type Item struct {
	ID            int64   `json:"id"`
	ProjectID     int64   `json:"projectId"`
	Position      int     `json:"position"`
	Content       string  `json:"content"`
	Instruct      string  `json:"instruct,omitempty"`
	HasImage      bool    `json:"hasImage"`
	HasAudio      bool    `json:"hasAudio"`
	AudioDuration float64 `json:"audioDuration,omitempty"`
	Synthesizing  bool    `json:"synthesizing"`
	CreatedAt     string  `json:"createdAt,omitempty"`
	UpdatedAt     string  `json:"updatedAt,omitempty"`
}

// ProjectResponse wraps a project with its ordered items.
type ProjectResponse struct {
	Project Project `json:"project"`
	Items   []Item  `json:"items"`
}

// ProjectListResponse wraps a collection of projects.
type ProjectListResponse struct {
	Projects []Project `json:"projects"`
}

// ItemResponse wraps a single item.
type ItemResponse struct {
	Item Item `json:"item"`
}

// ItemListResponse wraps the ordered items of a project.
type ItemListResponse struct {
	Items []Item `json:"items"`
}

// StatusResponse wraps a project's job status.
type StatusResponse struct {
	ProjectID int64     `json:"projectId"`
	Status    JobStatus `json:"status"`
}

// CreateProjectRequest creates a project. An empty title gets a default.
type CreateProjectRequest struct {
	Title string `json:"title"`
}

// RenameProjectRequest renames a project.
type RenameProjectRequest struct {
	Title string `json:"title"`
}

// ItemRequest creates an item or updates its text fields. Nil fields are
// left unchanged on update.
type ItemRequest struct {
	Content  *string `json:"content,omitempty"`
	Instruct *string `json:"instruct,omitempty"`
}

// MoveItemRequest moves an item one position up or down.
type MoveItemRequest struct {
	Direction string `json:"direction"`
}

// SynthesisResponse reports a synthesis call. Accepted is set when the task
// was queued without waiting; Error carries a worker failure.
type SynthesisResponse struct {
	Accepted  bool   `json:"accepted"`
	Skipped   bool   `json:"skipped"`
	Item      *Item  `json:"item,omitempty"`
	ElapsedMS int64  `json:"elapsedMs,omitempty"`
	Error     string `json:"error,omitempty"`
	Hint      string `json:"hint,omitempty"`
}

// ComponentHealth mirrors readiness reporting for workflow components.
type ComponentHealth struct {
	Name   string `json:"name"`
	Ready  bool   `json:"ready"`
	Detail string `json:"detail,omitempty"`
}

// WorkerStatus describes the synthesis worker process.
type WorkerStatus struct {
	State string `json:"state"`
	PID   int    `json:"pid,omitempty"`
	Ready bool   `json:"ready"`
}

// WorkflowStatus summarizes workflow execution state.
type WorkflowStatus struct {
	Running      bool              `json:"running"`
	LastError    string            `json:"lastError,omitempty"`
	Generating   []int64           `json:"generating"`
	Synthesizing int               `json:"synthesizing"`
	PoolCapacity int               `json:"poolCapacity"`
	PoolRunning  int               `json:"poolRunning"`
	PoolWaiting  int               `json:"poolWaiting"`
	Worker       *WorkerStatus     `json:"worker,omitempty"`
	Components   []ComponentHealth `json:"components"`
}

// DependencyStatus captures availability of an external dependency.
type DependencyStatus struct {
	Name        string `json:"name"`
	Command     string `json:"command"`
	Description string `json:"description"`
	Optional    bool   `json:"optional"`
	Available   bool   `json:"available"`
	Detail      string `json:"detail,omitempty"`
}

// WorkDir describes a run scratch directory.
type WorkDir struct {
	Name    string `json:"name"`
	Size    int64  `json:"size"`
	ModTime string `json:"modTime"`
}

// DaemonStatus aggregates daemon runtime information for API consumers.
type DaemonStatus struct {
	Running      bool               `json:"running"`
	PID          int                `json:"pid"`
	DatabasePath string             `json:"databasePath"`
	LockFilePath string             `json:"lockFilePath"`
	LogPath      string             `json:"logPath,omitempty"`
	Transport    string             `json:"transport"`
	Storage      string             `json:"storage"`
	Workflow     WorkflowStatus     `json:"workflow"`
	Dependencies []DependencyStatus `json:"dependencies"`
	WorkDirs     []WorkDir          `json:"workDirs"`
}

// CheckResult reports one preflight check.
type CheckResult struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail,omitempty"`
}

// DoctorReport combines preflight checks and dependency availability.
type DoctorReport struct {
	Checks       []CheckResult      `json:"checks"`
	Dependencies []DependencyStatus `json:"dependencies"`
	Healthy      bool               `json:"healthy"`
}

// DependencySummary aggregates dependency readiness for status output.
type DependencySummary struct {
	Total           int    `json:"total"`
	Available       int    `json:"available"`
	MissingRequired int    `json:"missingRequired"`
	MissingOptional int    `json:"missingOptional"`
	Severity        string `json:"severity"`
	Detail          string `json:"detail"`
}

// ActionResponse acknowledges a control request.
type ActionResponse struct {
	OK      bool   `json:"ok"`
	Message string `json:"message,omitempty"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
	Hint  string `json:"hint,omitempty"`
}
