package tracking

import "fmt"

// RunStatus is the lifecycle state of an MLflow run.
type RunStatus string

const (
	StatusRunning  RunStatus = "RUNNING"
	StatusFinished RunStatus = "FINISHED"
	StatusFailed   RunStatus = "FAILED"
	StatusKilled   RunStatus = "KILLED"
)

// TagRunName is the system tag MLflow displays as the run name.
const TagRunName = "mlflow.runName"

type Experiment struct {
	ExperimentID     string `json:"experiment_id"`
	Name             string `json:"name"`
	ArtifactLocation string `json:"artifact_location"`
	LifecycleStage   string `json:"lifecycle_stage"`
}

type RunInfo struct {
	RunID        string    `json:"run_id"`
	RunName      string    `json:"run_name"`
	ExperimentID string    `json:"experiment_id"`
	Status       RunStatus `json:"status"`
	StartTime    int64     `json:"start_time"`
	EndTime      int64     `json:"end_time,omitempty"`
	ArtifactURI  string    `json:"artifact_uri"`
}

type Param struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type Tag struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type getExperimentResponse struct {
	Experiment Experiment `json:"experiment"`
}

type createExperimentRequest struct {
	Name string `json:"name"`
}

type createExperimentResponse struct {
	ExperimentID string `json:"experiment_id"`
}

type createRunRequest struct {
	ExperimentID string `json:"experiment_id"`
	RunName      string `json:"run_name,omitempty"`
	StartTime    int64  `json:"start_time"`
	Tags         []Tag  `json:"tags,omitempty"`
}

type runResponse struct {
	Run struct {
		Info RunInfo `json:"info"`
	} `json:"run"`
}

type logBatchRequest struct {
	RunID  string  `json:"run_id"`
	Params []Param `json:"params,omitempty"`
	Tags   []Tag   `json:"tags,omitempty"`
}

type updateRunRequest struct {
	RunID   string    `json:"run_id"`
	Status  RunStatus `json:"status"`
	EndTime int64     `json:"end_time,omitempty"`
}

// APIError is an error answered by the tracking server.
type APIError struct {
	StatusCode int    `json:"-"`
	ErrorCode  string `json:"error_code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	if e.ErrorCode == "" {
		return fmt.Sprintf("mlflow: status %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("mlflow: %s (status %d): %s", e.ErrorCode, e.StatusCode, e.Message)
}
