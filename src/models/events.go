package models

// Gate outcomes carried by deployment events.
const (
	DecisionAccept    = "ACCEPT"
	DecisionBootstrap = "BOOTSTRAP"
	DecisionReject    = "REJECT"
	DecisionLeakage   = "LEAKAGE"
	DecisionRollback  = "ROLLBACK"
)

// MDeploymentEvent is pushed to websocket clients and Redis after a registry commit.
type MDeploymentEvent struct {
	Type            string             `json:"type"`
	RunID           string             `json:"run_id,omitempty"`
	Version         string             `json:"version"`
	Decision        string             `json:"decision"`
	Reason          string             `json:"reason"`
	DeployedVersion string             `json:"deployed_version"`
	Candidate       *MEvaluationResult `json:"candidate,omitempty"`
	Incumbent       *MEvaluationResult `json:"incumbent,omitempty"`
	Timestamp       int64              `json:"timestamp"`
}

// MSystemHealth is returned by the system-health endpoint.
type MSystemHealth struct {
	Status            string `json:"status"`
	Observations      int64  `json:"observations"`
	Routes            int64  `json:"routes"`
	LatestObservation int64  `json:"latest_observation"`
	DeployedVersion   string `json:"deployed_version"`
	CandidateCount    int64  `json:"candidate_count"`
	ModelCount        int64  `json:"model_count"`
	Connections       int    `json:"connections"`
}

// MStoreStats are the observation and registry counts read from storage.
type MStoreStats struct {
	Observations      int64 `json:"observations" db:"observations"`
	Routes            int64 `json:"routes" db:"routes"`
	LatestObservation int64 `json:"latest_observation" db:"latest_observation"`
	ModelCount        int64 `json:"model_count" db:"model_count"`
	CandidateCount    int64 `json:"candidate_count" db:"candidate_count"`
}

// MClientCommand is a message sent by a websocket client.
type MClientCommand struct {
	Command string `json:"command"`
}

// MModelInfo is the serving view of the deployed model.
type MModelInfo struct {
	Type    string        `json:"type"`
	Serving string        `json:"serving_version"`
	Record  *MModelRecord `json:"record"`
}
