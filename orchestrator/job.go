package orchestrator

import (
	"time"

	"marketplace.aleph.sh/store"
)

// Job step labels, in order of appearance.
const (
	StepQueued     = "queued"
	StepConnecting = "connecting"
	StepDeploying  = "deploying"
	StepTunnel     = "tunnel"
	StepDone       = "done"
)

// Job mirrors a deployment in flight. It lives only in memory; the
// store record is authoritative after a restart.
type Job struct {
	DeploymentID  string    `json:"deployment_id"`
	CorrelationID string    `json:"job_id"`
	Step          string    `json:"step"`
	Status        string    `json:"status"`
	StartedAt     time.Time `json:"started_at"`
	Logs          []string  `json:"logs,omitempty"`
	Error         string    `json:"error,omitempty"`
}

func (o *Orchestrator) newJob(deploymentID string) *Job {
	job := &Job{
		DeploymentID:  deploymentID,
		CorrelationID: newCorrelationID(),
		Step:          StepQueued,
		Status:        store.StatusDeploying,
		StartedAt:     time.Now().UTC(),
	}
	o.mu.Lock()
	o.jobs[deploymentID] = job
	o.mu.Unlock()
	return job
}

func (o *Orchestrator) setStep(deploymentID, step, logLine string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if job, ok := o.jobs[deploymentID]; ok {
		job.Step = step
		if logLine != "" {
			job.Logs = append(job.Logs, logLine)
		}
	}
}

func (o *Orchestrator) appendLog(deploymentID, line string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if job, ok := o.jobs[deploymentID]; ok {
		job.Logs = append(job.Logs, line)
	}
}

func (o *Orchestrator) setJobDone(deploymentID, status string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if job, ok := o.jobs[deploymentID]; ok {
		job.Step = StepDone
		job.Status = status
	}
}

func (o *Orchestrator) failJob(deploymentID, reason string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if job, ok := o.jobs[deploymentID]; ok {
		job.Status = store.StatusFailed
		job.Error = reason
		job.Logs = append(job.Logs, reason)
	}
}

func (o *Orchestrator) dropJob(deploymentID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.jobs, deploymentID)
}

// Progress is the job snapshot served while a deployment runs. After a
// restart only the store-derived fields remain.
type Progress struct {
	DeploymentID string    `json:"deployment_id"`
	Status       string    `json:"status"`
	Step         string    `json:"step,omitempty"`
	StartedAt    time.Time `json:"started_at,omitempty"`
	Logs         []string  `json:"logs,omitempty"`
	Error        string    `json:"error,omitempty"`
	PublicURL    *string   `json:"public_url,omitempty"`
}

// Progress reports where a deployment currently stands.
func (o *Orchestrator) Progress(deploymentID string) (Progress, error) {
	d, err := o.store.Get(deploymentID)
	if err != nil {
		return Progress{}, err
	}
	p := Progress{
		DeploymentID: d.ID,
		Status:       d.Status,
		PublicURL:    d.PublicURL,
	}
	if d.LastError != nil {
		p.Error = *d.LastError
	}

	o.mu.Lock()
	if job, ok := o.jobs[deploymentID]; ok {
		p.Step = job.Step
		p.StartedAt = job.StartedAt
		p.Logs = append([]string(nil), job.Logs...)
	}
	o.mu.Unlock()
	return p, nil
}
