// Package orchestrator drives each deployment from "instance created
// on the network" to "app reachable": SSH probing, compose install,
// reverse-proxy publishing and deploy-key revocation, one background
// job per deployment.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"marketplace.aleph.sh/catalog"
	"marketplace.aleph.sh/security"
	"marketplace.aleph.sh/sshexec"
	"marketplace.aleph.sh/store"
)

// Executor is the remote-command surface the orchestrator needs.
// *sshexec.Client implements it; tests substitute fakes.
type Executor interface {
	TestConnection(ctx context.Context) bool
	DeployCompose(ctx context.Context, appID, compose string) *sshexec.ComposeResult
	SetupCaddyProxy(ctx context.Context, localPort int, subdomain, baseDomain string) (string, error)
	RevokeAuthorizedKey(ctx context.Context, publicKey string) error
	GetAppStatus(ctx context.Context, appID string) ([]sshexec.Container, error)
	StopApp(ctx context.Context, appID string) error
	RemoveApp(ctx context.Context, appID string) error
}

// ExecutorFactory builds an Executor for one target VM.
type ExecutorFactory func(host string, port int, user string) (Executor, error)

// Gateway resolves instance hashes to public subdomains.
type Gateway interface {
	LookupSubdomain(ctx context.Context, instanceHash string) string
}

var (
	ErrAppNotFound = errors.New("unknown app")
	// ErrStillDeploying guards lifecycle operations against jobs that
	// have not released the VM yet.
	ErrStillDeploying = errors.New("deployment is still in progress")
)

// Config wires the orchestrator's collaborators.
type Config struct {
	Store            *store.Store
	Catalog          *catalog.Catalog
	Gateway          Gateway
	NewExecutor      ExecutorFactory
	DeployPublicKey  string
	BaseDomain       string
	AllowInternalSSH bool

	// probe cadence, overridable in tests
	ProbeAttempts int
	ProbeInterval time.Duration
}

// Orchestrator owns the in-memory jobs and the per-host serialization.
type Orchestrator struct {
	store           *store.Store
	catalog         *catalog.Catalog
	gateway         Gateway
	newExecutor     ExecutorFactory
	deployPublicKey string
	baseDomain      string
	allowInternal   bool
	probeAttempts   int
	probeInterval   time.Duration

	mu        sync.Mutex
	jobs      map[string]*Job
	hostLocks map[string]*sync.Mutex

	wg sync.WaitGroup
}

func New(cfg Config) *Orchestrator {
	if cfg.ProbeAttempts == 0 {
		cfg.ProbeAttempts = 12
	}
	if cfg.ProbeInterval == 0 {
		cfg.ProbeInterval = 10 * time.Second
	}
	if cfg.BaseDomain == "" {
		cfg.BaseDomain = "2n6.me"
	}
	return &Orchestrator{
		store:           cfg.Store,
		catalog:         cfg.Catalog,
		gateway:         cfg.Gateway,
		newExecutor:     cfg.NewExecutor,
		deployPublicKey: cfg.DeployPublicKey,
		baseDomain:      cfg.BaseDomain,
		allowInternal:   cfg.AllowInternalSSH,
		probeAttempts:   cfg.ProbeAttempts,
		probeInterval:   cfg.ProbeInterval,
		jobs:            make(map[string]*Job),
		hostLocks:       make(map[string]*sync.Mutex),
	}
}

// Request is an accepted deployment request. Owner comes from the
// caller's session, everything else from the request body.
type Request struct {
	Owner        string
	AppID        string
	SSHHost      string
	SSHPort      int
	SSHUser      string
	SetupTunnel  bool
	TunnelPort   int
	InstanceHash string
}

// Deploy validates the request, records the deployment and starts the
// background job. The deployment id is returned synchronously.
func (o *Orchestrator) Deploy(req Request) (string, error) {
	app, ok := o.catalog.Get(req.AppID)
	if !ok {
		return "", ErrAppNotFound
	}
	if err := security.ValidateSSHHost(req.SSHHost, o.allowInternal); err != nil {
		return "", err
	}
	if err := security.ValidatePort(req.SSHPort); err != nil {
		return "", err
	}
	if req.TunnelPort != 0 {
		if err := security.ValidatePort(req.TunnelPort); err != nil {
			return "", err
		}
	}
	if req.SSHUser == "" {
		req.SSHUser = "root"
	}

	id := fmt.Sprintf("%s-%s-%d", req.AppID, req.Owner[:8], time.Now().Unix())
	d := store.Deployment{
		ID:           id,
		Owner:        req.Owner,
		AppID:        req.AppID,
		AppName:      app.Name,
		SSHHost:      req.SSHHost,
		SSHPort:      req.SSHPort,
		SSHUser:      req.SSHUser,
		InstanceHash: req.InstanceHash,
		Status:       store.StatusDeploying,
	}
	if err := o.store.Add(d); err != nil {
		return "", err
	}

	job := o.newJob(id)
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.run(job, req, app.Compose)
	}()
	return id, nil
}

// Wait blocks until every background job returned. Test helper and
// shutdown aid.
func (o *Orchestrator) Wait() { o.wg.Wait() }

// hostLock serializes deploy_compose per (host, port) so concurrent
// deployments to the same VM cannot race a docker install.
func (o *Orchestrator) hostLock(host string, port int) *sync.Mutex {
	key := fmt.Sprintf("%s:%d", host, port)
	o.mu.Lock()
	defer o.mu.Unlock()
	lock, ok := o.hostLocks[key]
	if !ok {
		lock = &sync.Mutex{}
		o.hostLocks[key] = lock
	}
	return lock
}

func (o *Orchestrator) run(job *Job, req Request, compose string) {
	log := logrus.WithFields(logrus.Fields{
		"deployment": job.DeploymentID,
		"job":        job.CorrelationID,
		"app":        req.AppID,
	})
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("deployment job panicked: %v", r)
			o.fail(job.DeploymentID, fmt.Sprintf("internal error: %v", r))
		}
	}()
	ctx := context.Background()

	exec, err := o.newExecutor(req.SSHHost, req.SSHPort, req.SSHUser)
	if err != nil {
		o.fail(job.DeploymentID, "ssh setup failed: "+err.Error())
		return
	}

	// phase 1: reachability
	o.setStep(job.DeploymentID, StepConnecting, fmt.Sprintf("Probing SSH on %s:%d", req.SSHHost, req.SSHPort))
	if !o.probe(ctx, exec) {
		o.fail(job.DeploymentID, fmt.Sprintf("Cannot SSH to %s:%d after %d attempts", req.SSHHost, req.SSHPort, o.probeAttempts))
		return
	}

	// phase 2: install, serialized per target VM
	o.setStep(job.DeploymentID, StepDeploying, "Installing compose stack")
	lock := o.hostLock(req.SSHHost, req.SSHPort)
	lock.Lock()
	res := exec.DeployCompose(ctx, req.AppID, compose)
	lock.Unlock()
	if res.Status != "running" {
		msg := res.Error
		if msg == "" {
			msg = "compose deployment failed"
		}
		o.fail(job.DeploymentID, msg)
		return
	}
	o.updateRecord(job.DeploymentID, store.Fields{
		Containers: toStoreContainers(res.Containers),
		Passwords:  res.Passwords,
	})

	// phase 3: publish
	var publicURL *string
	tunnelStatus := ""
	if req.SetupTunnel {
		o.setStep(job.DeploymentID, StepTunnel, "Resolving public subdomain")
		port := req.TunnelPort
		if port == 0 {
			port = sshexec.GuessExposedPort(compose)
		}
		subdomain := o.gateway.LookupSubdomain(ctx, req.InstanceHash)
		if subdomain == "" {
			tunnelStatus = "skipped"
			o.appendLog(job.DeploymentID, "No subdomain bound to instance, skipping public URL")
			log.Info("no subdomain for instance, publish skipped")
		} else {
			url, err := exec.SetupCaddyProxy(ctx, port, subdomain, o.baseDomain)
			if err != nil {
				o.fail(job.DeploymentID, err.Error())
				return
			}
			publicURL = &url
			tunnelStatus = "active"
			o.appendLog(job.DeploymentID, "Published at "+url)
		}
	}

	// phase 4: revoke the deploy key, never fatal
	if o.deployPublicKey != "" {
		if err := exec.RevokeAuthorizedKey(ctx, o.deployPublicKey); err != nil {
			warn := "deploy key revocation failed: " + err.Error()
			log.Warn(warn)
			o.updateRecord(job.DeploymentID, store.Fields{Warning: &warn})
		}
	}

	// phase 5: finalize
	final := store.StatusRunning
	if req.SetupTunnel {
		final = store.StatusComplete
	}
	fields := store.Fields{Status: &final}
	if publicURL != nil {
		fields.PublicURL = publicURL
	}
	if tunnelStatus != "" {
		fields.TunnelStatus = &tunnelStatus
	}
	o.completeIfNotTerminal(job.DeploymentID, fields)
	o.setJobDone(job.DeploymentID, final)
	log.WithField("status", final).Info("deployment finished")
}

func (o *Orchestrator) probe(ctx context.Context, exec Executor) bool {
	for attempt := 1; attempt <= o.probeAttempts; attempt++ {
		if exec.TestConnection(ctx) {
			return true
		}
		if attempt < o.probeAttempts {
			time.Sleep(o.probeInterval)
		}
	}
	return false
}

// fail moves the deployment to failed unless it already reached a
// terminal status through the lifecycle API.
func (o *Orchestrator) fail(id, reason string) {
	status := store.StatusFailed
	o.completeIfNotTerminal(id, store.Fields{Status: &status, LastError: &reason})
	o.failJob(id, reason)
	logrus.WithFields(logrus.Fields{"deployment": id, "error": reason}).Warn("deployment failed")
}

func (o *Orchestrator) completeIfNotTerminal(id string, fields store.Fields) {
	d, err := o.store.Get(id)
	if err != nil {
		return
	}
	if isTerminal(d.Status) {
		return
	}
	o.updateRecord(id, fields)
}

// updateRecord applies fields and logs a failed snapshot write instead
// of dropping it.
func (o *Orchestrator) updateRecord(id string, fields store.Fields) {
	if err := o.store.Update(id, fields); err != nil {
		logrus.WithError(err).WithField("deployment", id).Warn("deployment record update failed")
	}
}

func isTerminal(status string) bool {
	switch status {
	case store.StatusComplete, store.StatusFailed, store.StatusStopped:
		return true
	}
	return false
}

func toStoreContainers(cs []sshexec.Container) []store.Container {
	out := make([]store.Container, 0, len(cs))
	for _, c := range cs {
		out = append(out, store.Container{Name: c.Name, Image: c.Image, State: c.State, Status: c.Status})
	}
	return out
}

func newCorrelationID() string { return uuid.New().String() }
