package orchestrator

import (
	"context"

	"github.com/sirupsen/logrus"

	"marketplace.aleph.sh/store"
)

// Get returns the stored record, passwords redacted.
func (o *Orchestrator) Get(deploymentID string) (store.Deployment, error) {
	d, err := o.store.Get(deploymentID)
	if err != nil {
		return store.Deployment{}, err
	}
	d.Passwords = nil
	return d, nil
}

// ListByOwner returns the owner's deployments, passwords redacted.
func (o *Orchestrator) ListByOwner(owner string) []store.Deployment {
	ds := o.store.ListByOwner(owner)
	for i := range ds {
		ds[i].Passwords = nil
	}
	return ds
}

// DeploymentStatus refreshes the container list from the VM and, on
// the first call after a successful install, discloses the generated
// passwords exactly once.
func (o *Orchestrator) DeploymentStatus(ctx context.Context, deploymentID string) (store.Deployment, error) {
	d, err := o.store.Get(deploymentID)
	if err != nil {
		return store.Deployment{}, err
	}

	if d.Status == store.StatusRunning || d.Status == store.StatusComplete {
		if exec, err := o.newExecutor(d.SSHHost, d.SSHPort, d.SSHUser); err == nil {
			if containers, err := exec.GetAppStatus(ctx, d.AppID); err == nil {
				d.Containers = toStoreContainers(containers)
				o.updateRecord(deploymentID, store.Fields{Containers: d.Containers})
			} else {
				logrus.WithError(err).WithField("deployment", deploymentID).Debug("live container status unavailable")
			}
		}

		// the store clears the passwords under its own lock, so
		// concurrent polls race for a single winner
		passwords, err := o.store.TakePasswords(deploymentID)
		if err != nil {
			logrus.WithError(err).WithField("deployment", deploymentID).Warn("password disclosure not persisted")
		}
		if len(passwords) > 0 {
			d.Passwords = passwords
			d.PasswordsSeen = true
			return d, nil
		}
	}
	d.Passwords = nil
	return d, nil
}

// Stop brings the stack down and marks the deployment stopped. It is
// rejected while the background job still owns the VM.
func (o *Orchestrator) Stop(ctx context.Context, deploymentID string) (store.Deployment, error) {
	d, err := o.store.Get(deploymentID)
	if err != nil {
		return store.Deployment{}, err
	}
	if d.Status == store.StatusDeploying {
		return store.Deployment{}, ErrStillDeploying
	}

	exec, err := o.newExecutor(d.SSHHost, d.SSHPort, d.SSHUser)
	if err != nil {
		return store.Deployment{}, err
	}
	if err := exec.StopApp(ctx, d.AppID); err != nil {
		return store.Deployment{}, err
	}

	status := store.StatusStopped
	o.updateRecord(deploymentID, store.Fields{Status: &status, Containers: []store.Container{}})
	return o.Get(deploymentID)
}

// Delete stops and removes the stack best-effort, then drops the
// record and the job. The record is gone even when the VM was
// unreachable.
func (o *Orchestrator) Delete(ctx context.Context, deploymentID string) error {
	d, err := o.store.Get(deploymentID)
	if err != nil {
		return err
	}
	if d.Status == store.StatusDeploying {
		return ErrStillDeploying
	}

	if exec, err := o.newExecutor(d.SSHHost, d.SSHPort, d.SSHUser); err == nil {
		if err := exec.RemoveApp(ctx, d.AppID); err != nil {
			logrus.WithError(err).WithField("deployment", deploymentID).Warn("remote cleanup failed, removing record anyway")
		}
	}

	o.dropJob(deploymentID)
	return o.store.Remove(deploymentID)
}
