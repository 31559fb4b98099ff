package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"marketplace.aleph.sh/orchestrator"
	"marketplace.aleph.sh/store"
)

type deployRequest struct {
	AppID        string `json:"app_id"`
	SSHHost      string `json:"ssh_host"`
	SSHPort      int    `json:"ssh_port"`
	SSHUser      string `json:"ssh_user"`
	SetupTunnel  bool   `json:"setup_tunnel"`
	TunnelPort   int    `json:"tunnel_port"`
	InstanceHash string `json:"instance_hash"`
}

// StartDeploy handles POST /api/deploy/ssh. The deployment id comes
// back immediately; the install runs in the background.
func (h *Handlers) StartDeploy(c echo.Context) error {
	var req deployRequest
	if err := c.Bind(&req); err != nil {
		return errJSON(c, http.StatusBadRequest, "invalid request body")
	}
	if req.SSHPort == 0 {
		req.SSHPort = 22
	}

	id, err := h.Orchestrator.Deploy(orchestrator.Request{
		Owner:        sessionAddress(c),
		AppID:        req.AppID,
		SSHHost:      req.SSHHost,
		SSHPort:      req.SSHPort,
		SSHUser:      req.SSHUser,
		SetupTunnel:  req.SetupTunnel,
		TunnelPort:   req.TunnelPort,
		InstanceHash: req.InstanceHash,
	})
	switch {
	case errors.Is(err, orchestrator.ErrAppNotFound):
		return errJSON(c, http.StatusNotFound, "app not found")
	case err != nil:
		return errJSON(c, http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]string{
		"deployment_id": id,
		"status":        "started",
	})
}

// DeployProgress handles GET /api/deploy/ssh/:deployment_id.
func (h *Handlers) DeployProgress(c echo.Context) error {
	progress, err := h.Orchestrator.Progress(c.Param("deployment_id"))
	if errors.Is(err, store.ErrNotFound) {
		return errJSON(c, http.StatusNotFound, "deployment not found")
	}
	return c.JSON(http.StatusOK, progress)
}

// MyDeployments handles GET /api/deployments/my.
func (h *Handlers) MyDeployments(c echo.Context) error {
	deployments := h.Orchestrator.ListByOwner(sessionAddress(c))
	if deployments == nil {
		deployments = []store.Deployment{}
	}
	return c.JSON(http.StatusOK, map[string]any{"deployments": deployments})
}

// DeploymentStatus handles GET /api/deployments/:id/status. The first
// successful call after completion carries the generated passwords.
func (h *Handlers) DeploymentStatus(c echo.Context) error {
	d, ok, err := h.ownedDeployment(c)
	if !ok {
		return err
	}
	report, err := h.Orchestrator.DeploymentStatus(c.Request().Context(), d.ID)
	if err != nil {
		return errJSON(c, http.StatusNotFound, "deployment not found")
	}
	return c.JSON(http.StatusOK, report)
}

// StopDeployment handles POST /api/deployments/:id/stop.
func (h *Handlers) StopDeployment(c echo.Context) error {
	d, ok, err := h.ownedDeployment(c)
	if !ok {
		return err
	}
	stopped, err := h.Orchestrator.Stop(c.Request().Context(), d.ID)
	switch {
	case errors.Is(err, orchestrator.ErrStillDeploying):
		return errJSON(c, http.StatusConflict, err.Error())
	case err != nil:
		return errJSON(c, http.StatusBadGateway, err.Error())
	}
	return c.JSON(http.StatusOK, stopped)
}

// DeleteDeployment handles DELETE /api/deployments/:id.
func (h *Handlers) DeleteDeployment(c echo.Context) error {
	d, ok, err := h.ownedDeployment(c)
	if !ok {
		return err
	}
	if err := h.Orchestrator.Delete(c.Request().Context(), d.ID); err != nil {
		if errors.Is(err, orchestrator.ErrStillDeploying) {
			return errJSON(c, http.StatusConflict, err.Error())
		}
		return errJSON(c, http.StatusNotFound, "deployment not found")
	}
	return c.JSON(http.StatusOK, map[string]bool{"success": true})
}

// ownedDeployment loads the deployment named in the path and enforces
// that the session address owns it. When ok is false the rejection has
// already been written and the handler must return err as-is.
func (h *Handlers) ownedDeployment(c echo.Context) (d store.Deployment, ok bool, err error) {
	d, err = h.Orchestrator.Get(c.Param("id"))
	if errors.Is(err, store.ErrNotFound) {
		return store.Deployment{}, false, errJSON(c, http.StatusNotFound, "deployment not found")
	}
	if err != nil {
		return store.Deployment{}, false, errJSON(c, http.StatusInternalServerError, "internal error")
	}
	if d.Owner != sessionAddress(c) {
		return store.Deployment{}, false, errJSON(c, http.StatusForbidden, "not the deployment owner")
	}
	return d, true, nil
}
