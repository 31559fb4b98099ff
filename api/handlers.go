// Package api binds the marketplace core to HTTP. Handlers stay thin:
// they validate, call a service and translate errors to status codes.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"marketplace.aleph.sh/aleph"
	"marketplace.aleph.sh/auth"
	"marketplace.aleph.sh/catalog"
	"marketplace.aleph.sh/orchestrator"
	"marketplace.aleph.sh/security"
)

// Network is the read-only Aleph surface the API exposes.
// *aleph.Client implements it.
type Network interface {
	GetBalance(ctx context.Context, address string) aleph.Balance
	ListSSHKeys(ctx context.Context, address string) []aleph.SSHKey
	ListComputeNodes(ctx context.Context) []aleph.ComputeNode
	LookupAllocation(ctx context.Context, instanceHash, preferredNodeURL string) aleph.Allocation
	NotifyNodeStart(ctx context.Context, nodeURL, instanceHash string) int
}

// Handlers carries the injected services.
type Handlers struct {
	Auth            *auth.Service
	Catalog         *catalog.Catalog
	Network         Network
	Orchestrator    *orchestrator.Orchestrator
	DeployPublicKey string
}

func errJSON(c echo.Context, status int, msg string) error {
	return c.JSON(status, map[string]string{"error": msg})
}

// ListApps handles GET /api/apps.
func (h *Handlers) ListApps(c echo.Context) error {
	apps := h.Catalog.List(c.QueryParam("category"))
	return c.JSON(http.StatusOK, map[string]any{
		"apps":       apps,
		"categories": h.Catalog.Categories(),
	})
}

// GetApp handles GET /api/apps/:id.
func (h *Handlers) GetApp(c echo.Context) error {
	app, ok := h.Catalog.Get(c.Param("id"))
	if !ok {
		return errJSON(c, http.StatusNotFound, "app not found")
	}
	return c.JSON(http.StatusOK, app)
}

type nonceRequest struct {
	Address string `json:"address"`
}

// RequestNonce handles POST /api/auth/nonce.
func (h *Handlers) RequestNonce(c echo.Context) error {
	var req nonceRequest
	if err := c.Bind(&req); err != nil {
		return errJSON(c, http.StatusBadRequest, "invalid request body")
	}
	nonce, message, err := h.Auth.Challenge(req.Address)
	if err != nil {
		return errJSON(c, http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]string{
		"nonce":   nonce,
		"message": message,
	})
}

type verifyRequest struct {
	Address   string `json:"address"`
	Nonce     string `json:"nonce"`
	Signature string `json:"signature"`
}

// VerifySignature handles POST /api/auth/verify.
func (h *Handlers) VerifySignature(c echo.Context) error {
	var req verifyRequest
	if err := c.Bind(&req); err != nil {
		return errJSON(c, http.StatusBadRequest, "invalid request body")
	}
	token, expiresAt, err := h.Auth.Verify(req.Address, req.Nonce, req.Signature)
	switch {
	case err == auth.ErrInvalidAddress:
		return errJSON(c, http.StatusBadRequest, err.Error())
	case err != nil:
		return errJSON(c, http.StatusUnauthorized, "invalid or expired")
	}
	addr, _ := security.ValidateEthAddress(req.Address)
	return c.JSON(http.StatusOK, map[string]any{
		"token":      token,
		"address":    addr,
		"expires_at": expiresAt.UTC().Format(time.RFC3339),
	})
}

// SessionInfo handles GET /api/auth/session. An absent or expired
// token is not an error here, just an unauthenticated answer.
func (h *Handlers) SessionInfo(c echo.Context) error {
	token := bearerToken(c)
	if token != "" {
		if address, expiresAt, err := h.Auth.Session(token); err == nil {
			return c.JSON(http.StatusOK, map[string]any{
				"authenticated": true,
				"address":       address,
				"expires_at":    expiresAt.UTC().Format(time.RFC3339),
			})
		}
	}
	return c.JSON(http.StatusOK, map[string]any{"authenticated": false})
}

// Logout handles POST /api/auth/logout.
func (h *Handlers) Logout(c echo.Context) error {
	if token := bearerToken(c); token != "" {
		h.Auth.Logout(token)
	}
	return c.JSON(http.StatusOK, map[string]bool{"success": true})
}

// GetCredits handles GET /api/credits/:address.
func (h *Handlers) GetCredits(c echo.Context) error {
	address, err := security.ValidateEthAddress(c.Param("address"))
	if err != nil {
		return errJSON(c, http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, h.Network.GetBalance(c.Request().Context(), address))
}

// ListSSHKeys handles GET /api/ssh-keys/:address.
func (h *Handlers) ListSSHKeys(c echo.Context) error {
	address, err := security.ValidateEthAddress(c.Param("address"))
	if err != nil {
		return errJSON(c, http.StatusBadRequest, err.Error())
	}
	keys := h.Network.ListSSHKeys(c.Request().Context(), address)
	if keys == nil {
		keys = []aleph.SSHKey{}
	}
	return c.JSON(http.StatusOK, map[string]any{"keys": keys})
}

// ListCRNs handles GET /api/crns.
func (h *Handlers) ListCRNs(c echo.Context) error {
	nodes := h.Network.ListComputeNodes(c.Request().Context())
	if nodes == nil {
		nodes = []aleph.ComputeNode{}
	}
	return c.JSON(http.StatusOK, map[string]any{"crns": nodes})
}

// NotifyAllocation handles POST /api/notify-allocation. Idempotent
// passthrough to the CRN's start endpoint.
func (h *Handlers) NotifyAllocation(c echo.Context) error {
	instanceHash := c.QueryParam("instance_hash")
	crnURL := c.QueryParam("crn_url")
	if instanceHash == "" || crnURL == "" {
		return errJSON(c, http.StatusBadRequest, "instance_hash and crn_url are required")
	}
	status := h.Network.NotifyNodeStart(c.Request().Context(), crnURL, instanceHash)
	return c.JSON(http.StatusOK, map[string]any{
		"crn_status": status,
		"notified":   status >= 200 && status < 300,
	})
}

// GetAllocation handles GET /api/allocation/:instance_hash.
func (h *Handlers) GetAllocation(c echo.Context) error {
	instanceHash := c.Param("instance_hash")
	if instanceHash == "" {
		return errJSON(c, http.StatusBadRequest, "instance_hash is required")
	}
	alloc := h.Network.LookupAllocation(c.Request().Context(), instanceHash, c.QueryParam("crn_url"))
	return c.JSON(http.StatusOK, alloc)
}

// MarketplaceKey handles GET /api/marketplace-key.
func (h *Handlers) MarketplaceKey(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"public_key": h.DeployPublicKey})
}
