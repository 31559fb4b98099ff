package api

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketplace.aleph.sh/aleph"
	"marketplace.aleph.sh/auth"
	"marketplace.aleph.sh/catalog"
	"marketplace.aleph.sh/orchestrator"
	"marketplace.aleph.sh/sshexec"
	"marketplace.aleph.sh/store"
)

const (
	keyA = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"
	keyB = "8da4ef21b864d2cc526dbdb2a120bd2874c36c9d0a1fb7f8c63d7f7a8b41de8f"
)

type fakeExec struct {
	passwords map[string]string
}

func (f *fakeExec) TestConnection(context.Context) bool { return true }

func (f *fakeExec) DeployCompose(_ context.Context, appID, _ string) *sshexec.ComposeResult {
	return &sshexec.ComposeResult{
		Status:     "running",
		AppName:    appID,
		Containers: []sshexec.Container{{Name: appID + "-web-1", State: "running"}},
		Passwords:  f.passwords,
	}
}

func (f *fakeExec) SetupCaddyProxy(_ context.Context, _ int, subdomain, baseDomain string) (string, error) {
	return "https://" + subdomain + "." + baseDomain, nil
}

func (f *fakeExec) RevokeAuthorizedKey(context.Context, string) error { return nil }

func (f *fakeExec) GetAppStatus(context.Context, string) ([]sshexec.Container, error) {
	return []sshexec.Container{{Name: "web-1", State: "running"}}, nil
}

func (f *fakeExec) StopApp(context.Context, string) error   { return nil }
func (f *fakeExec) RemoveApp(context.Context, string) error { return nil }

type fakeNetwork struct{}

func (fakeNetwork) GetBalance(_ context.Context, address string) aleph.Balance {
	credits := 30000.0
	return aleph.Balance{Address: address, CreditBalance: &credits}
}

func (fakeNetwork) ListSSHKeys(context.Context, string) []aleph.SSHKey {
	return []aleph.SSHKey{{Key: "ssh-ed25519 AAA", Label: "laptop"}}
}

func (fakeNetwork) ListComputeNodes(context.Context) []aleph.ComputeNode {
	return []aleph.ComputeNode{{Hash: "h", Name: "crn", URL: "https://crn.example", Score: 0.9}}
}

func (fakeNetwork) LookupAllocation(_ context.Context, instanceHash, _ string) aleph.Allocation {
	if instanceHash == "allocated" {
		return aleph.Allocation{Allocated: true, IPv4: "203.0.113.5", SSHPort: 22022}
	}
	return aleph.Allocation{}
}

func (fakeNetwork) NotifyNodeStart(context.Context, string, string) int { return 202 }

type testAPI struct {
	e    *echo.Echo
	h    *Handlers
	orch *orchestrator.Orchestrator
}

func newTestAPI(t *testing.T, exec orchestrator.Executor) *testAPI {
	t.Helper()
	cat, err := catalog.Load("")
	require.NoError(t, err)
	orch := orchestrator.New(orchestrator.Config{
		Store:           store.Open(filepath.Join(t.TempDir(), "deployments.json")),
		Catalog:         cat,
		Gateway:         staticGateway("tenant-7"),
		NewExecutor:     func(string, int, string) (orchestrator.Executor, error) { return exec, nil },
		DeployPublicKey: "ssh-ed25519 AAAATestKey marketplace",
		ProbeAttempts:   1,
		ProbeInterval:   time.Millisecond,
	})
	h := &Handlers{
		Auth:            auth.NewService(),
		Catalog:         cat,
		Network:         fakeNetwork{},
		Orchestrator:    orch,
		DeployPublicKey: "ssh-ed25519 AAAATestKey marketplace",
	}
	e := echo.New()
	SetupRoutes(e, h)
	return &testAPI{e: e, h: h, orch: orch}
}

type staticGateway string

func (g staticGateway) LookupSubdomain(context.Context, string) string { return string(g) }

func (ta *testAPI) do(method, path, token string, body any) *httptest.ResponseRecorder {
	var reader *strings.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		reader = strings.NewReader(string(data))
	} else {
		reader = strings.NewReader("")
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if token != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	ta.e.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func personalSign(t *testing.T, keyHex, message string) string {
	t.Helper()
	key, err := crypto.HexToECDSA(keyHex)
	require.NoError(t, err)
	prefixed := fmt.Sprintf("\x19Ethereum Signed Message:\n%d%s", len(message), message)
	sig, err := crypto.Sign(crypto.Keccak256([]byte(prefixed)), key)
	require.NoError(t, err)
	sig[64] += 27
	return "0x" + hex.EncodeToString(sig)
}

func addressOf(t *testing.T, keyHex string) string {
	t.Helper()
	key, err := crypto.HexToECDSA(keyHex)
	require.NoError(t, err)
	return strings.ToLower(crypto.PubkeyToAddress(key.PublicKey).Hex())
}

// login walks the full nonce/sign/verify flow and returns the token.
func (ta *testAPI) login(t *testing.T, keyHex string) string {
	t.Helper()
	address := addressOf(t, keyHex)

	rec := ta.do(http.MethodPost, "/api/auth/nonce", "", map[string]string{"address": address})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	challenge := decode(t, rec)
	message := challenge["message"].(string)

	rec = ta.do(http.MethodPost, "/api/auth/verify", "", map[string]string{
		"address":   address,
		"nonce":     challenge["nonce"].(string),
		"signature": personalSign(t, keyHex, message),
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return decode(t, rec)["token"].(string)
}

func TestAuthFlow(t *testing.T) {
	ta := newTestAPI(t, &fakeExec{})
	token := ta.login(t, keyA)

	rec := ta.do(http.MethodGet, "/api/auth/session", token, nil)
	session := decode(t, rec)
	assert.Equal(t, true, session["authenticated"])
	assert.Equal(t, addressOf(t, keyA), session["address"])

	rec = ta.do(http.MethodPost, "/api/auth/logout", token, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = ta.do(http.MethodGet, "/api/auth/session", token, nil)
	assert.Equal(t, false, decode(t, rec)["authenticated"])
}

func TestVerifyRejectsBadSignature(t *testing.T) {
	ta := newTestAPI(t, &fakeExec{})
	address := addressOf(t, keyA)

	rec := ta.do(http.MethodPost, "/api/auth/nonce", "", map[string]string{"address": address})
	require.Equal(t, http.StatusOK, rec.Code)
	challenge := decode(t, rec)

	// signed by the wrong wallet
	rec = ta.do(http.MethodPost, "/api/auth/verify", "", map[string]string{
		"address":   address,
		"nonce":     challenge["nonce"].(string),
		"signature": personalSign(t, keyB, challenge["message"].(string)),
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "invalid or expired", decode(t, rec)["error"])

	rec = ta.do(http.MethodPost, "/api/auth/nonce", "", map[string]string{"address": "0x123"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCatalogEndpoints(t *testing.T) {
	ta := newTestAPI(t, &fakeExec{})

	rec := ta.do(http.MethodGet, "/api/apps", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.GreaterOrEqual(t, len(body["apps"].([]any)), 4)

	rec = ta.do(http.MethodGet, "/api/apps?category=monitoring", "", nil)
	for _, raw := range decode(t, rec)["apps"].([]any) {
		assert.Equal(t, "monitoring", raw.(map[string]any)["category"])
	}

	rec = ta.do(http.MethodGet, "/api/apps/nginx-demo", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	app := decode(t, rec)
	assert.Equal(t, "Nginx Demo", app["name"])
	_, exposed := app["compose"]
	assert.False(t, exposed, "compose documents stay server-side")

	rec = ta.do(http.MethodGet, "/api/apps/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestNetworkEndpoints(t *testing.T) {
	ta := newTestAPI(t, &fakeExec{})
	address := addressOf(t, keyA)

	rec := ta.do(http.MethodGet, "/api/credits/"+address, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 30000.0, decode(t, rec)["credit_balance"])

	rec = ta.do(http.MethodGet, "/api/credits/zzz", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ta.do(http.MethodGet, "/api/ssh-keys/"+address, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode(t, rec)["keys"], 1)

	rec = ta.do(http.MethodGet, "/api/crns", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode(t, rec)["crns"], 1)

	rec = ta.do(http.MethodGet, "/api/allocation/allocated", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	alloc := decode(t, rec)
	assert.Equal(t, true, alloc["allocated"])
	assert.Equal(t, "203.0.113.5", alloc["vm_ipv4"])
	assert.Equal(t, 22022.0, alloc["ssh_port"])

	rec = ta.do(http.MethodGet, "/api/allocation/pending", "", nil)
	assert.Equal(t, false, decode(t, rec)["allocated"])

	rec = ta.do(http.MethodGet, "/api/marketplace-key", "", nil)
	assert.Contains(t, decode(t, rec)["public_key"], "ssh-ed25519")
}

func TestNotifyAllocation(t *testing.T) {
	ta := newTestAPI(t, &fakeExec{})

	rec := ta.do(http.MethodPost, "/api/notify-allocation?instance_hash=abc&crn_url=https://crn.example", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	token := ta.login(t, keyA)
	rec = ta.do(http.MethodPost, "/api/notify-allocation?instance_hash=abc&crn_url=https://crn.example", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, 202.0, body["crn_status"])
	assert.Equal(t, true, body["notified"])

	rec = ta.do(http.MethodPost, "/api/notify-allocation?instance_hash=abc", token, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func deployBody() map[string]any {
	return map[string]any{
		"app_id":        "nginx-demo",
		"ssh_host":      "203.0.113.5",
		"ssh_port":      22,
		"setup_tunnel":  true,
		"instance_hash": "abc123",
	}
}

func TestDeployFlow(t *testing.T) {
	ta := newTestAPI(t, &fakeExec{passwords: map[string]string{"password": "agfAEz9kq_XcRTyWu8mN2w"}})
	token := ta.login(t, keyA)

	rec := ta.do(http.MethodPost, "/api/deploy/ssh", token, deployBody())
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	started := decode(t, rec)
	assert.Equal(t, "started", started["status"])
	id := started["deployment_id"].(string)
	ta.orch.Wait()

	rec = ta.do(http.MethodGet, "/api/deploy/ssh/"+id, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	progress := decode(t, rec)
	assert.Equal(t, "complete", progress["status"])
	assert.Equal(t, "done", progress["step"])
	assert.Equal(t, "https://tenant-7.2n6.me", progress["public_url"])

	rec = ta.do(http.MethodGet, "/api/deployments/my", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	mine := decode(t, rec)["deployments"].([]any)
	require.Len(t, mine, 1)
	assert.Nil(t, mine[0].(map[string]any)["generated_passwords"])

	// first status poll discloses passwords, second does not
	rec = ta.do(http.MethodGet, "/api/deployments/"+id+"/status", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	first := decode(t, rec)
	require.NotNil(t, first["generated_passwords"])
	assert.Len(t, first["generated_passwords"].(map[string]any)["password"], 22)

	rec = ta.do(http.MethodGet, "/api/deployments/"+id+"/status", token, nil)
	second := decode(t, rec)
	assert.Nil(t, second["generated_passwords"])

	rec = ta.do(http.MethodPost, "/api/deployments/"+id+"/stop", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "stopped", decode(t, rec)["status"])

	rec = ta.do(http.MethodDelete, "/api/deployments/"+id, token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ta.do(http.MethodGet, "/api/deploy/ssh/"+id, "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeployRequiresSession(t *testing.T) {
	ta := newTestAPI(t, &fakeExec{})

	rec := ta.do(http.MethodPost, "/api/deploy/ssh", "", deployBody())
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = ta.do(http.MethodPost, "/api/deploy/ssh", "forged-token", deployBody())
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestDeployValidationErrors(t *testing.T) {
	ta := newTestAPI(t, &fakeExec{})
	token := ta.login(t, keyA)

	body := deployBody()
	body["app_id"] = "no-such-app"
	rec := ta.do(http.MethodPost, "/api/deploy/ssh", token, body)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	body = deployBody()
	body["ssh_host"] = "169.254.169.254"
	rec = ta.do(http.MethodPost, "/api/deploy/ssh", token, body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	body = deployBody()
	body["ssh_port"] = 65536
	rec = ta.do(http.MethodPost, "/api/deploy/ssh", token, body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	ta.orch.Wait()
}

func TestOwnershipEnforced(t *testing.T) {
	ta := newTestAPI(t, &fakeExec{})
	tokenA := ta.login(t, keyA)
	tokenB := ta.login(t, keyB)

	rec := ta.do(http.MethodPost, "/api/deploy/ssh", tokenA, deployBody())
	require.Equal(t, http.StatusOK, rec.Code)
	id := decode(t, rec)["deployment_id"].(string)
	ta.orch.Wait()

	for _, attempt := range []*httptest.ResponseRecorder{
		ta.do(http.MethodDelete, "/api/deployments/"+id, tokenB, nil),
		ta.do(http.MethodGet, "/api/deployments/"+id+"/status", tokenB, nil),
		ta.do(http.MethodPost, "/api/deployments/"+id+"/stop", tokenB, nil),
	} {
		assert.Equal(t, http.StatusForbidden, attempt.Code)
		// the rejection must be the whole response, not a prefix of it
		body := decode(t, attempt)
		assert.Equal(t, "not the deployment owner", body["error"])
	}

	rec = ta.do(http.MethodGet, "/api/deployments/unknown/status", tokenA, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "deployment not found", decode(t, rec)["error"])

	// the record survived B's attempts
	rec = ta.do(http.MethodGet, "/api/deployments/my", tokenA, nil)
	assert.Len(t, decode(t, rec)["deployments"], 1)

	rec = ta.do(http.MethodGet, "/api/deployments/my", tokenB, nil)
	assert.Len(t, decode(t, rec)["deployments"], 0)
}

func TestHealth(t *testing.T) {
	ta := newTestAPI(t, &fakeExec{})
	rec := ta.do(http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
