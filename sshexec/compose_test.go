package sshexec

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// composeResponder scripts the happy path; override lets a test fail a
// single step.
func composeResponder(override func(cmd string) (Result, bool)) func(string, time.Duration) Result {
	return func(cmd string, _ time.Duration) Result {
		if override != nil {
			if r, ok := override(cmd); ok {
				return r
			}
		}
		switch {
		case strings.Contains(cmd, "docker compose ps"):
			return okResult(`{"Name":"demo-web-1","Image":"nginx:alpine","State":"running","Status":"Up 2 seconds"}`)
		default:
			return okResult("")
		}
	}
}

func stepNames(steps []Step) []string {
	var names []string
	for _, s := range steps {
		names = append(names, s.Name)
	}
	return names
}

func TestDeployComposeHappyPath(t *testing.T) {
	c, calls := fakeClient(composeResponder(nil))

	res := c.DeployCompose(context.Background(), "nginx-demo", "services:\n  web:\n    image: nginx\n")
	assert.Equal(t, "running", res.Status)
	assert.Equal(t, "nginx-demo", res.AppName)
	assert.Equal(t, "/root/apps/nginx-demo", res.AppDir)
	assert.Empty(t, res.Error)
	assert.Equal(t, []string{"create_directory", "write_compose", "docker_check", "compose_up", "container_list"},
		stepNames(res.Steps))
	require.Len(t, res.Containers, 1)
	assert.Equal(t, "demo-web-1", res.Containers[0].Name)
	assert.Equal(t, "running", res.Containers[0].State)

	joined := strings.Join(*calls, "\n")
	assert.Contains(t, joined, "mkdir -p '/root/apps/nginx-demo'")
	assert.Contains(t, joined, "base64 -d > '/root/apps/nginx-demo/docker-compose.yml'")
	assert.Contains(t, joined, "cd '/root/apps/nginx-demo' && docker compose pull && docker compose up -d")
	assert.NotContains(t, joined, "get.docker.com", "docker present, no install")
}

func TestDeployComposeRejectsBadAppID(t *testing.T) {
	c, calls := fakeClient(composeResponder(nil))
	res := c.DeployCompose(context.Background(), "../etc", "services: {}")
	assert.Equal(t, "failed", res.Status)
	assert.Contains(t, res.Error, "path traversal")
	assert.Empty(t, *calls, "nothing may reach the remote host")
}

func TestDeployComposeInstallsDockerWhenMissing(t *testing.T) {
	c, calls := fakeClient(composeResponder(func(cmd string) (Result, bool) {
		if cmd == "docker --version" {
			return Result{Code: 127, Stderr: "docker: not found"}, true
		}
		return Result{}, false
	}))

	res := c.DeployCompose(context.Background(), "nginx-demo", "services: {}")
	assert.Equal(t, "running", res.Status)
	assert.Contains(t, stepNames(res.Steps), "docker_install")
	assert.Contains(t, strings.Join(*calls, "\n"), "curl -fsSL https://get.docker.com | sh")
}

func TestDeployComposeDockerInstallFailureIsFatal(t *testing.T) {
	c, _ := fakeClient(composeResponder(func(cmd string) (Result, bool) {
		if cmd == "docker --version" {
			return Result{Code: 127}, true
		}
		if strings.Contains(cmd, "get.docker.com") {
			return Result{Code: 1, Stderr: "no network"}, true
		}
		return Result{}, false
	}))

	res := c.DeployCompose(context.Background(), "nginx-demo", "services: {}")
	assert.Equal(t, "failed", res.Status)
	assert.Contains(t, res.Error, "Docker installation failed")
	assert.NotContains(t, stepNames(res.Steps), "compose_up")
}

func TestDeployComposeUpFailure(t *testing.T) {
	c, _ := fakeClient(composeResponder(func(cmd string) (Result, bool) {
		if strings.Contains(cmd, "docker compose pull") {
			return Result{Code: 1, Stderr: "manifest unknown"}, true
		}
		return Result{}, false
	}))

	res := c.DeployCompose(context.Background(), "nginx-demo", "services: {}")
	assert.Equal(t, "failed", res.Status)
	assert.Contains(t, res.Error, "manifest unknown")
}

func TestDeployComposePsFailureIsNotFatal(t *testing.T) {
	c, _ := fakeClient(composeResponder(func(cmd string) (Result, bool) {
		if strings.Contains(cmd, "docker compose ps") {
			return Result{Code: 1, Stderr: "boom"}, true
		}
		return Result{}, false
	}))

	res := c.DeployCompose(context.Background(), "nginx-demo", "services: {}")
	assert.Equal(t, "running", res.Status)
	assert.Empty(t, res.Containers)
}

func TestDeployComposeWritesPrometheusConfig(t *testing.T) {
	c, calls := fakeClient(composeResponder(nil))

	res := c.DeployCompose(context.Background(), "grafana", "services: {}")
	assert.Equal(t, "running", res.Status)
	assert.Contains(t, stepNames(res.Steps), "write_prometheus_config")
	assert.Contains(t, strings.Join(*calls, "\n"), "'/root/apps/grafana/prometheus.yml'")
}

func TestDeployComposeGeneratesPasswords(t *testing.T) {
	c, calls := fakeClient(composeResponder(nil))

	compose := "services:\n  db:\n    environment:\n      PASSWORD: __GENERATED_PASSWORD__\n      ROOT: __GENERATED_ROOT_PASSWORD__\n"
	res := c.DeployCompose(context.Background(), "wordpress", compose)
	require.Equal(t, "running", res.Status)
	require.Len(t, res.Passwords, 2)
	assert.Len(t, res.Passwords["password"], 22)
	assert.Len(t, res.Passwords["root_password"], 22)
	assert.NotEqual(t, res.Passwords["password"], res.Passwords["root_password"])

	// the placeholders never travel to the host
	joined := strings.Join(*calls, "\n")
	assert.NotContains(t, joined, "__GENERATED_PASSWORD__")
	assert.NotContains(t, joined, "__GENERATED_ROOT_PASSWORD__")
}

func TestDeployComposeNoPlaceholdersNoPasswords(t *testing.T) {
	c, _ := fakeClient(composeResponder(nil))
	res := c.DeployCompose(context.Background(), "nginx-demo", "services: {}")
	assert.Nil(t, res.Passwords)
}

func TestParseComposePS(t *testing.T) {
	t.Run("line delimited", func(t *testing.T) {
		out := `{"Name":"a-web-1","Image":"nginx","State":"running","Status":"Up"}
{"Name":"a-db-1","Image":"mariadb","State":"running","Status":"Up"}`
		containers := parseComposePS(out)
		require.Len(t, containers, 2)
		assert.Equal(t, "a-db-1", containers[1].Name)
	})

	t.Run("json array", func(t *testing.T) {
		containers := parseComposePS(`[{"Name":"a-web-1","State":"exited"}]`)
		require.Len(t, containers, 1)
		assert.Equal(t, "exited", containers[0].State)
	})

	t.Run("garbage tolerated", func(t *testing.T) {
		assert.Empty(t, parseComposePS(""))
		assert.Empty(t, parseComposePS("not json"))
		containers := parseComposePS("junk\n{\"Name\":\"ok\",\"State\":\"running\"}")
		require.Len(t, containers, 1)
	})
}
