package sshexec

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"marketplace.aleph.sh/security"
)

const composeTimeout = 10 * time.Minute

// prometheusConfig is written next to the compose file for metrics
// stacks so the bundled Prometheus has something to scrape.
const prometheusConfig = `global:
  scrape_interval: 15s

scrape_configs:
  - job_name: 'prometheus'
    static_configs:
      - targets: ['localhost:9090']
`

// Step is one entry of the deploy audit trail.
type Step struct {
	Name   string `json:"step"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// Container is one service as reported by docker compose ps.
type Container struct {
	Name   string `json:"name"`
	Image  string `json:"image,omitempty"`
	State  string `json:"state"`
	Status string `json:"status,omitempty"`
}

// ComposeResult is the outcome of DeployCompose. Status is "running"
// or "failed"; Steps records what was attempted either way.
type ComposeResult struct {
	Status     string            `json:"status"`
	AppName    string            `json:"app_name"`
	AppDir     string            `json:"app_directory,omitempty"`
	Steps      []Step            `json:"steps"`
	Containers []Container       `json:"containers,omitempty"`
	Passwords  map[string]string `json:"generated_passwords,omitempty"`
	Error      string            `json:"error,omitempty"`
}

func (r *ComposeResult) stepOK(name string) {
	r.Steps = append(r.Steps, Step{Name: name, Status: "success"})
}

func (r *ComposeResult) stepFail(name, errMsg string) {
	r.Steps = append(r.Steps, Step{Name: name, Status: "failed", Error: errMsg})
	r.Status = "failed"
	r.Error = errMsg
}

// DeployCompose installs and starts a compose stack under
// /root/apps/<appID>. Password placeholders in the compose document are
// replaced with fresh random values, returned in the result for
// one-time disclosure. The whole call is capped at ten minutes.
func (c *Client) DeployCompose(ctx context.Context, appID, compose string) *ComposeResult {
	res := &ComposeResult{Status: "pending"}

	name, err := security.SanitizeAppName(appID)
	if err != nil {
		res.Status = "failed"
		res.Error = err.Error()
		return res
	}
	res.AppName = name

	ctx, cancel := context.WithTimeout(ctx, composeTimeout)
	defer cancel()

	compose, res.Passwords = fillPasswordPlaceholders(compose)

	appDir := appsBaseDir + "/" + name
	quotedDir := security.QuoteShell(appDir)
	res.AppDir = appDir

	log := logrus.WithFields(logrus.Fields{"app": name, "host": c.host})
	log.Info("deploying compose stack")

	if r := c.RunCommand(ctx, "mkdir -p "+quotedDir, 0); r.Code != 0 {
		res.stepFail("create_directory", fmt.Sprintf("Failed to create directory: %s", r.Stderr))
		return res
	}
	res.stepOK("create_directory")

	writeCompose := security.SafeWriteFileCommand(compose, appDir+"/docker-compose.yml")
	if r := c.RunCommand(ctx, writeCompose, 0); r.Code != 0 {
		res.stepFail("write_compose", fmt.Sprintf("Failed to write compose file: %s", r.Stderr))
		return res
	}
	res.stepOK("write_compose")

	// metrics stacks ship a scrape config next to the compose file
	if strings.Contains(name, "prometheus") || strings.Contains(name, "grafana") {
		writeProm := security.SafeWriteFileCommand(prometheusConfig, appDir+"/prometheus.yml")
		if r := c.RunCommand(ctx, writeProm, 0); r.Code != 0 {
			res.stepFail("write_prometheus_config", fmt.Sprintf("Failed to write prometheus.yml: %s", r.Stderr))
			return res
		}
		res.stepOK("write_prometheus_config")
	}

	if r := c.RunCommand(ctx, "docker --version", dialTimeout); r.Code != 0 {
		res.stepOK("docker_check")
		log.Info("docker missing on target, installing")
		if r := c.RunCommand(ctx, "curl -fsSL https://get.docker.com | sh", 300*time.Second); r.Code != 0 {
			res.stepFail("docker_install", fmt.Sprintf("Docker installation failed: %s", r.Stderr))
			return res
		}
		res.stepOK("docker_install")
	} else {
		res.stepOK("docker_check")
	}

	up := fmt.Sprintf("cd %s && docker compose pull && docker compose up -d", quotedDir)
	if r := c.RunCommand(ctx, up, MaxTimeout); r.Code != 0 {
		res.stepFail("compose_up", fmt.Sprintf("docker compose up failed: %s", r.Stderr))
		return res
	}
	res.stepOK("compose_up")
	res.Status = "running"

	ps := fmt.Sprintf("cd %s && docker compose ps --format json", quotedDir)
	if r := c.RunCommand(ctx, ps, 0); r.Code == 0 {
		res.Containers = parseComposePS(r.Stdout)
		res.stepOK("container_list")
	} else {
		// stack is up, listing is cosmetic
		res.Steps = append(res.Steps, Step{Name: "container_list", Status: "failed", Error: tail(r.Stderr, stderrTail)})
	}

	log.WithField("containers", len(res.Containers)).Info("compose stack running")
	return res
}

// fillPasswordPlaceholders replaces the generated-password tokens with
// fresh random strings and reports what was generated.
func fillPasswordPlaceholders(compose string) (string, map[string]string) {
	var passwords map[string]string
	set := func(key, placeholder string) {
		if !strings.Contains(compose, placeholder) {
			return
		}
		if passwords == nil {
			passwords = make(map[string]string)
		}
		pw := security.GeneratePassword()
		compose = strings.ReplaceAll(compose, placeholder, pw)
		passwords[key] = pw
	}
	set("password", "__GENERATED_PASSWORD__")
	set("root_password", "__GENERATED_ROOT_PASSWORD__")
	return compose, passwords
}

// parseComposePS handles both output shapes of docker compose ps
// --format json: one JSON object per line (current) and a single JSON
// array (older releases).
func parseComposePS(out string) []Container {
	type psRow struct {
		Name    string `json:"Name"`
		Names   string `json:"Names"`
		Image   string `json:"Image"`
		State   string `json:"State"`
		Status  string `json:"Status"`
		Service string `json:"Service"`
	}
	toContainer := func(row psRow) Container {
		name := row.Name
		if name == "" {
			name = row.Names
		}
		if name == "" {
			name = row.Service
		}
		return Container{Name: name, Image: row.Image, State: row.State, Status: row.Status}
	}

	out = strings.TrimSpace(out)
	if out == "" {
		return nil
	}

	var containers []Container
	if strings.HasPrefix(out, "[") {
		var rows []psRow
		if err := json.Unmarshal([]byte(out), &rows); err != nil {
			return nil
		}
		for _, row := range rows {
			containers = append(containers, toContainer(row))
		}
		return containers
	}

	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var row psRow
		if err := json.Unmarshal([]byte(line), &row); err != nil {
			continue
		}
		containers = append(containers, toContainer(row))
	}
	return containers
}
