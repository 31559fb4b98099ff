package sshexec

import (
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type servicePort struct {
	service string
	host    int
}

// GuessExposedPort picks the host port the reverse proxy should front.
// Services named web or app win, then the first service publishing a
// port below 1024, then the first published port, then 80. Document
// order is preserved so "first" means first in the compose file.
func GuessExposedPort(compose string) int {
	candidates := publishedPorts(compose)
	if len(candidates) == 0 {
		return 80
	}
	for _, want := range []string{"web", "app"} {
		for _, c := range candidates {
			if c.service == want {
				return c.host
			}
		}
	}
	for _, c := range candidates {
		if c.host < 1024 {
			return c.host
		}
	}
	return candidates[0].host
}

// publishedPorts extracts the first published host port of every
// service, in document order.
func publishedPorts(compose string) []servicePort {
	var root yaml.Node
	if err := yaml.Unmarshal([]byte(compose), &root); err != nil {
		return nil
	}
	if len(root.Content) == 0 {
		return nil
	}
	services := mapValue(root.Content[0], "services")
	if services == nil || services.Kind != yaml.MappingNode {
		return nil
	}

	var out []servicePort
	for i := 0; i+1 < len(services.Content); i += 2 {
		name := services.Content[i].Value
		svc := services.Content[i+1]
		ports := mapValue(svc, "ports")
		if ports == nil || ports.Kind != yaml.SequenceNode {
			continue
		}
		for _, entry := range ports.Content {
			if host, ok := hostPort(entry); ok {
				out = append(out, servicePort{service: name, host: host})
				break
			}
		}
	}
	return out
}

func mapValue(node *yaml.Node, key string) *yaml.Node {
	if node == nil || node.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		if node.Content[i].Value == key {
			return node.Content[i+1]
		}
	}
	return nil
}

// hostPort reads the published side of one ports entry. Handles the
// short syntax ("80:80", "127.0.0.1:8080:80", "3000") and the long
// syntax ({published: 8080, target: 80}).
func hostPort(entry *yaml.Node) (int, bool) {
	switch entry.Kind {
	case yaml.ScalarNode:
		return hostPortFromShort(entry.Value)
	case yaml.MappingNode:
		published := mapValue(entry, "published")
		if published == nil {
			return 0, false
		}
		return parsePortValue(published.Value)
	}
	return 0, false
}

func hostPortFromShort(s string) (int, bool) {
	parts := strings.Split(s, ":")
	switch len(parts) {
	case 1:
		// "3000": container port only, published on the same port
		return parsePortValue(parts[0])
	case 2:
		return parsePortValue(parts[0])
	case 3:
		// "IP:host:container"
		return parsePortValue(parts[1])
	}
	return 0, false
}

func parsePortValue(s string) (int, bool) {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '/'); i >= 0 {
		s = s[:i]
	}
	// port ranges are not meaningful for a single proxy target
	if strings.Contains(s, "-") {
		s = strings.SplitN(s, "-", 2)[0]
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 || n > 65535 {
		return 0, false
	}
	return n, true
}
