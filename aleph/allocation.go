package aleph

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
)

// ComputeNode is one CRN able to host instances.
type ComputeNode struct {
	Hash           string  `json:"hash"`
	Name           string  `json:"name"`
	URL            string  `json:"url"`
	PaymentAddress string  `json:"payment_address"`
	Score          float64 `json:"score"`
}

// ListComputeNodes returns active CRNs that advertise a payment
// address, highest score first.
func (c *Client) ListComputeNodes(ctx context.Context) []ComputeNode {
	var body struct {
		Nodes []struct {
			Hash                   string  `json:"hash"`
			Name                   string  `json:"name"`
			Address                string  `json:"address"`
			Status                 string  `json:"status"`
			PaymentReceiverAddress string  `json:"payment_receiver_address"`
			Score                  float64 `json:"score"`
		} `json:"resource_nodes"`
	}
	if err := c.getJSON(ctx, c.httpLong, c.schedulerURL+"/allocation/resource_nodes", &body); err != nil {
		logrus.WithError(err).Warn("compute node listing failed")
		return nil
	}
	nodes := make([]ComputeNode, 0, len(body.Nodes))
	for _, n := range body.Nodes {
		if n.Status != "active" || n.PaymentReceiverAddress == "" {
			continue
		}
		nodes = append(nodes, ComputeNode{
			Hash:           n.Hash,
			Name:           n.Name,
			URL:            strings.TrimRight(n.Address, "/"),
			PaymentAddress: n.PaymentReceiverAddress,
			Score:          n.Score,
		})
	}
	sort.SliceStable(nodes, func(i, j int) bool { return nodes[i].Score > nodes[j].Score })
	return nodes
}

// Allocation describes where a created instance ended up.
type Allocation struct {
	Allocated bool   `json:"allocated"`
	IPv4      string `json:"vm_ipv4,omitempty"`
	IPv6      string `json:"vm_ipv6,omitempty"`
	SSHPort   int    `json:"ssh_port,omitempty"`
	NodeURL   string `json:"node_url,omitempty"`
}

type executionInfo struct {
	Networking struct {
		IPv4        string `json:"ipv4"`
		IPv6        string `json:"ipv6"`
		MappedPorts map[string]struct {
			Host int `json:"host"`
		} `json:"mapped_ports"`
	} `json:"networking"`
}

// LookupAllocation resolves the VM address for an instance. The
// preferred node's execution list carries the port mapping for guest
// port 22, so it is tried first (both API generations); the scheduler
// allocation endpoint is the fallback and implies direct port 22.
func (c *Client) LookupAllocation(ctx context.Context, instanceHash, preferredNodeURL string) Allocation {
	if preferredNodeURL != "" {
		if alloc, ok := c.lookupOnNode(ctx, instanceHash, preferredNodeURL); ok {
			return alloc
		}
	}

	var body struct {
		VMHash  string `json:"vm_hash"`
		VMIPv4  string `json:"vm_ipv4"`
		VMIPv6  string `json:"vm_ipv6"`
		Node    struct {
			URL string `json:"url"`
		} `json:"node"`
	}
	u := fmt.Sprintf("%s/allocation/%s", c.schedulerURL, url.PathEscape(instanceHash))
	if err := c.getJSON(ctx, c.httpShort, u, &body); err != nil {
		logrus.WithError(err).WithField("instance", instanceHash).Debug("scheduler allocation lookup failed")
		return Allocation{}
	}
	if body.VMIPv4 == "" && body.VMIPv6 == "" {
		return Allocation{}
	}
	return Allocation{
		Allocated: true,
		IPv4:      body.VMIPv4,
		IPv6:      body.VMIPv6,
		SSHPort:   22,
		NodeURL:   body.Node.URL,
	}
}

func (c *Client) lookupOnNode(ctx context.Context, instanceHash, nodeURL string) (Allocation, bool) {
	base := strings.TrimRight(normalizeNodeURL(nodeURL), "/")
	for _, path := range []string{"/v2/about/executions/list", "/about/executions/list"} {
		executions := map[string]executionInfo{}
		if err := c.getJSON(ctx, c.httpShort, base+path, &executions); err != nil {
			continue
		}
		exec, ok := executions[instanceHash]
		if !ok {
			// the node answered but does not run this instance
			continue
		}
		alloc := Allocation{
			Allocated: true,
			IPv4:      exec.Networking.IPv4,
			IPv6:      exec.Networking.IPv6,
			SSHPort:   22,
			NodeURL:   base,
		}
		if mapped, ok := exec.Networking.MappedPorts["22"]; ok && mapped.Host > 0 {
			alloc.SSHPort = mapped.Host
		}
		return alloc, true
	}
	return Allocation{}, false
}

// LookupSubdomain asks the gateway which subdomain is bound to the
// instance. Empty string means no binding (or unreachable gateway).
func (c *Client) LookupSubdomain(ctx context.Context, instanceHash string) string {
	var body struct {
		Subdomain string `json:"subdomain"`
	}
	u := fmt.Sprintf("%s/api/hash/%s", c.gatewayURL, url.PathEscape(instanceHash))
	if err := c.getJSON(ctx, c.httpShort, u, &body); err != nil {
		logrus.WithError(err).WithField("instance", instanceHash).Debug("subdomain lookup failed")
		return ""
	}
	return body.Subdomain
}
