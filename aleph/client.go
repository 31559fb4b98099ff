// Package aleph wraps the read-only HTTP surfaces of the Aleph
// network the marketplace depends on: the message API, the scheduler,
// individual compute nodes (CRNs) and the subdomain gateway. All
// methods degrade to empty results on upstream trouble; retry policy
// belongs to the caller.
package aleph

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Default upstream endpoints.
const (
	DefaultAPIURL       = "https://api2.aleph.im/api/v0"
	DefaultSchedulerURL = "https://scheduler.api.aleph.cloud/api/v0"
	DefaultGatewayURL   = "https://gw.2n6.me"
)

// Config overrides the upstream endpoints; zero values use defaults.
type Config struct {
	APIURL       string
	SchedulerURL string
	GatewayURL   string
}

// Client is the stateless adapter. Safe for concurrent use.
type Client struct {
	apiURL       string
	schedulerURL string
	gatewayURL   string

	// short for point lookups, long for list endpoints
	httpShort *http.Client
	httpLong  *http.Client
}

func New(cfg Config) *Client {
	c := &Client{
		apiURL:       strings.TrimRight(cfg.APIURL, "/"),
		schedulerURL: strings.TrimRight(cfg.SchedulerURL, "/"),
		gatewayURL:   strings.TrimRight(cfg.GatewayURL, "/"),
		httpShort:    &http.Client{Timeout: 10 * time.Second},
		httpLong:     &http.Client{Timeout: 30 * time.Second},
	}
	if c.apiURL == "" {
		c.apiURL = DefaultAPIURL
	}
	if c.schedulerURL == "" {
		c.schedulerURL = DefaultSchedulerURL
	}
	if c.gatewayURL == "" {
		c.gatewayURL = DefaultGatewayURL
	}
	return c
}

// getJSON fetches rawURL and decodes the body into out. Non-2xx counts
// as an error.
func (c *Client) getJSON(ctx context.Context, client *http.Client, rawURL string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("GET %s: status %d", rawURL, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Balance is the network balance of one address. Nil pointers mean the
// upstream could not be reached.
type Balance struct {
	Address       string   `json:"address"`
	Balance       *float64 `json:"balance"`
	CreditBalance *float64 `json:"credit_balance"`
	LockedAmount  *float64 `json:"locked_amount"`
	Error         string   `json:"error,omitempty"`
}

// GetBalance returns the address's balances, or the unknown sentinel
// when the API is unreachable.
func (c *Client) GetBalance(ctx context.Context, address string) Balance {
	var body struct {
		Balance       float64 `json:"balance"`
		CreditBalance float64 `json:"credit_balance"`
		LockedAmount  float64 `json:"locked_amount"`
	}
	u := fmt.Sprintf("%s/addresses/%s/balance", c.apiURL, url.PathEscape(address))
	if err := c.getJSON(ctx, c.httpShort, u, &body); err != nil {
		logrus.WithError(err).WithField("address", address).Warn("balance lookup failed")
		return Balance{Address: address, Error: "Could not fetch balance"}
	}
	return Balance{
		Address:       address,
		Balance:       &body.Balance,
		CreditBalance: &body.CreditBalance,
		LockedAmount:  &body.LockedAmount,
	}
}

// SSHKey is a public key the address registered on the network.
type SSHKey struct {
	Key      string  `json:"key"`
	Label    string  `json:"label"`
	ItemHash string  `json:"item_hash"`
	Time     float64 `json:"time"`
}

// ListSSHKeys returns the ALEPH-SSH posts of an address on the
// cloud-solutions channel. Unreachable upstream yields an empty list.
func (c *Client) ListSSHKeys(ctx context.Context, address string) []SSHKey {
	var body struct {
		Posts []struct {
			ItemHash string  `json:"item_hash"`
			Time     float64 `json:"time"`
			Content  struct {
				Key   string `json:"key"`
				Label string `json:"label"`
			} `json:"content"`
		} `json:"posts"`
	}
	u := fmt.Sprintf("%s/posts.json?types=ALEPH-SSH&channels=ALEPH-CLOUDSOLUTIONS&addresses=%s",
		c.apiURL, url.QueryEscape(address))
	if err := c.getJSON(ctx, c.httpLong, u, &body); err != nil {
		logrus.WithError(err).WithField("address", address).Warn("ssh key lookup failed")
		return nil
	}
	keys := make([]SSHKey, 0, len(body.Posts))
	for _, post := range body.Posts {
		if post.Content.Key == "" {
			continue
		}
		keys = append(keys, SSHKey{
			Key:      post.Content.Key,
			Label:    post.Content.Label,
			ItemHash: post.ItemHash,
			Time:     post.Time,
		})
	}
	return keys
}

// NotifyNodeStart asks a compute node to start the instance. Best
// effort: the returned status is 0 when the node was unreachable.
func (c *Client) NotifyNodeStart(ctx context.Context, nodeURL, instanceHash string) int {
	payload, _ := json.Marshal(map[string]string{"instance": instanceHash})
	u := strings.TrimRight(normalizeNodeURL(nodeURL), "/") + "/control/allocation/notify"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(payload))
	if err != nil {
		return 0
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpShort.Do(req)
	if err != nil {
		logrus.WithError(err).WithField("node", nodeURL).Warn("node start notification failed")
		return 0
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	logrus.WithFields(logrus.Fields{"node": nodeURL, "status": resp.StatusCode}).Info("node start notified")
	return resp.StatusCode
}

func normalizeNodeURL(nodeURL string) string {
	if nodeURL != "" && !strings.HasPrefix(nodeURL, "http") {
		return "https://" + nodeURL
	}
	return nodeURL
}
