// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package qosapi is the REST client for the SDN controller's QoS and
// flow-programming endpoints: setting the OVSDB address a switch should
// be managed through, programming/reading/deleting HTB queues, and
// programming/reading/deleting the per-flow match rules that steer
// traffic into those queues.
package qosapi

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"flowqos/internal/limittable"
)

// Client talks to the SDN controller's northbound REST API.
type Client struct {
	http           *resty.Client
	ovsdbAddr      string
	defaultMaxRate int64
	log            *zap.SugaredLogger
}

// Config carries the fields needed to construct a Client.
type Config struct {
	BaseURL        string
	OVSDBAddr      string
	DefaultMaxRate int64
	Timeout        time.Duration
}

// New builds a Client against cfg. A zero cfg.Timeout defaults to 10s, in
// line with this process never wanting an adapt cycle to stall
// indefinitely on a single unresponsive switch.
func New(cfg Config, log *zap.SugaredLogger) *Client {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	http := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(timeout)

	return &Client{
		http:           http,
		ovsdbAddr:      cfg.OVSDBAddr,
		defaultMaxRate: cfg.DefaultMaxRate,
		log:            log,
	}
}

// dpidPath maps an empty dpid to AllSwitches and passes any other value
// through unchanged; callers format a single switch's dpid with DpidHex16.
func dpidPath(dpid string) string {
	if dpid == "" {
		return AllSwitches
	}
	return dpid
}

// DpidHex16 renders dpid as the zero-padded 16-hex-digit form the queue
// and rule endpoints expect in their URL path.
func DpidHex16(dpid uint64) string {
	return fmt.Sprintf("%016x", dpid)
}

// DpidDecimal renders dpid as a base-10 string, the form the flow-entry
// clear endpoint expects.
func DpidDecimal(dpid uint64) string {
	return fmt.Sprintf("%d", dpid)
}

// SetOVSDBAddr tells the controller which OVS database to manage dpid
// through. This must be called once, before any queue is programmed on
// that switch.
func (c *Client) SetOVSDBAddr(ctx context.Context, dpid string) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/x-www-form-urlencoded").
		SetBody(fmt.Sprintf("%q", c.ovsdbAddr)).
		Put(fmt.Sprintf("/v1.0/conf/switches/%s/ovsdb_addr", dpid))
	return c.logAndClassify(resp, err, "set_ovsdb_addr")
}

// SetQueues programs an HTB queue hierarchy on dpid (or every attached
// switch, via AllSwitches): queue 0 carries the unclassified default
// rate, and one queue per declared flow follows in queue-id order at its
// current limit. On a transient "ovs_bridge" failure - typically seen
// when this call races the OVSDB address registration - it retries once
// after a short delay.
func (c *Client) SetQueues(ctx context.Context, dpid string, limits []limittable.FlowLimit) error {
	queues := make([]queueConfig, 0, len(limits)+1)
	queues = append(queues, queueConfig{MaxRate: fmt.Sprintf("%d", c.defaultMaxRate)})
	ordered := append([]limittable.FlowLimit(nil), limits...)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Current.QueueID < ordered[j].Current.QueueID })
	for _, l := range ordered {
		queues = append(queues, queueConfig{MaxRate: fmt.Sprintf("%d", l.Current.CurrentBps)})
	}

	body := queueRequest{
		Type:    "linux-htb",
		MaxRate: fmt.Sprintf("%d", c.defaultMaxRate),
		Queues:  queues,
	}

	path := fmt.Sprintf("/qos/queue/%s", dpidPath(dpid))
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(body).
		Post(path)

	if err == nil && !isResponseOK(resp) && strings.Contains(resp.String(), "ovs_bridge") {
		c.log.Warnw("queue setting failed, retrying once", "dpid", dpid, "delay", "100ms")
		time.Sleep(100 * time.Millisecond)
		resp, err = c.http.R().
			SetContext(ctx).
			SetHeader("Content-Type", "application/json").
			SetBody(body).
			Post(path)
	}

	if err := c.logAndClassify(resp, err, "set_queues"); err != nil {
		return err
	}
	c.log.Infow("queue setting completed", "dpid", dpid)
	return nil
}

// GetQueues asks dpid to report its current queue configuration. Calling
// this immediately after SetOVSDBAddr can spuriously fail; callers
// should allow the switch a moment to settle first.
func (c *Client) GetQueues(ctx context.Context, dpid string) error {
	resp, err := c.http.R().SetContext(ctx).Get(fmt.Sprintf("/qos/queue/%s", dpidPath(dpid)))
	return c.logAndClassify(resp, err, "get_queues")
}

// DeleteQueues removes every queue from dpid.
func (c *Client) DeleteQueues(ctx context.Context, dpid string) error {
	resp, err := c.http.R().SetContext(ctx).Delete(fmt.Sprintf("/qos/queue/%s", dpidPath(dpid)))
	return c.logAndClassify(resp, err, "delete_queues")
}

// SetRules programs one UDP match-and-queue rule per declared flow on
// dpid.
func (c *Client) SetRules(ctx context.Context, dpid string, limits []limittable.FlowLimit) error {
	path := fmt.Sprintf("/qos/rules/%s", dpidPath(dpid))
	for _, l := range limits {
		body := ruleRequest{
			Match: ruleMatch{
				NwDst:   l.Flow.IPv4Dst,
				NwProto: "UDP",
				TpDst:   l.Flow.UDPDst,
			},
			Actions: ruleActions{Queue: l.Current.QueueID},
		}
		resp, err := c.http.R().
			SetContext(ctx).
			SetHeader("Content-Type", "application/json").
			SetBody(body).
			Post(path)
		if err := c.logAndClassify(resp, err, "set_rules"); err != nil {
			return fmt.Errorf("flow %s: %w", l.Flow, err)
		}
	}
	return nil
}

// GetRules asks dpid to report its installed rules. The controller
// answers this by emitting an OpenFlow flow-stats-reply event, which the
// transport layer's event source surfaces asynchronously rather than in
// this call's response body.
func (c *Client) GetRules(ctx context.Context, dpid string) error {
	resp, err := c.http.R().SetContext(ctx).Get(fmt.Sprintf("/qos/rules/%s", dpidPath(dpid)))
	return c.logAndClassify(resp, err, "get_rules")
}

// DeleteRules removes every QoS rule this process installed on dpid.
func (c *Client) DeleteRules(ctx context.Context, dpid string) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(deleteRulesRequest{QosID: "all"}).
		Delete(fmt.Sprintf("/qos/rules/%s", dpidPath(dpid)))
	return c.logAndClassify(resp, err, "delete_rules")
}

// ClearFlowEntries removes every flow entry installed on dpid, used
// during a graceful shutdown so a departing controller does not leave
// stale forwarding state behind. The scope of this call is the whole
// switch, not just the flows this process knows about.
func (c *Client) ClearFlowEntries(ctx context.Context, dpid uint64) error {
	resp, err := c.http.R().
		SetContext(ctx).
		Delete(fmt.Sprintf("/stats/flowentry/clear/%s", DpidDecimal(dpid)))
	return c.logAndClassify(resp, err, "clear_flow_entries")
}

// isResponseOK mirrors the controller's own definition of success: a
// sub-300 status whose body does not itself contain the word "failure"
// (some endpoints report application-level failures with a 200).
func isResponseOK(resp *resty.Response) bool {
	return resp.StatusCode() < 300 && !strings.Contains(resp.String(), "failure")
}

func (c *Client) logAndClassify(resp *resty.Response, err error, op string) error {
	if err != nil {
		c.log.Errorw("qos api request failed", "op", op, "error", err)
		return fmt.Errorf("qosapi: %s: %w", op, err)
	}
	if !isResponseOK(resp) {
		c.log.Errorw("qos api request rejected", "op", op, "status", resp.StatusCode(), "body", resp.String())
		return fmt.Errorf("qosapi: %s: controller rejected request, status=%d", op, resp.StatusCode())
	}
	c.log.Debugw("qos api request ok", "op", op, "status", resp.StatusCode())
	return nil
}
