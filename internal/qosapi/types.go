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

package qosapi

// AllSwitches is the wire value meaning "apply to every attached
// datapath", used wherever the REST layer accepts an optional dpid.
const AllSwitches = "all"

// queueRequest is the body for POST /qos/queue/{dpid}.
type queueRequest struct {
	Type    string        `json:"type"`
	MaxRate string        `json:"max_rate"`
	Queues  []queueConfig `json:"queues"`
}

type queueConfig struct {
	MaxRate string `json:"max_rate"`
}

// ruleRequest is the body for POST /qos/rules/{dpid}.
type ruleRequest struct {
	Match   ruleMatch   `json:"match"`
	Actions ruleActions `json:"actions"`
}

type ruleMatch struct {
	NwDst   string `json:"nw_dst"`
	NwProto string `json:"nw_proto"`
	TpDst   uint16 `json:"tp_dst"`
}

type ruleActions struct {
	Queue uint32 `json:"queue"`
}

// deleteRulesRequest is the body for DELETE /qos/rules/{dpid}.
type deleteRulesRequest struct {
	QosID string `json:"qos_id"`
}
