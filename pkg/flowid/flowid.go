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

// Package flowid provides the value type identifying a customer UDP flow.
package flowid

import "fmt"

// FlowId identifies a declared customer flow by its IPv4 destination and
// UDP destination port. It is comparable and usable as a map key.
type FlowId struct {
	IPv4Dst string
	UDPDst  uint16
}

// String renders the flow in "ipv4:port" form, used in log lines.
func (f FlowId) String() string {
	return fmt.Sprintf("%s:%d", f.IPv4Dst, f.UDPDst)
}

// FromRecord builds a FlowId out of a loosely-typed record, such as one
// decoded from YAML or an OpenFlow match. Both fields are mandatory; the
// error names every missing one.
func FromRecord(rec map[string]any) (FlowId, error) {
	var missing []string

	ipv4, ok := rec["ipv4_dst"].(string)
	if !ok || ipv4 == "" {
		missing = append(missing, "ipv4_dst")
	}

	udp, ok := asUint16(rec["udp_dst"])
	if !ok {
		missing = append(missing, "udp_dst")
	}

	if len(missing) > 0 {
		return FlowId{}, fmt.Errorf("flowid: missing or invalid field(s) %v", missing)
	}
	return FlowId{IPv4Dst: ipv4, UDPDst: udp}, nil
}

// Record serializes the FlowId back to a plain record, the inverse of
// FromRecord.
func (f FlowId) Record() map[string]any {
	return map[string]any{
		"ipv4_dst": f.IPv4Dst,
		"udp_dst":  f.UDPDst,
	}
}

// asUint16 accepts the handful of numeric shapes a YAML/JSON decoder might
// hand back for an integer field.
func asUint16(v any) (uint16, bool) {
	switch n := v.(type) {
	case uint16:
		return n, true
	case int:
		if n < 0 || n > 0xffff {
			return 0, false
		}
		return uint16(n), true
	case int64:
		if n < 0 || n > 0xffff {
			return 0, false
		}
		return uint16(n), true
	case float64:
		if n < 0 || n > 0xffff {
			return 0, false
		}
		return uint16(n), true
	default:
		return 0, false
	}
}
