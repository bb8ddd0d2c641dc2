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

// Package config loads and validates the YAML file that declares the
// flow set, the SDN controller endpoints and the adaptive tuning
// parameters this process runs with.
package config

import (
	"fmt"
	"os"
	"sort"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"flowqos/pkg/flowid"
)

// Defaults for every optional field, matching the values the adaptive
// controller and flow-stat window fall back to when the config file is
// silent on them.
const (
	DefaultTimeStepSeconds    = 5
	DefaultStatLogFormat      = "csv"
	DefaultLimitStepBps       = 2_000_000
	DefaultInterfaceMaxRate   = -1
	DefaultFlowstatWindowSize = 10
)

// FlowConfig is one declared flow and its baseline rate limit, as
// written under the top-level "flows" key.
type FlowConfig struct {
	IPv4Dst       string `yaml:"ipv4_dst"`
	UDPDst        uint16 `yaml:"udp_dst"`
	BaseRatelimit int64  `yaml:"base_ratelimit"`
}

// Config is the root of the configuration file.
type Config struct {
	Flows             []FlowConfig `yaml:"flows"`
	OVSDBAddr         string       `yaml:"ovsdb_addr"`
	ControllerBaseURL string       `yaml:"controller_baseurl"`

	TimeStepSeconds    int    `yaml:"time_step"`
	StatLogFormat      string `yaml:"stat_log_format"`
	LimitStepBps       int64  `yaml:"limit_step"`
	InterfaceMaxRate   int64  `yaml:"interface_max_rate"`
	FlowstatWindowSize int    `yaml:"flowstat_window_size"`

	MetricsAddr string `yaml:"metrics_addr"`
}

// mandatoryFields are the top-level keys this process cannot run
// without; ovsdb_addr and flows mirror the original controller's
// mandatory set, and controller_baseurl is added since the REST client
// has no usable default for it.
var mandatoryFields = []string{"flows", "ovsdb_addr", "controller_baseurl"}

// Load reads and validates the YAML configuration at path, applying
// defaults to every optional field left unset. All missing mandatory
// fields are reported together in a single error, rather than one at a
// time, so a misconfigured deployment can be fixed in one pass.
//
// Individual flow records are validated on their own: a record missing
// ipv4_dst/udp_dst, or carrying a non-positive base_ratelimit, is logged
// and skipped rather than failing the whole file. Load only fails on the
// flow set if every declared flow turns out invalid.
func Load(path string, log *zap.SugaredLogger) (*Config, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	if missing := missingMandatoryFields(raw); len(missing) > 0 {
		return nil, fmt.Errorf("config: the following keys are missing from %s: %v", path, missing)
	}

	cfg := Config{
		TimeStepSeconds:    DefaultTimeStepSeconds,
		StatLogFormat:      DefaultStatLogFormat,
		LimitStepBps:       DefaultLimitStepBps,
		InterfaceMaxRate:   DefaultInterfaceMaxRate,
		FlowstatWindowSize: DefaultFlowstatWindowSize,
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	cfg.Flows = validFlows(raw["flows"], log)
	if len(cfg.Flows) == 0 {
		return nil, fmt.Errorf("config: no valid flow definition found in %s", path)
	}
	if cfg.StatLogFormat != "human" && cfg.StatLogFormat != "csv" {
		return nil, fmt.Errorf("config: invalid stat_log_format %q, want \"human\" or \"csv\"", cfg.StatLogFormat)
	}

	return &cfg, nil
}

// validFlows validates each record under the "flows" key on its own,
// logging and skipping the ones that are malformed rather than failing
// the whole config, mirroring the original controller's per-flow
// try/except around FlowId.from_dict.
func validFlows(rawFlows any, log *zap.SugaredLogger) []FlowConfig {
	records, ok := rawFlows.([]any)
	if !ok {
		return nil
	}

	var flows []FlowConfig
	for i, rf := range records {
		rec, ok := rf.(map[string]any)
		if !ok {
			log.Errorw("invalid flow record: skipping", "index", i, "record", rf)
			continue
		}

		fid, err := flowid.FromRecord(rec)
		if err != nil {
			log.Errorw("invalid flow record: skipping", "index", i, "record", rec, "error", err)
			continue
		}

		baseRate, ok := asInt64(rec["base_ratelimit"])
		if !ok || baseRate <= 0 {
			log.Errorw("invalid flow record: skipping", "index", i, "flow", fid.String(),
				"base_ratelimit", rec["base_ratelimit"])
			continue
		}

		flows = append(flows, FlowConfig{IPv4Dst: fid.IPv4Dst, UDPDst: fid.UDPDst, BaseRatelimit: baseRate})
		log.Infow("flow configuration added", "flow", fid.String(), "base_ratelimit", baseRate)
	}
	return flows
}

// asInt64 accepts the handful of numeric shapes a YAML decoder might hand
// back for an integer field.
func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		return int64(n), true
	default:
		return 0, false
	}
}

func missingMandatoryFields(raw map[string]any) []string {
	var missing []string
	for _, field := range mandatoryFields {
		if _, ok := raw[field]; !ok {
			missing = append(missing, field)
		}
	}
	sort.Strings(missing)
	return missing
}
