// Copyright 2025 The Slipway Authors
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

package runner

import (
	"bufio"
	"strconv"
	"strings"
)

// Protocol keys emitted by the external actions.
const (
	fieldContainerName = "container_name"
	fieldDeploymentURL = "deployment_url"
	fieldPort          = "port"
	fieldCompose       = "compose"

	servicePortPrefix = "service."
	servicePortSuffix = ".port"
)

// Outcome is the result of one external action invocation. It exists
// only for the duration of a single event's processing.
type Outcome struct {
	Succeeded bool
	Stdout    string
	Stderr    string

	// Fields holds the key=value pairs parsed from stdout.
	Fields map[string]string
}

// ContainerName returns the reported container name, if any.
func (o *Outcome) ContainerName() string {
	return o.Fields[fieldContainerName]
}

// DeploymentURL returns the reported deployment URL, if any.
func (o *Outcome) DeploymentURL() string {
	return o.Fields[fieldDeploymentURL]
}

// Port returns the reported host port, or 0 when absent or unparsable.
func (o *Outcome) Port() int {
	port, err := strconv.Atoi(o.Fields[fieldPort])
	if err != nil {
		return 0
	}
	return port
}

// IsCompose reports whether the action brought up a multi-service stack.
func (o *Outcome) IsCompose() bool {
	return o.Fields[fieldCompose] == "true"
}

// ServicePorts returns per-service ports for compose stacks, keyed by
// service name.
func (o *Outcome) ServicePorts() map[string]int {
	ports := map[string]int{}
	for key, value := range o.Fields {
		if !strings.HasPrefix(key, servicePortPrefix) || !strings.HasSuffix(key, servicePortSuffix) {
			continue
		}
		name := strings.TrimSuffix(strings.TrimPrefix(key, servicePortPrefix), servicePortSuffix)
		if name == "" {
			continue
		}
		if port, err := strconv.Atoi(value); err == nil {
			ports[name] = port
		}
	}
	return ports
}

// parseFields extracts protocol key=value pairs from action stdout.
// Lines that are not well-formed protocol lines are ignored; the raw
// output is preserved elsewhere for the run log.
func parseFields(stdout string) map[string]string {
	fields := map[string]string{}
	scanner := bufio.NewScanner(strings.NewReader(stdout))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		key, value, found := strings.Cut(line, "=")
		if !found || key == "" || value == "" {
			continue
		}
		if !validFieldKey(key) {
			continue
		}
		fields[key] = value
	}
	return fields
}

func validFieldKey(key string) bool {
	for _, r := range key {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= '0' && r <= '9':
		case r == '_' || r == '.' || r == '-':
		default:
			return false
		}
	}
	return true
}
