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
	"bytes"
	"context"
	"fmt"
	"math/rand"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// portProbeAttempts bounds how many candidate ports are tried before a
// deploy gives up. Collisions with concurrently-deployed branches are
// expected and tolerated by re-probing, not by failing on first clash.
const portProbeAttempts = 50

// Runner executes the external deploy and cleanup actions.
type Runner struct {
	deployCmd     string
	cleanupCmd    string
	workspaceRoot string
	portMin       int
	portMax       int
	log           *zap.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates a Runner and ensures the workspace root exists. Relative
// action commands are resolved against the process working directory at
// construction time.
func New(deployCmd, cleanupCmd, workspaceRoot string, portMin, portMax int, log *zap.Logger) (*Runner, error) {
	if workspaceRoot == "" {
		return nil, fmt.Errorf("workspace root cannot be empty")
	}
	if err := os.MkdirAll(workspaceRoot, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace root: %w", err)
	}
	deployCmd, err := resolveCommand(deployCmd)
	if err != nil {
		return nil, err
	}
	cleanupCmd, err = resolveCommand(cleanupCmd)
	if err != nil {
		return nil, err
	}
	return &Runner{
		deployCmd:     deployCmd,
		cleanupCmd:    cleanupCmd,
		workspaceRoot: workspaceRoot,
		portMin:       portMin,
		portMax:       portMax,
		log:           log,
		locks:         map[string]*sync.Mutex{},
	}, nil
}

// Deploy replaces the branch workspace, selects a free port and invokes
// the deploy action. Action failure is reported in the Outcome, never as
// a panic or error that aborts event processing.
func (r *Runner) Deploy(ctx context.Context, branch string, pr int, cloneURL string, rl *RunLog) *Outcome {
	lock := r.branchLock(branch)
	lock.Lock()
	defer lock.Unlock()

	dir := r.workspaceDir(branch)
	if err := r.prepareWorkspace(dir); err != nil {
		rl.Add("Prepare workspace", false, err.Error())
		return failedOutcome(err)
	}
	rl.Add("Prepare workspace", true, fmt.Sprintf("Workspace %s replaced.", dir))

	port, err := r.pickPort()
	if err != nil {
		rl.Add("Select port", false, err.Error())
		return failedOutcome(err)
	}
	rl.Add("Select port", true, fmt.Sprintf("Selected host port %d.", port))

	env := []string{
		"SLIPWAY_WORKSPACE=" + dir,
		"SLIPWAY_BRANCH=" + branch,
		"SLIPWAY_PR=" + strconv.Itoa(pr),
		"SLIPWAY_PORT=" + strconv.Itoa(port),
	}
	out := r.runAction(ctx, r.deployCmd, []string{branch, strconv.Itoa(pr), cloneURL}, dir, env, rl)
	if out.Succeeded {
		rl.Add("Run deploy action", true, fmt.Sprintf("Container %s running at %s.", out.ContainerName(), out.DeploymentURL()))
	} else {
		rl.Add("Run deploy action", false, out.Stderr)
	}
	return out
}

// TearDown invokes the cleanup action for one recorded container.
func (r *Runner) TearDown(ctx context.Context, branch string, pr int, containerName string, rl *RunLog) *Outcome {
	lock := r.branchLock(branch)
	lock.Lock()
	defer lock.Unlock()

	env := []string{
		"SLIPWAY_BRANCH=" + branch,
		"SLIPWAY_PR=" + strconv.Itoa(pr),
		"SLIPWAY_CONTAINER=" + containerName,
	}
	out := r.runAction(ctx, r.cleanupCmd, []string{branch, strconv.Itoa(pr), containerName}, r.workspaceRoot, env, rl)
	if out.Succeeded {
		rl.Add("Tear down container", true, fmt.Sprintf("Container %s removed.", containerName))
	} else {
		rl.Add("Tear down container", false, out.Stderr)
	}
	return out
}

// ComposeDown invokes the cleanup action against the branch's compose
// stack as a unit.
func (r *Runner) ComposeDown(ctx context.Context, branch string, pr int, rl *RunLog) *Outcome {
	lock := r.branchLock(branch)
	lock.Lock()
	defer lock.Unlock()

	dir := r.workspaceDir(branch)
	env := []string{
		"SLIPWAY_WORKSPACE=" + dir,
		"SLIPWAY_BRANCH=" + branch,
		"SLIPWAY_PR=" + strconv.Itoa(pr),
		"SLIPWAY_COMPOSE=true",
	}
	out := r.runAction(ctx, r.cleanupCmd, []string{branch, strconv.Itoa(pr), "--compose"}, r.workspaceRoot, env, rl)
	if out.Succeeded {
		rl.Add("Tear down compose stack", true, "Compose stack removed.")
	} else {
		rl.Add("Tear down compose stack", false, out.Stderr)
	}
	return out
}

// DiscardWorkspace removes the branch checkout after a cleanup.
func (r *Runner) DiscardWorkspace(branch string) error {
	lock := r.branchLock(branch)
	lock.Lock()
	defer lock.Unlock()

	dir := r.workspaceDir(branch)
	rel, err := filepath.Rel(r.workspaceRoot, dir)
	if err != nil || rel == "." || rel == "" {
		return fmt.Errorf("refusing to discard path outside workspace root")
	}
	return os.RemoveAll(dir)
}

func (r *Runner) runAction(ctx context.Context, command string, args []string, dir string, env []string, rl *RunLog) *Outcome {
	cmd := exec.CommandContext(ctx, command, args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), env...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	out := &Outcome{
		Succeeded: err == nil,
		Stdout:    stdout.String(),
		Stderr:    stderr.String(),
		Fields:    parseFields(stdout.String()),
	}
	if err != nil && out.Stderr == "" {
		out.Stderr = err.Error()
	}

	rl.Append(out.Stdout)
	rl.Append(out.Stderr)

	r.log.Info("external action finished",
		zap.String("command", command),
		zap.Strings("args", args),
		zap.Bool("succeeded", out.Succeeded))
	return out
}

// prepareWorkspace discards any previous checkout for the branch so a
// repeated deploy fully replaces prior state.
func (r *Runner) prepareWorkspace(dir string) error {
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("discard previous workspace: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create workspace: %w", err)
	}
	return nil
}

// pickPort probes for a free TCP port in the configured range.
func (r *Runner) pickPort() (int, error) {
	span := r.portMax - r.portMin + 1
	for attempt := 0; attempt < portProbeAttempts; attempt++ {
		port := r.portMin + rand.Intn(span)
		l, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
		if err != nil {
			continue
		}
		l.Close()
		return port, nil
	}
	return 0, fmt.Errorf("no free port found in range %d-%d after %d attempts", r.portMin, r.portMax, portProbeAttempts)
}

func (r *Runner) workspaceDir(branch string) string {
	return filepath.Join(r.workspaceRoot, safeBranchToken(branch))
}

// branchLock returns the mutex guarding the branch's workspace. Deploy
// and cleanup for the same branch must not overlap in-process.
func (r *Runner) branchLock(branch string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := safeBranchToken(branch)
	lock, ok := r.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		r.locks[key] = lock
	}
	return lock
}

// resolveCommand makes path-qualified commands absolute so they still
// execute once the child process's working directory points at a branch
// workspace. Bare names keep resolving through PATH.
func resolveCommand(command string) (string, error) {
	if filepath.IsAbs(command) || !strings.ContainsRune(command, os.PathSeparator) {
		return command, nil
	}
	abs, err := filepath.Abs(command)
	if err != nil {
		return "", fmt.Errorf("resolve action command %q: %w", command, err)
	}
	return abs, nil
}

func failedOutcome(err error) *Outcome {
	return &Outcome{
		Succeeded: false,
		Stderr:    err.Error(),
		Fields:    map[string]string{},
	}
}
