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

package webhook

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/slipwaylabs/slipway/internal/githubapp"
	"github.com/slipwaylabs/slipway/internal/notify"
	"github.com/slipwaylabs/slipway/internal/registry"
	"github.com/slipwaylabs/slipway/internal/runner"
)

// Pull request actions that trigger a deploy or cleanup.
const (
	actionOpened      = "opened"
	actionSynchronize = "synchronize"
	actionReopened    = "reopened"
	actionClosed      = "closed"
)

// User-facing notification wording.
const (
	msgDeployStarted  = "Deployment started for this pull request."
	msgDeployFailed   = "Deployment failed. Please check the logs."
	msgCleanupStarted = "Cleanup started for this pull request."
	msgCleanupDone    = "Cleanup completed for this pull request."
	msgCleanupFailed  = "Cleanup failed. Please check the logs."
)

// Minter supplies per-event installation credentials.
type Minter interface {
	Mint(ctx context.Context, installationID int64) (*githubapp.Credential, error)
}

// Notifier posts progress comments back to the originating PR thread.
type Notifier interface {
	Post(ctx context.Context, cred *githubapp.Credential, target notify.Target, message string, steps []runner.Step)
}

// ActionRunner drives the external deploy/cleanup actions.
type ActionRunner interface {
	Deploy(ctx context.Context, branch string, pr int, cloneURL string, rl *runner.RunLog) *runner.Outcome
	TearDown(ctx context.Context, branch string, pr int, containerName string, rl *runner.RunLog) *runner.Outcome
	ComposeDown(ctx context.Context, branch string, pr int, rl *runner.RunLog) *runner.Outcome
	DiscardWorkspace(branch string) error
}

// MailSender ships the run log out of band.
type MailSender interface {
	Send(ctx context.Context, subject, body, artifactPath string) bool
}

// Dispatcher sequences one event through credential mint, notification,
// action execution, registry reconciliation and log shipping.
type Dispatcher struct {
	minter   Minter
	notifier Notifier
	runner   ActionRunner
	store    registry.Store
	mailer   MailSender
	logDir   string
	log      *zap.Logger
}

// NewDispatcher wires the dispatcher's collaborators. mailer may be nil
// when the mail channel is not configured.
func NewDispatcher(minter Minter, notifier Notifier, actionRunner ActionRunner, store registry.Store, mailer MailSender, logDir string, log *zap.Logger) *Dispatcher {
	return &Dispatcher{
		minter:   minter,
		notifier: notifier,
		runner:   actionRunner,
		store:    store,
		mailer:   mailer,
		logDir:   logDir,
		log:      log,
	}
}

// Dispatch routes a validated event and returns the HTTP status and
// response message for the delivery. Unrecognized actions are deliberate
// no-ops. The hosting platform's webhook redelivery is the only retry
// mechanism: a failed event is answered with 500 and not retried here.
func (d *Dispatcher) Dispatch(ctx context.Context, ev Event) (int, string) {
	switch ev.Action {
	case actionOpened, actionSynchronize, actionReopened:
		return d.deploy(ctx, ev)
	case actionClosed:
		return d.cleanup(ctx, ev)
	default:
		d.log.Info("ignoring pull request action",
			zap.String("delivery_id", ev.DeliveryID),
			zap.String("action", ev.Action))
		return http.StatusOK, "no action taken"
	}
}

func (d *Dispatcher) deploy(ctx context.Context, ev Event) (int, string) {
	log := d.eventLogger(ev)
	log.Info("deploy requested")

	cred, err := d.minter.Mint(ctx, ev.InstallationID)
	if err != nil {
		// No credential means no way to notify the thread.
		log.Error("credential mint failed", zap.Error(err))
		return http.StatusInternalServerError, "deployment failed"
	}

	target := notify.Target{Owner: ev.Owner, Repo: ev.Repo, PRNumber: ev.PRNumber}
	d.notifier.Post(ctx, cred, target, msgDeployStarted, nil)

	rl := runner.NewRunLog(ev.Branch, ev.PRNumber)
	out := d.runner.Deploy(ctx, ev.Branch, ev.PRNumber, ev.CloneURL, rl)

	succeeded := out.Succeeded
	if succeeded {
		res := registry.Resource{
			Branch:        ev.Branch,
			PRNumber:      ev.PRNumber,
			ContainerName: out.ContainerName(),
			Port:          out.Port(),
			Compose:       out.IsCompose(),
			CreatedAt:     time.Now().UTC(),
		}
		if err := d.store.Record(ctx, res); err != nil {
			log.Error("recording deployed resource failed", zap.Error(err))
			rl.Add("Record resource", false, err.Error())
			succeeded = false
		} else {
			rl.Add("Record resource", true, "Resource recorded in the registry.")
		}
	}

	message := msgDeployFailed
	if succeeded {
		message = fmt.Sprintf("Deployment successful. [Deployed application](%s).", out.DeploymentURL())
	}
	d.notifier.Post(ctx, cred, target, message, rl.Steps())

	d.shipLog(ctx, rl, "deployment", "Deployment Log", log)

	if !succeeded {
		return http.StatusInternalServerError, "deployment failed"
	}
	log.Info("deploy processed", zap.String("url", out.DeploymentURL()))
	return http.StatusOK, "deployment processed"
}

func (d *Dispatcher) cleanup(ctx context.Context, ev Event) (int, string) {
	log := d.eventLogger(ev)
	log.Info("cleanup requested")

	cred, err := d.minter.Mint(ctx, ev.InstallationID)
	if err != nil {
		log.Error("credential mint failed", zap.Error(err))
		return http.StatusInternalServerError, "cleanup failed"
	}

	target := notify.Target{Owner: ev.Owner, Repo: ev.Repo, PRNumber: ev.PRNumber}
	d.notifier.Post(ctx, cred, target, msgCleanupStarted, nil)

	rl := runner.NewRunLog(ev.Branch, ev.PRNumber)
	succeeded := true

	records, err := d.store.List(ctx, ev.Branch, ev.PRNumber)
	if err != nil {
		log.Error("listing registry records failed", zap.Error(err))
		rl.Add("Enumerate resources", false, err.Error())
		succeeded = false
	} else if len(records) == 0 {
		// Closed may fire more than once; a key with nothing deployed
		// is a successful no-op, not an error.
		rl.Add("Enumerate resources", true, "No live resources recorded for this pull request.")
	} else {
		rl.Add("Enumerate resources", true, fmt.Sprintf("Found %d recorded resource(s).", len(records)))
		for _, rec := range records {
			var out *runner.Outcome
			if rec.Compose {
				out = d.runner.ComposeDown(ctx, ev.Branch, ev.PRNumber, rl)
			} else {
				out = d.runner.TearDown(ctx, ev.Branch, ev.PRNumber, rec.ContainerName, rl)
			}
			if !out.Succeeded {
				// Keep going: one already-gone container must not stop
				// teardown of the remaining records.
				succeeded = false
				continue
			}
			if err := d.store.Remove(ctx, rec); err != nil {
				log.Error("removing registry record failed", zap.Error(err))
				rl.Add("Remove record", false, err.Error())
				succeeded = false
			}
		}
	}

	if succeeded {
		if err := d.runner.DiscardWorkspace(ev.Branch); err != nil {
			log.Warn("workspace discard failed", zap.Error(err))
		}
	}

	message := msgCleanupFailed
	if succeeded {
		message = msgCleanupDone
	}
	d.notifier.Post(ctx, cred, target, message, rl.Steps())

	d.shipLog(ctx, rl, "cleanup", "Cleanup Log", log)

	if !succeeded {
		return http.StatusInternalServerError, "cleanup failed"
	}
	log.Info("cleanup processed")
	return http.StatusOK, "cleanup processed"
}

// shipLog writes the run log artifact and mails it. The artifact is
// discarded after a successful send; leftovers are pruned by the sweeper.
func (d *Dispatcher) shipLog(ctx context.Context, rl *runner.RunLog, kind, subject string, log *zap.Logger) {
	path, err := rl.WriteArtifact(d.logDir, kind)
	if err != nil {
		log.Error("writing run log artifact failed", zap.Error(err))
		return
	}
	if d.mailer == nil {
		return
	}
	body := fmt.Sprintf("Please find the attached %s log.", kind)
	if !d.mailer.Send(ctx, subject, body, path) {
		log.Warn("run log mail not delivered", zap.String("artifact", path))
		return
	}
	if err := os.Remove(path); err != nil {
		log.Warn("could not discard sent artifact", zap.Error(err))
	}
}

func (d *Dispatcher) eventLogger(ev Event) *zap.Logger {
	return d.log.With(
		zap.String("delivery_id", ev.DeliveryID),
		zap.String("repo", ev.RepoFullName),
		zap.String("branch", ev.Branch),
		zap.Int("pr", ev.PRNumber),
	)
}
