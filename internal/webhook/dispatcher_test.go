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
	"errors"
	"net/http"
	"os"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/slipwaylabs/slipway/internal/registry"
	"github.com/slipwaylabs/slipway/internal/runner"
)

var _ = Describe("Dispatcher", func() {
	var (
		ctx        context.Context
		minter     *fakeMinter
		notifier   *fakeNotifier
		action     *fakeRunner
		mailer     *fakeMailer
		store      *registry.FileStore
		dispatcher *Dispatcher
	)

	newEvent := func(act string) Event {
		return Event{
			DeliveryID:     "delivery-1",
			Action:         act,
			Branch:         "feat-x",
			PRNumber:       42,
			RepoFullName:   "acme/widgets",
			CloneURL:       "https://github.com/acme/widgets.git",
			InstallationID: 7,
			Owner:          "acme",
			Repo:           "widgets",
		}
	}

	stepNames := func(steps []runner.Step) []string {
		names := make([]string, 0, len(steps))
		for _, s := range steps {
			names = append(names, s.Name)
		}
		return names
	}

	BeforeEach(func() {
		ctx = context.Background()
		minter = &fakeMinter{}
		notifier = &fakeNotifier{}
		action = &fakeRunner{}
		mailer = &fakeMailer{result: true}

		var err error
		store, err = registry.NewFileStore(GinkgoT().TempDir(), zap.NewNop())
		Expect(err).NotTo(HaveOccurred())

		dispatcher = NewDispatcher(minter, notifier, action, store, mailer, GinkgoT().TempDir(), zap.NewNop())
	})

	Context("when a pull request is opened", func() {
		BeforeEach(func() {
			action.deployOutcome = successOutcome(map[string]string{
				"container_name": "container_feat-x_42_4821",
				"deployment_url": "http://203.0.113.9:4821",
				"port":           "4821",
			})
		})

		It("deploys, records the resource and reports the deployment URL", func() {
			status, message := dispatcher.Dispatch(ctx, newEvent("opened"))

			Expect(status).To(Equal(http.StatusOK))
			Expect(message).To(Equal("deployment processed"))

			By("minting exactly one credential for the event")
			Expect(minter.mintCalls()).To(Equal(1))

			By("running the deploy action with the event's key")
			deploys := action.deployCalls()
			Expect(deploys).To(HaveLen(1))
			Expect(deploys[0].branch).To(Equal("feat-x"))
			Expect(deploys[0].pr).To(Equal(42))
			Expect(deploys[0].cloneURL).To(Equal("https://github.com/acme/widgets.git"))

			By("posting the started comment before the outcome comment")
			posts := notifier.posted()
			Expect(posts).To(HaveLen(2))
			Expect(posts[0].message).To(Equal("Deployment started for this pull request."))
			Expect(posts[0].steps).To(BeEmpty())
			Expect(posts[1].message).To(Equal("Deployment successful. [Deployed application](http://203.0.113.9:4821)."))
			Expect(stepNames(posts[1].steps)).To(ContainElement("Record resource"))

			By("registering the deployed container")
			records, err := store.List(ctx, "feat-x", 42)
			Expect(err).NotTo(HaveOccurred())
			Expect(records).To(HaveLen(1))
			Expect(records[0].ContainerName).To(Equal("container_feat-x_42_4821"))
			Expect(records[0].Port).To(Equal(4821))
			Expect(records[0].Compose).To(BeFalse())
		})

		It("mails the deployment log and discards the sent artifact", func() {
			dispatcher.Dispatch(ctx, newEvent("opened"))

			sends := mailer.sent()
			Expect(sends).To(HaveLen(1))
			Expect(sends[0].subject).To(Equal("Deployment Log"))
			Expect(sends[0].body).To(Equal("Please find the attached deployment log."))

			_, err := os.Stat(sends[0].path)
			Expect(os.IsNotExist(err)).To(BeTrue(), "artifact should be removed after a successful send")
		})

		It("keeps the artifact on disk when the mail send fails", func() {
			mailer.result = false

			dispatcher.Dispatch(ctx, newEvent("opened"))

			sends := mailer.sent()
			Expect(sends).To(HaveLen(1))
			Expect(sends[0].path).To(BeAnExistingFile())
		})

		It("records compose deployments with the compose flag", func() {
			action.deployOutcome = successOutcome(map[string]string{
				"deployment_url": "http://203.0.113.9:4821",
				"port":           "4821",
				"compose":        "true",
			})

			status, _ := dispatcher.Dispatch(ctx, newEvent("reopened"))
			Expect(status).To(Equal(http.StatusOK))

			records, err := store.List(ctx, "feat-x", 42)
			Expect(err).NotTo(HaveOccurred())
			Expect(records).To(HaveLen(1))
			Expect(records[0].Compose).To(BeTrue())
		})

		It("reports failure when the action exits non-zero", func() {
			action.deployOutcome = failedActionOutcome("image build failed")

			status, message := dispatcher.Dispatch(ctx, newEvent("synchronize"))

			Expect(status).To(Equal(http.StatusInternalServerError))
			Expect(message).To(Equal("deployment failed"))

			posts := notifier.posted()
			Expect(posts).To(HaveLen(2))
			Expect(posts[1].message).To(Equal("Deployment failed. Please check the logs."))

			records, err := store.List(ctx, "feat-x", 42)
			Expect(err).NotTo(HaveOccurred())
			Expect(records).To(BeEmpty(), "a failed deploy must not be registered")
		})

		It("answers 500 and stays silent when the credential mint fails", func() {
			minter.err = errors.New("installation token: 401")

			status, message := dispatcher.Dispatch(ctx, newEvent("opened"))

			Expect(status).To(Equal(http.StatusInternalServerError))
			Expect(message).To(Equal("deployment failed"))
			Expect(notifier.posted()).To(BeEmpty())
			Expect(action.deployCalls()).To(BeEmpty())
		})
	})

	Context("when a pull request is closed", func() {
		seed := func(container string, compose bool, age time.Duration) registry.Resource {
			res := registry.Resource{
				Branch:        "feat-x",
				PRNumber:      42,
				ContainerName: container,
				Port:          4100,
				Compose:       compose,
				CreatedAt:     time.Now().UTC().Add(-age),
			}
			Expect(store.Record(ctx, res)).To(Succeed())
			return res
		}

		It("tears down every recorded resource and clears the registry", func() {
			seed("container_feat-x_42_4100", false, 2*time.Minute)
			seed("container_feat-x_42_4200", false, time.Minute)

			status, message := dispatcher.Dispatch(ctx, newEvent("closed"))

			Expect(status).To(Equal(http.StatusOK))
			Expect(message).To(Equal("cleanup processed"))

			By("tearing down oldest first")
			tearDowns := action.tearDownCalls()
			Expect(tearDowns).To(HaveLen(2))
			Expect(tearDowns[0].container).To(Equal("container_feat-x_42_4100"))
			Expect(tearDowns[1].container).To(Equal("container_feat-x_42_4200"))

			By("leaving no records behind")
			records, err := store.List(ctx, "feat-x", 42)
			Expect(err).NotTo(HaveOccurred())
			Expect(records).To(BeEmpty())

			By("discarding the branch workspace")
			Expect(action.discarded).To(ContainElement("feat-x"))

			By("posting the completion comment and mailing the cleanup log")
			posts := notifier.posted()
			Expect(posts).To(HaveLen(2))
			Expect(posts[0].message).To(Equal("Cleanup started for this pull request."))
			Expect(posts[1].message).To(Equal("Cleanup completed for this pull request."))
			sends := mailer.sent()
			Expect(sends).To(HaveLen(1))
			Expect(sends[0].subject).To(Equal("Cleanup Log"))
			Expect(sends[0].body).To(Equal("Please find the attached cleanup log."))
		})

		It("treats an empty registry as a successful no-op", func() {
			status, message := dispatcher.Dispatch(ctx, newEvent("closed"))

			Expect(status).To(Equal(http.StatusOK))
			Expect(message).To(Equal("cleanup processed"))
			Expect(action.tearDownCalls()).To(BeEmpty())

			posts := notifier.posted()
			Expect(posts).To(HaveLen(2))
			Expect(posts[1].message).To(Equal("Cleanup completed for this pull request."))
		})

		It("stays idempotent across redelivered closed events", func() {
			seed("container_feat-x_42_4100", false, time.Minute)

			status, _ := dispatcher.Dispatch(ctx, newEvent("closed"))
			Expect(status).To(Equal(http.StatusOK))

			status, message := dispatcher.Dispatch(ctx, newEvent("closed"))
			Expect(status).To(Equal(http.StatusOK))
			Expect(message).To(Equal("cleanup processed"))

			// Only the first delivery had anything to tear down.
			Expect(action.tearDownCalls()).To(HaveLen(1))
		})

		It("uses compose teardown for compose records", func() {
			seed("", true, time.Minute)

			status, _ := dispatcher.Dispatch(ctx, newEvent("closed"))

			Expect(status).To(Equal(http.StatusOK))
			Expect(action.composeDowns).To(Equal(1))
			Expect(action.tearDownCalls()).To(BeEmpty())
		})

		It("keeps records whose teardown failed and reports failure", func() {
			seed("container_feat-x_42_4100", false, 2*time.Minute)
			seed("container_feat-x_42_4200", false, time.Minute)
			action.tearDownOutcomes = map[string]*runner.Outcome{
				"container_feat-x_42_4100": failedActionOutcome("no such container"),
			}

			status, message := dispatcher.Dispatch(ctx, newEvent("closed"))

			Expect(status).To(Equal(http.StatusInternalServerError))
			Expect(message).To(Equal("cleanup failed"))

			By("removing only the records that tore down cleanly")
			records, err := store.List(ctx, "feat-x", 42)
			Expect(err).NotTo(HaveOccurred())
			Expect(records).To(HaveLen(1))
			Expect(records[0].ContainerName).To(Equal("container_feat-x_42_4100"))

			By("keeping the workspace for a retry")
			Expect(action.discarded).To(BeEmpty())

			posts := notifier.posted()
			Expect(posts[1].message).To(Equal("Cleanup failed. Please check the logs."))
		})
	})

	Context("when the action is not a lifecycle transition", func() {
		It("acknowledges without side effects", func() {
			status, message := dispatcher.Dispatch(ctx, newEvent("labeled"))

			Expect(status).To(Equal(http.StatusOK))
			Expect(message).To(Equal("no action taken"))
			Expect(minter.mintCalls()).To(BeZero())
			Expect(notifier.posted()).To(BeEmpty())
			Expect(action.deployCalls()).To(BeEmpty())
			Expect(action.tearDownCalls()).To(BeEmpty())
		})
	})
})
