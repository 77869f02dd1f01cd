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

package maillog

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/wneessen/go-mail"
	"go.uber.org/zap"
)

// sendFunc performs one SMTP submission attempt. Tests inject a fake to
// exercise the retry policy without a mail server.
type sendFunc func(ctx context.Context, subject, body, filename string, attachment []byte) error

// Dispatcher mails run log artifacts with bounded retry.
type Dispatcher struct {
	host      string
	port      int
	username  string
	password  string
	recipient string

	attempts uint64
	delay    time.Duration

	log  *zap.Logger
	send sendFunc
}

// New returns a Dispatcher submitting through the given SMTP endpoint.
// attempts is the total number of tries (not retries) per send; values
// below 1 are treated as 1.
func New(host string, port int, username, password, recipient string, attempts int, delay time.Duration, log *zap.Logger) *Dispatcher {
	if attempts < 1 {
		attempts = 1
	}
	d := &Dispatcher{
		host:      host,
		port:      port,
		username:  username,
		password:  password,
		recipient: recipient,
		attempts:  uint64(attempts),
		delay:     delay,
		log:       log,
	}
	d.send = d.smtpSend
	return d
}

// Send mails the artifact at artifactPath as an attachment. It returns
// false when the attachment cannot be read or every attempt fails;
// neither case is fatal to the event that produced the log.
func (d *Dispatcher) Send(ctx context.Context, subject, body, artifactPath string) bool {
	attachment, err := os.ReadFile(artifactPath)
	if err != nil {
		d.log.Error("log artifact unreadable, not sending",
			zap.String("path", artifactPath), zap.Error(err))
		return false
	}
	filename := filepath.Base(artifactPath)

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(d.delay), d.attempts-1),
		ctx,
	)
	err = backoff.Retry(func() error {
		return d.send(ctx, subject, body, filename, attachment)
	}, policy)
	if err != nil {
		d.log.Error("log mail failed after retries",
			zap.String("subject", subject),
			zap.Uint64("attempts", d.attempts),
			zap.Error(err))
		return false
	}

	d.log.Info("log mail sent", zap.String("subject", subject), zap.String("attachment", filename))
	return true
}

// smtpSend performs one STARTTLS submission with the attachment.
func (d *Dispatcher) smtpSend(ctx context.Context, subject, body, filename string, attachment []byte) error {
	msg := mail.NewMsg()
	if err := msg.From(d.username); err != nil {
		return err
	}
	if err := msg.To(d.recipient); err != nil {
		return err
	}
	msg.Subject(subject)
	msg.SetBodyString(mail.TypeTextPlain, body)
	if err := msg.AttachReader(filename, bytes.NewReader(attachment)); err != nil {
		return err
	}

	client, err := mail.NewClient(d.host,
		mail.WithPort(d.port),
		mail.WithSMTPAuth(mail.SMTPAuthPlain),
		mail.WithUsername(d.username),
		mail.WithPassword(d.password),
		mail.WithTLSPolicy(mail.TLSMandatory),
	)
	if err != nil {
		return err
	}
	return client.DialAndSendWithContext(ctx, msg)
}
