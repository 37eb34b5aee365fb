/*
LICENSE
  Copyright (C) 2025 Danyela June Brown

  This is free software: you can redistribute it and/or modify it
  under the terms of the GNU General Public License as published by
  the Free Software Foundation, either version 3 of the License, or
  (at your option) any later version.

  It is distributed in the hope that it will be useful,
  but WITHOUT ANY WARRANTY; without even the implied warranty of
  MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
  GNU General Public License for more details.

  You should have received a copy of the GNU General Public License
  in gpl.txt. If not, see http://www.gnu.org/licenses/.
*/

// Package notify provides ops email notifications via the MailJet API,
// with optional filtering and time-based deduplication so that a flapping
// condition does not flood the recipient.
package notify

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"

	mailjet "github.com/mailjet/mailjet-apiv3-go"
)

// Kind classifies a notification so that recipients can filter, and so
// that deduplication is per condition rather than global.
type Kind string

// Notifier sends email notifications using the MailJet API.
type Notifier struct {
	mutex      sync.Mutex // Lock access.
	sender     string     // Sender email address.
	recipient  string     // Recipient email address.
	store      TimeStore  // Notification store (optional).
	filters    []string   // Message filters (optional).
	publicKey  string     // Public key for accessing MailJet API.
	privateKey string     // Private key for accessing MailJet API.
}

// NewMailjetNotifier returns a Notifier initialized with the supplied
// options. See WithSender, WithRecipient, WithFilter, WithStore and
// WithSecrets for a description of the various options. Secrets are
// required to send actual emails, but can be omitted during testing.
func NewMailjetNotifier(options ...Option) (*Notifier, error) {
	n := &Notifier{}
	for i, opt := range options {
		err := opt(n)
		if err != nil {
			return nil, fmt.Errorf("could not apply option # %d, %v", i, err)
		}
	}
	return n, nil
}

// Send sends an email message, depending on what options are present.
// With filters, all filters must match in order to send. With a store, the
// message is sent only if one of the same kind was not sent recently.
func (n *Notifier) Send(ctx context.Context, kind Kind, msg string) error {
	n.mutex.Lock()
	defer n.mutex.Unlock()

	for _, f := range n.filters {
		if !strings.Contains(msg, f) {
			log.Printf("filter '%s' applied: not sending %s message to %s", f, kind, n.recipient)
			return nil
		}
	}

	key := string(kind) + "." + n.recipient
	if n.store != nil {
		sendable, err := n.store.Sendable(ctx, key)
		if err != nil {
			log.Printf("store.Sendable returned error: %v", err)
		}
		if !sendable {
			log.Printf("too soon to send %s a %s message", n.recipient, kind)
			return nil
		}
	}

	log.Printf("sending %s a %s message", n.recipient, kind)

	if n.publicKey != "" && n.privateKey != "" {
		clt := mailjet.NewMailjetClient(n.publicKey, n.privateKey)
		info := []mailjet.InfoMessagesV31{{
			From:     &mailjet.RecipientV31{Email: n.sender},
			To:       &mailjet.RecipientsV31{mailjet.RecipientV31{Email: n.recipient}},
			Subject:  strings.Title(string(kind)) + " notification",
			TextPart: msg,
		}}

		msgs := mailjet.MessagesV31{Info: info}
		_, err := clt.SendMailV31(&msgs)
		if err != nil {
			return fmt.Errorf("could not send mail: %w", err)
		}
	}

	if n.store != nil {
		err := n.store.Sent(ctx, key)
		if err != nil {
			log.Printf("store.Sent returned error: %v", err)
		}
	}

	return nil
}
