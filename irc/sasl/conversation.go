// Copyright (c) 2024 ergo-services contributors
// released under the MIT license

package sasl

import (
	"github.com/ergochat/irc-go/ircutils"

	"github.com/ergochat/ergo-services/irc/utils"
)

const (
	DefaultMaxResponseSize = 8192
)

// Outcome is what the transport should report after an AUTHENTICATE line.
type Outcome uint

const (
	// OutcomeContinue: send the AUTHENTICATE lines and wait for more
	OutcomeContinue Outcome = iota
	// OutcomeSuccess: RPL_SASLSUCCESS
	OutcomeSuccess
	// OutcomeFailure: ERR_SASLFAIL
	OutcomeFailure
	// OutcomeTooLong: ERR_SASLTOOLONG
	OutcomeTooLong
	// OutcomeAborted: ERR_SASLABORTED
	OutcomeAborted
)

// Reply is the transport's response to one AUTHENTICATE line.
type Reply struct {
	// Authenticate holds the parameters of the AUTHENTICATE lines to send
	Authenticate []string
	Outcome      Outcome
	Status       Status
}

// Conversation drives a Session from the parameters of successive
// AUTHENTICATE commands, reassembling 400-byte chunks and encoding
// challenges the same way.
type Conversation struct {
	manager *Manager
	session *Session
	buffer  ircutils.SASLBuffer
}

func (m *Manager) NewConversation(session *Session) *Conversation {
	maxSize := m.config.MaxResponseSize
	if maxSize == 0 {
		maxSize = DefaultMaxResponseSize
	}
	c := &Conversation{manager: m, session: session}
	c.buffer.Initialize(maxSize)
	return c
}

func (c *Conversation) Session() *Session {
	return c.session
}

// Abort abandons the exchange, for example when the client disconnects.
func (c *Conversation) Abort() {
	c.buffer.Clear()
	c.manager.Abort(c.session)
}

// Authenticate processes the parameter of one AUTHENTICATE command.
func (c *Conversation) Authenticate(param string) Reply {
	if param == "*" {
		c.Abort()
		return Reply{Outcome: OutcomeAborted}
	}

	if !c.session.InProgress() {
		output, status := c.manager.Start(c.session, param)
		return c.reply(output, status)
	}

	done, input, err := c.buffer.Add(param)
	if err != nil {
		c.manager.Abort(c.session)
		if err == ircutils.ErrSASLTooLong || err == ircutils.ErrSASLLimitExceeded {
			return Reply{Outcome: OutcomeTooLong, Status: StatusError}
		}
		return Reply{Outcome: OutcomeFailure, Status: StatusError}
	}
	if !done {
		return Reply{Outcome: OutcomeContinue, Status: StatusMore}
	}
	// responses may carry passwords
	defer utils.Wipe(input)
	output, status := c.manager.Step(c.session, input)
	return c.reply(output, status)
}

func (c *Conversation) reply(output []byte, status Status) (result Reply) {
	result.Status = status
	switch status {
	case StatusMore:
		result.Outcome = OutcomeContinue
		result.Authenticate = ircutils.EncodeSASLResponse(output)
		return
	case StatusDone:
		result.Outcome = OutcomeSuccess
	default:
		result.Outcome = OutcomeFailure
	}
	// additional data with the outcome, such as a SCRAM error token
	if len(output) != 0 {
		result.Authenticate = ircutils.EncodeSASLResponse(output)
	}
	return
}
