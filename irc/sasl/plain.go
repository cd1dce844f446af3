// Copyright (c) 2024 ergo-services contributors
// released under the MIT license

package sasl

import (
	"bytes"

	"github.com/ergochat/ergo-services/irc/passwd"
	"github.com/ergochat/ergo-services/irc/registry"
)

const (
	// longest password accepted in a PLAIN response
	MaxPasswordLength = 288
)

type plainMechanism struct {
	core Core
	name string
}

// NewPlain returns the PLAIN mechanism: `authzid NUL authcid NUL password`.
func NewPlain(core Core) Mechanism {
	return &plainMechanism{core: core, name: "PLAIN"}
}

func (mech *plainMechanism) Name() string {
	return mech.name
}

func (mech *plainMechanism) PasswordBased() bool {
	return true
}

func (mech *plainMechanism) Start(session *Session) ([]byte, Status) {
	return nil, StatusMore
}

func (mech *plainMechanism) Finish(session *Session) {}

func (mech *plainMechanism) Step(session *Session, input []byte) ([]byte, Status) {
	fields := bytes.Split(input, []byte{0})
	if len(fields) != 3 {
		return nil, StatusError
	}
	authzid, authcid, password := string(fields[0]), string(fields[1]), fields[2]
	maxNameLen := mech.core.MaxNameLen()
	if authcid == "" || len(authcid) > maxNameLen || len(authzid) > maxNameLen {
		return nil, StatusError
	}
	if len(password) == 0 || len(password) > MaxPasswordLength {
		return nil, StatusError
	}

	if authzid != "" && mech.core.AuthzidCanLogin(session, authzid) == nil {
		return nil, StatusFail
	}
	return nil, mech.checkPassword(session, authcid, string(password))
}

// checkPassword verifies the password of the named account and, on success,
// schedules a rehash of a credential whose format or parameters are out of date.
func (mech *plainMechanism) checkPassword(session *Session, authcid, password string) Status {
	log := mech.core.Logger()
	account := mech.core.AuthcidCanLogin(session, authcid)
	if account == nil {
		return StatusFail
	}
	if err := passwd.CheckPassphrase(account.Verifier, password); err != nil {
		if err == passwd.ErrHashCheckFailed || err == passwd.ErrEmptyPassword {
			log.Info("sasl", "Failed login to", account.Name(), "via", mech.name, "from", session.IP, "(bad password)")
		} else {
			log.Error("sasl", "Stored credential of", account.Name(), "is unusable:", err.Error())
		}
		return StatusFail
	}
	mech.rehash(session, account, password)
	return StatusDone
}

func (mech *plainMechanism) rehash(session *Session, account *registry.Account, password string) {
	params := mech.core.PasswordParams()
	if params.Validate() != nil || !params.NeedsRehash(account.Verifier) {
		return
	}
	verifier, err := params.Generate(password)
	if err != nil {
		mech.core.Logger().Error("sasl", "Could not rehash credential of", account.Name(), err.Error())
		return
	}
	mech.core.UpgradeCredential(session, account, verifier)
}
