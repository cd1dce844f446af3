// Copyright (c) 2024 ergo-services contributors
// released under the MIT license

package sasl

import (
	"bytes"
)

type externalMechanism struct {
	core Core
}

// NewExternal returns the EXTERNAL mechanism, which authenticates the
// connection by the fingerprint of its TLS client certificate. The response
// is an optional authzid.
func NewExternal(core Core) Mechanism {
	return &externalMechanism{core: core}
}

func (mech *externalMechanism) Name() string {
	return "EXTERNAL"
}

func (mech *externalMechanism) PasswordBased() bool {
	return false
}

func (mech *externalMechanism) Start(session *Session) ([]byte, Status) {
	return nil, StatusMore
}

func (mech *externalMechanism) Finish(session *Session) {}

func (mech *externalMechanism) Step(session *Session, input []byte) ([]byte, Status) {
	if session.Certfp == "" {
		mech.core.Logger().Debug("sasl", "EXTERNAL requested without a client certificate from", session.IP)
		return nil, StatusError
	}
	if bytes.IndexByte(input, 0) != -1 || len(input) > mech.core.MaxNameLen() {
		return nil, StatusError
	}

	account := mech.core.AccountByCertfp(session.Certfp)
	if account == nil {
		return nil, StatusFail
	}
	if mech.core.AuthcidCanLogin(session, account.Name()) == nil {
		return nil, StatusFail
	}
	if len(input) != 0 && mech.core.AuthzidCanLogin(session, string(input)) == nil {
		return nil, StatusFail
	}
	return nil, StatusDone
}
