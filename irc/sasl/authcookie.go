// Copyright (c) 2024 ergo-services contributors
// released under the MIT license

package sasl

import (
	"bytes"

	"github.com/ergochat/ergo-services/irc/jwt"
)

type authcookieMechanism struct {
	core Core
}

// NewAuthcookie returns the AUTHCOOKIE mechanism:
// `authzid NUL authcid NUL cookie`, where the cookie was issued to authcid.
func NewAuthcookie(core Core) Mechanism {
	return &authcookieMechanism{core: core}
}

func (mech *authcookieMechanism) Name() string {
	return "AUTHCOOKIE"
}

func (mech *authcookieMechanism) PasswordBased() bool {
	return false
}

func (mech *authcookieMechanism) Start(session *Session) ([]byte, Status) {
	return nil, StatusMore
}

func (mech *authcookieMechanism) Finish(session *Session) {}

func (mech *authcookieMechanism) Step(session *Session, input []byte) ([]byte, Status) {
	maxNameLen := mech.core.MaxNameLen()
	if len(input) > maxNameLen+1+maxNameLen+1+jwt.MaxCookieLength+1 {
		return nil, StatusError
	}
	// a trailing NUL is tolerated
	input = bytes.TrimSuffix(input, []byte{0})
	fields := bytes.Split(input, []byte{0})
	if len(fields) != 3 {
		return nil, StatusError
	}
	authzid, authcid, cookie := string(fields[0]), string(fields[1]), string(fields[2])
	if authzid == "" || len(authzid) > maxNameLen {
		return nil, StatusError
	}
	if authcid == "" || len(authcid) > maxNameLen {
		return nil, StatusError
	}
	if cookie == "" || len(cookie) > jwt.MaxCookieLength {
		return nil, StatusError
	}

	if mech.core.AuthzidCanLogin(session, authzid) == nil {
		return nil, StatusFail
	}
	account := mech.core.AuthcidCanLogin(session, authcid)
	if account == nil {
		return nil, StatusFail
	}
	if !mech.core.ValidateCookie(account, cookie) {
		return nil, StatusFail
	}
	return nil, StatusDone
}
