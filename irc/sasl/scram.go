// Copyright (c) 2024 ergo-services contributors
// released under the MIT license

package sasl

import (
	"bytes"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/xdg-go/stringprep"

	"github.com/ergochat/ergo-services/irc/digest"
	"github.com/ergochat/ergo-services/irc/passwd"
	"github.com/ergochat/ergo-services/irc/registry"
	"github.com/ergochat/ergo-services/irc/utils"
)

// RFC 5802 and RFC 7677

const (
	ServerNonceLength    = 64
	MinClientNonceLength = 8
	MaxClientNonceLength = 1024
)

// error tokens, sent to the client as `e=<token>`
const (
	ScramOtherError             = "other-error"
	ScramChannelBinding         = "channel-binding-not-supported"
	ScramExtensionsNotSupported = "extensions-not-supported"
	ScramNonceLength            = "nonce-length-unacceptable"
	ScramAuthcidTooLong         = "authcid-too-long"
	ScramAuthzidTooLong         = "authzid-too-long"
	ScramInvalidUsername        = "invalid-username-encoding"
	ScramDigestMismatch         = "digest-algorithm-mismatch"
	ScramInvalidProof           = "invalid-proof"
)

type scramStage uint

const (
	scramAwaitClientFirst scramStage = iota
	scramAwaitClientFinal
	scramComplete
)

type scramState struct {
	stage    scramStage
	account  *registry.Account
	verifier *passwd.Verifier
	// verbatim transcript pieces
	gs2Header       []byte
	clientFirstBare []byte
	serverFirst     []byte
	nonce           []byte
}

func (s *scramState) wipe() {
	s.verifier.Wipe()
	utils.Wipe(s.gs2Header, s.clientFirstBare, s.serverFirst, s.nonce)
	*s = scramState{}
}

type scramMechanism struct {
	core Core
	alg  digest.Algorithm
}

// NewSCRAM returns the SCRAM mechanism for one digest algorithm; it only
// accepts accounts whose stored verifier uses the same digest.
func NewSCRAM(core Core, alg digest.Algorithm) Mechanism {
	return &scramMechanism{core: core, alg: alg}
}

func (mech *scramMechanism) Name() string {
	return mech.alg.MechanismName()
}

func (mech *scramMechanism) PasswordBased() bool {
	return true
}

func (mech *scramMechanism) Start(session *Session) ([]byte, Status) {
	session.state = &scramState{}
	return nil, StatusMore
}

func (mech *scramMechanism) Finish(session *Session) {
	if state, ok := session.state.(*scramState); ok {
		state.wipe()
	}
}

func scramError(token string) []byte {
	return []byte("e=" + token)
}

func (mech *scramMechanism) Step(session *Session, input []byte) (output []byte, status Status) {
	state, ok := session.state.(*scramState)
	if !ok {
		return scramError(ScramOtherError), StatusError
	}
	switch state.stage {
	case scramAwaitClientFirst:
		return mech.clientFirst(session, state, input)
	case scramAwaitClientFinal:
		return mech.clientFinal(session, state, input)
	default:
		return mech.success(session, state)
	}
}

// parseAttributes parses a SCRAM attribute list. Names are single ASCII
// letters, values are non-empty, and no name may repeat.
func parseAttributes(msg string) (attrs map[byte]string, ok bool) {
	attrs = make(map[byte]string)
	for _, attr := range strings.Split(msg, ",") {
		if len(attr) < 3 || attr[1] != '=' {
			return nil, false
		}
		name := attr[0]
		if !('A' <= name && name <= 'Z' || 'a' <= name && name <= 'z') {
			return nil, false
		}
		if _, dup := attrs[name]; dup {
			return nil, false
		}
		attrs[name] = attr[2:]
	}
	return attrs, true
}

// clientFinalInOrder checks for exactly c, r and p in that order; no
// extensions are supported in the final message.
func clientFinalInOrder(msg string) bool {
	fields := strings.Split(msg, ",")
	return len(fields) == 3 &&
		strings.HasPrefix(fields[0], "c=") &&
		strings.HasPrefix(fields[1], "r=") &&
		strings.HasPrefix(fields[2], "p=")
}

// prepUsername undoes the SCRAM escaping of ',' and '=' and applies SASLprep.
func prepUsername(name string) (string, bool) {
	var buf strings.Builder
	for i := 0; i < len(name); i++ {
		if name[i] != '=' {
			buf.WriteByte(name[i])
			continue
		}
		switch {
		case strings.HasPrefix(name[i:], "=2C"):
			buf.WriteByte(',')
		case strings.HasPrefix(name[i:], "=3D"):
			buf.WriteByte('=')
		default:
			return "", false
		}
		i += 2
	}
	result, err := stringprep.SASLprep.Prepare(buf.String())
	if err != nil || result == "" {
		return "", false
	}
	return result, true
}

func (mech *scramMechanism) clientFirst(session *Session, state *scramState, input []byte) ([]byte, Status) {
	log := mech.core.Logger()
	maxNameLen := mech.core.MaxNameLen()

	if len(input) == 0 || bytes.IndexByte(input, 0) != -1 {
		log.Debug("sasl", "SCRAM client-first message is empty or contains NUL")
		return scramError(ScramOtherError), StatusError
	}
	msg := string(input)

	// gs2-cbind-flag
	switch msg[0] {
	case 'y', 'n':
	case 'p':
		return scramError(ScramChannelBinding), StatusError
	default:
		return scramError(ScramOtherError), StatusError
	}
	if len(msg) < 2 || msg[1] != ',' {
		return scramError(ScramOtherError), StatusError
	}

	rest := msg[2:]
	if strings.HasPrefix(rest, "a=") {
		end := strings.IndexByte(rest, ',')
		if end <= len("a=") {
			return scramError(ScramOtherError), StatusError
		}
		authzid := rest[len("a="):end]
		if len(authzid) > maxNameLen {
			return scramError(ScramAuthzidTooLong), StatusError
		}
		authzid, ok := prepUsername(authzid)
		if !ok {
			return scramError(ScramInvalidUsername), StatusError
		}
		if mech.core.AuthzidCanLogin(session, authzid) == nil {
			return scramError(ScramOtherError), StatusFail
		}
		rest = rest[end+1:]
	} else if strings.HasPrefix(rest, ",") {
		rest = rest[1:]
	} else {
		return scramError(ScramOtherError), StatusError
	}
	gs2Header := msg[:len(msg)-len(rest)]
	clientFirstBare := rest

	attrs, ok := parseAttributes(clientFirstBare)
	if !ok {
		return scramError(ScramOtherError), StatusError
	}
	if _, present := attrs['m']; present {
		return scramError(ScramExtensionsNotSupported), StatusError
	}
	authcid, haveName := attrs['n']
	clientNonce, haveNonce := attrs['r']
	if !(haveName && haveNonce) {
		return scramError(ScramOtherError), StatusError
	}
	if len(clientNonce) < MinClientNonceLength || len(clientNonce) > MaxClientNonceLength {
		return scramError(ScramNonceLength), StatusError
	}
	if len(authcid) > maxNameLen {
		return scramError(ScramAuthcidTooLong), StatusError
	}
	authcid, ok = prepUsername(authcid)
	if !ok {
		return scramError(ScramInvalidUsername), StatusError
	}

	account := mech.core.AuthcidCanLogin(session, authcid)
	if account == nil {
		return scramError(ScramOtherError), StatusFail
	}
	if account.Verifier == "" || !passwd.IsPBKDF2v2(account.Verifier) {
		log.Debug("sasl", "Account", account.Name(), "has no PBKDF2v2 credential usable with", mech.Name())
		return scramError(ScramOtherError), StatusFail
	}
	verifier, err := passwd.Decode(account.Verifier)
	if err != nil {
		log.Error("sasl", "Stored credential of", account.Name(), "cannot be decoded:", err.Error())
		return scramError(ScramOtherError), StatusFail
	}
	if verifier.Digest != mech.alg {
		verifier.Wipe()
		log.Error("sasl", "Stored credential of", account.Name(), "uses", verifier.Digest.String(), "but", mech.Name(), "was requested")
		return scramError(ScramDigestMismatch), StatusFail
	}

	nonce := clientNonce + utils.GenerateNonce(ServerNonceLength)
	serverFirst := fmt.Sprintf("r=%s,s=%s,i=%d", nonce, base64.StdEncoding.EncodeToString(verifier.Salt), verifier.Iterations)
	if verifier.Iterations > passwd.CyrusIterationLimit {
		log.Debug("sasl", "Iteration count for", account.Name(), "exceeds what Cyrus SASL clients accept")
	}

	state.account = account
	state.verifier = verifier
	state.gs2Header = []byte(gs2Header)
	state.clientFirstBare = []byte(clientFirstBare)
	state.serverFirst = []byte(serverFirst)
	state.nonce = []byte(nonce)
	state.stage = scramAwaitClientFinal
	return []byte(serverFirst), StatusMore
}

func (mech *scramMechanism) clientFinal(session *Session, state *scramState, input []byte) ([]byte, Status) {
	log := mech.core.Logger()
	v := state.verifier

	if len(input) == 0 || bytes.IndexByte(input, 0) != -1 {
		return scramError(ScramOtherError), StatusError
	}
	msg := string(input)
	attrs, ok := parseAttributes(msg)
	if !ok {
		return scramError(ScramOtherError), StatusError
	}
	if _, present := attrs['m']; present {
		return scramError(ScramExtensionsNotSupported), StatusError
	}
	if !clientFinalInOrder(msg) {
		return scramError(ScramOtherError), StatusError
	}
	cbind, proof64, nonce := attrs['c'], attrs['p'], attrs['r']
	if subtle.ConstantTimeCompare([]byte(nonce), state.nonce) != 1 {
		log.Debug("sasl", "SCRAM nonce mismatch from", session.IP)
		return scramError(ScramOtherError), StatusError
	}
	gs2Header, err := base64.StdEncoding.DecodeString(cbind)
	if err != nil || !bytes.Equal(gs2Header, state.gs2Header) {
		return scramError(ScramOtherError), StatusError
	}
	clientProof, err := base64.StdEncoding.DecodeString(proof64)
	if err != nil || len(clientProof) != v.DigestLength {
		return scramError(ScramOtherError), StatusError
	}
	proofIndex := strings.LastIndex(msg, ",p=")
	if proofIndex == -1 {
		return scramError(ScramOtherError), StatusError
	}

	authMessage := make([]byte, 0, len(state.clientFirstBare)+len(state.serverFirst)+proofIndex+2)
	authMessage = append(authMessage, state.clientFirstBare...)
	authMessage = append(authMessage, ',')
	authMessage = append(authMessage, state.serverFirst...)
	authMessage = append(authMessage, ',')
	authMessage = append(authMessage, msg[:proofIndex]...)
	defer utils.Wipe(authMessage, clientProof)

	clientSignature, err := digest.OneshotHMAC(v.Digest, v.StoredKey, authMessage)
	if err != nil {
		return scramError(ScramOtherError), StatusError
	}
	defer utils.Wipe(clientSignature)
	// clientProof becomes ClientKey in place
	utils.XORInto(clientProof, clientSignature)
	storedKey, err := digest.Oneshot(v.Digest, clientProof)
	if err != nil {
		return scramError(ScramOtherError), StatusError
	}
	defer utils.Wipe(storedKey)

	if subtle.ConstantTimeCompare(storedKey, v.StoredKey) != 1 {
		log.Info("sasl", "Failed login to", state.account.Name(), "via", mech.Name(), "from", session.IP, "(invalid proof)")
		return scramError(ScramInvalidProof), StatusFail
	}

	serverSignature, err := digest.OneshotHMAC(v.Digest, v.ServerKey, authMessage)
	if err != nil {
		return scramError(ScramOtherError), StatusError
	}
	defer utils.Wipe(serverSignature)
	state.stage = scramComplete
	return []byte("v=" + base64.StdEncoding.EncodeToString(serverSignature)), StatusMore
}

// success runs once the client has seen the server signature. A verifier
// that still holds the raw PBKDF2 output is scheduled for replacement by its
// SCRAM form.
func (mech *scramMechanism) success(session *Session, state *scramState) ([]byte, Status) {
	if !state.verifier.IsSCRAM {
		upgraded, err := passwd.UpgradeToSCRAM(state.verifier)
		if err != nil {
			mech.core.Logger().Error("sasl", "Could not convert credential of", state.account.Name(), "to SCRAM format:", err.Error())
		} else {
			mech.core.UpgradeCredential(session, state.account, upgraded)
		}
	}
	return nil, StatusDone
}
