// Copyright (c) 2024 ergo-services contributors
// released under the MIT license

// Package sasl implements the services side of SASL authentication: the
// mechanism framework, the SCRAM-SHA family, PLAIN, EXTERNAL and AUTHCOOKIE,
// and the framing of AUTHENTICATE exchanges.
package sasl

import (
	"fmt"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/ergochat/ergo-services/irc/digest"
	"github.com/ergochat/ergo-services/irc/jwt"
	"github.com/ergochat/ergo-services/irc/logger"
	"github.com/ergochat/ergo-services/irc/passwd"
	"github.com/ergochat/ergo-services/irc/registry"
)

// Status is the result of a mechanism step.
type Status uint

const (
	// StatusMore: the exchange continues with the output as the next challenge
	StatusMore Status = iota
	// StatusDone: the client is authenticated
	StatusDone
	// StatusFail: the client supplied wrong or unusable credentials
	StatusFail
	// StatusError: the exchange was malformed
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusMore:
		return "more"
	case StatusDone:
		return "done"
	case StatusFail:
		return "fail"
	case StatusError:
		return "error"
	default:
		return fmt.Sprintf("Status(%d)", uint(s))
	}
}

// Mechanism is a SASL mechanism provider. Per-session state lives in the
// Session, never in the Mechanism.
type Mechanism interface {
	Name() string
	// PasswordBased mechanisms are subject to login throttling and are
	// refused for accounts without a password.
	PasswordBased() bool
	// Start may return an initial challenge; nil means an empty one.
	Start(session *Session) (output []byte, status Status)
	Step(session *Session, input []byte) (output []byte, status Status)
	// Finish releases and wipes the mechanism state of the session.
	Finish(session *Session)
}

// Session is the SASL state of one client connection.
type Session struct {
	// ID identifies the connection
	ID     string
	IP     string
	Certfp string

	Started time.Time
	// Account is set once an exchange succeeds
	Account *registry.Account

	mechanism Mechanism
	state     any
	authcid   *registry.Account
	authzid   *registry.Account
	// replacement verifier for authcid, stored only if the login completes
	upgrade string
}

// Mechanism returns the name of the mechanism in progress, if any.
func (session *Session) Mechanism() string {
	if session.mechanism == nil {
		return ""
	}
	return session.mechanism.Name()
}

// InProgress reports whether an exchange has started and not yet finished.
func (session *Session) InProgress() bool {
	return session.mechanism != nil
}

// Core is what mechanisms call back into.
type Core interface {
	// AuthcidCanLogin resolves the authentication identity and runs the
	// login checks; nil means the login must not proceed.
	AuthcidCanLogin(session *Session, authcid string) *registry.Account
	// AuthzidCanLogin does the same for the authorization identity.
	AuthzidCanLogin(session *Session, authzid string) *registry.Account
	AccountByCertfp(certfp string) *registry.Account
	// UpgradeCredential schedules a replacement verifier; it is stored once
	// the exchange ends in a completed login and discarded otherwise.
	UpgradeCredential(session *Session, account *registry.Account, verifier string)
	PasswordParams() passwd.Params
	ValidateCookie(account *registry.Account, cookie string) bool
	MaxNameLen() int
	Logger() *logger.Manager
}

// Config holds the SASL settings applied by the services host.
type Config struct {
	// Mechanisms lists the enabled mechanisms; empty enables all registered ones
	Mechanisms      []string
	MaxResponseSize int
	// ImpersonateClasses are the services operator classes whose members may
	// log in as another account by supplying its name as the authzid
	ImpersonateClasses []string
	Params             passwd.Params
	Cookies            *jwt.CookieConfig
}

// Observer is notified of the final status of every exchange.
type Observer func(mechanism string, status Status)

// Manager holds the registered mechanisms and implements Core on top of
// the registry. Like the registry it is not safe for concurrent use.
type Manager struct {
	registry   *registry.Registry
	logger     *logger.Manager
	config     Config
	mechanisms map[string]Mechanism
	observers  []Observer
	now        func() time.Time
	// password logins made outside SASL
	identify *plainMechanism
}

// NewManager returns a manager with every built-in mechanism registered.
func NewManager(reg *registry.Registry, logger *logger.Manager, config Config) *Manager {
	m := &Manager{
		registry:   reg,
		logger:     logger,
		mechanisms: make(map[string]Mechanism),
		now:        time.Now,
	}
	m.SetConfig(config)
	m.identify = &plainMechanism{core: m, name: "IDENTIFY"}
	for _, mech := range []Mechanism{
		NewSCRAM(m, digest.SHA1),
		NewSCRAM(m, digest.SHA256),
		NewSCRAM(m, digest.SHA512),
		NewPlain(m),
		NewExternal(m),
		NewAuthcookie(m),
	} {
		m.Register(mech)
	}
	return m
}

func (m *Manager) SetConfig(config Config) {
	mechanisms := make([]string, len(config.Mechanisms))
	for i, mech := range config.Mechanisms {
		mechanisms[i] = strings.ToUpper(mech)
	}
	config.Mechanisms = mechanisms
	m.config = config
}

func (m *Manager) Config() Config {
	return m.config
}

// SetClock replaces the time source.
func (m *Manager) SetClock(now func() time.Time) {
	m.now = now
}

// AddObserver registers a callback for exchange results.
func (m *Manager) AddObserver(observer Observer) {
	m.observers = append(m.observers, observer)
}

// Register adds a mechanism, replacing any with the same name.
func (m *Manager) Register(mech Mechanism) {
	m.mechanisms[mech.Name()] = mech
}

func (m *Manager) Unregister(name string) {
	delete(m.mechanisms, strings.ToUpper(name))
}

func (m *Manager) enabled(name string) bool {
	return len(m.config.Mechanisms) == 0 || slices.Contains(m.config.Mechanisms, name)
}

// List returns the names of the mechanisms clients may use, sorted.
func (m *Manager) List() (result []string) {
	for name := range m.mechanisms {
		if m.enabled(name) {
			result = append(result, name)
		}
	}
	sort.Strings(result)
	return
}

func (m *Manager) lookup(name string) Mechanism {
	name = strings.ToUpper(name)
	if !m.enabled(name) {
		return nil
	}
	return m.mechanisms[name]
}

// Start begins an exchange, abandoning any exchange already in progress.
func (m *Manager) Start(session *Session, name string) (output []byte, status Status) {
	if session.mechanism != nil {
		m.Abort(session)
	}
	mech := m.lookup(name)
	if mech == nil {
		m.logger.Debug("sasl", "Unknown or disabled mechanism", name, "requested by", session.IP)
		return nil, StatusError
	}
	session.mechanism = mech
	session.Started = m.now()
	session.Account = nil
	output, status = mech.Start(session)
	if status != StatusMore {
		status = m.conclude(session, status)
	}
	return
}

// Step feeds one complete client response to the mechanism in progress.
// When the returned status is not StatusMore the exchange is over and its
// state has been wiped.
func (m *Manager) Step(session *Session, input []byte) (output []byte, status Status) {
	mech := session.mechanism
	if mech == nil {
		return nil, StatusError
	}
	output, status = mech.Step(session, input)
	if status != StatusMore {
		status = m.conclude(session, status)
	}
	return
}

// LoginByPassphrase checks a password login made outside SASL, such as
// NickServ IDENTIFY. It goes through the same login checks and rehashing
// as PLAIN.
func (m *Manager) LoginByPassphrase(session *Session, accountName, password string) Status {
	if session.mechanism != nil {
		m.Abort(session)
	}
	session.mechanism = m.identify
	session.Started = m.now()
	session.Account = nil
	if password == "" || len(password) > MaxPasswordLength || len(accountName) > m.MaxNameLen() {
		return m.conclude(session, StatusError)
	}
	return m.conclude(session, m.identify.checkPassword(session, accountName, password))
}

// Abort abandons the exchange in progress, for example on disconnect.
func (m *Manager) Abort(session *Session) {
	if session.mechanism == nil {
		return
	}
	m.logger.Debug("sasl", "Aborted", session.mechanism.Name(), "exchange from", session.IP)
	m.finish(session)
}

func (m *Manager) conclude(session *Session, status Status) Status {
	name := session.mechanism.Name()
	if status == StatusDone {
		status = m.login(session)
	}
	if status == StatusDone && session.upgrade != "" {
		m.registry.UpgradeCredential(session.authcid, session.upgrade)
	}
	for _, observer := range m.observers {
		observer(name, status)
	}
	m.finish(session)
	return status
}

func (m *Manager) finish(session *Session) {
	session.mechanism.Finish(session)
	session.mechanism = nil
	session.state = nil
	session.authcid = nil
	session.authzid = nil
	session.upgrade = ""
}

// login binds the authorization identity to the session once the mechanism
// has accepted the credentials.
func (m *Manager) login(session *Session) Status {
	source := session.authcid
	if source == nil {
		m.logger.Error("sasl", session.mechanism.Name(), "reported success without an account")
		return StatusError
	}
	target := session.authzid
	if target == nil {
		target = source
	}
	if target != source && !m.mayImpersonate(source) {
		m.logger.Info("sasl", source.Name(), "may not log in as", target.Name(), "from", session.IP)
		return StatusFail
	}

	m.registry.RecordLogin(target)
	session.Account = target
	if target == source {
		m.logger.Info("sasl", "Login succeeded:", target.Name(), "via", session.mechanism.Name(), "from", session.IP)
	} else {
		m.logger.Info("sasl", "Login succeeded:", source.Name(), "as", target.Name(), "via", session.mechanism.Name(), "from", session.IP)
	}
	return StatusDone
}

func (m *Manager) mayImpersonate(source *registry.Account) bool {
	return source.Soper != "" && slices.Contains(m.config.ImpersonateClasses, source.Soper)
}

func (m *Manager) canLogin(session *Session, name string) *registry.Account {
	account := m.registry.FindAccount(name)
	if account == nil {
		m.logger.Debug("sasl", "No such account", name)
		return nil
	}
	if account.Frozen() {
		m.logger.Info("sasl", "Failed login to", account.Name(), "from", session.IP, "(frozen)")
		return nil
	}
	passwordBased := session.mechanism != nil && session.mechanism.PasswordBased()
	if passwordBased && account.Flags&registry.MUNoPassword != 0 {
		m.logger.Info("sasl", "Failed login to", account.Name(), "from", session.IP, "(password authentication disabled)")
		return nil
	}
	// the checks already ran when authzid and authcid name the same account
	if account == session.authcid || account == session.authzid {
		return account
	}
	if allowed, reason := m.registry.CanLogin(account, session.IP, session.Mechanism(), passwordBased); !allowed {
		m.logger.Info("sasl", "Denied login to", account.Name(), "from", session.IP, reason)
		return nil
	}
	return account
}

func (m *Manager) AuthcidCanLogin(session *Session, authcid string) *registry.Account {
	account := m.canLogin(session, authcid)
	if account != nil {
		session.authcid = account
	}
	return account
}

func (m *Manager) AuthzidCanLogin(session *Session, authzid string) *registry.Account {
	account := m.canLogin(session, authzid)
	if account != nil {
		session.authzid = account
	}
	return account
}

func (m *Manager) AccountByCertfp(certfp string) *registry.Account {
	return m.registry.FindAccountByCertfp(certfp)
}

func (m *Manager) UpgradeCredential(session *Session, account *registry.Account, verifier string) {
	if account != session.authcid {
		m.logger.Error("sasl", "Refusing credential upgrade for", account.Name(), "outside its own exchange")
		return
	}
	session.upgrade = verifier
}

func (m *Manager) PasswordParams() passwd.Params {
	return m.config.Params
}

func (m *Manager) ValidateCookie(account *registry.Account, cookie string) bool {
	if m.config.Cookies == nil {
		return false
	}
	err := m.config.Cookies.Validate(cookie, account.NameCasefolded(), m.now())
	if err != nil {
		m.logger.Debug("sasl", "Rejected authcookie for", account.Name(), err.Error())
	}
	return err == nil
}

func (m *Manager) MaxNameLen() int {
	return m.registry.Config().MaxNameLen
}

func (m *Manager) Logger() *logger.Manager {
	return m.logger
}
