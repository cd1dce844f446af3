// Copyright (c) 2024 ergo-services contributors
// released under the MIT license

package registry

import (
	"fmt"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/ergochat/ergo-services/irc/logger"
	"github.com/ergochat/ergo-services/irc/utils"
)

const (
	DefaultMaxChanacs  = 0
	DefaultMaxGroupacs = 0
	DefaultMaxPerEmail = 5
	DefaultMaxChannels = 5
	DefaultMaxGroups   = 5
	DefaultMaxNicks    = 5
	DefaultMaxNameLen  = 31
)

// Config holds the policy knobs of the registry.
type Config struct {
	// MaxChanacs bounds the size of a channel access list; 0 is unlimited
	MaxChanacs int
	// MaxGroupacs bounds the size of a group access list; 0 is unlimited
	MaxGroupacs int
	// HighPrivs are the bits that LIMITFLAGS reserves for founders
	HighPrivs ChannelACLFlags
	// MaxPerEmail bounds the number of accounts per canonical email; 0 is unlimited
	MaxPerEmail int
	// MaxChannels bounds the channels an entity may found; 0 is unlimited
	MaxChannels int
	// MaxGroups bounds the groups an account may found; 0 is unlimited
	MaxGroups        int
	MaxNicks         int
	EnableOpenGroups bool
	// JoinFlags are granted to accounts joining an open group
	JoinFlags  GroupACLFlags
	MaxNameLen int
}

// DefaultConfig returns the stock policy.
func DefaultConfig() Config {
	return Config{
		MaxChanacs:       DefaultMaxChanacs,
		MaxGroupacs:      DefaultMaxGroupacs,
		HighPrivs:        CAHighPrivs,
		MaxPerEmail:      DefaultMaxPerEmail,
		MaxChannels:      DefaultMaxChannels,
		MaxGroups:        DefaultMaxGroups,
		MaxNicks:         DefaultMaxNicks,
		EnableOpenGroups: false,
		JoinFlags:        GAChanacs | GAACLView,
		MaxNameLen:       DefaultMaxNameLen,
	}
}

// Registry owns every account, group and channel registration together with
// their access lists and indexes. It is not safe for concurrent use: all
// access happens on the services loop.
type Registry struct {
	Hooks Hooks

	config Config
	logger *logger.Manager

	entities   map[string]Entity // casefolded name to entity
	byID       map[string]Entity
	skeletons  map[string]Entity
	channels   map[string]*Channel
	nicks      map[string]*Account
	certfps    map[string]*Account
	emailCount map[string]int

	now func() time.Time
}

// NewRegistry returns an empty registry.
func NewRegistry(config Config, logger *logger.Manager) *Registry {
	return &Registry{
		config:     config,
		logger:     logger,
		entities:   make(map[string]Entity),
		byID:       make(map[string]Entity),
		skeletons:  make(map[string]Entity),
		channels:   make(map[string]*Channel),
		nicks:      make(map[string]*Account),
		certfps:    make(map[string]*Account),
		emailCount: make(map[string]int),
		now:        time.Now,
	}
}

// SetConfig replaces the policy (e.g., on rehash).
func (reg *Registry) SetConfig(config Config) {
	reg.config = config
}

func (reg *Registry) Config() Config {
	return reg.config
}

// SetClock replaces the time source.
func (reg *Registry) SetClock(now func() time.Time) {
	reg.now = now
}

func (reg *Registry) newID() string {
	id := utils.GenerateUUIDv4()
	for reg.byID[id.String()] != nil {
		id = utils.GenerateUUIDv4()
	}
	return id.String()
}

func (reg *Registry) checkName(name string, casefolded string) (skeleton string, err error) {
	if reg.config.MaxNameLen != 0 && len(name) > reg.config.MaxNameLen {
		return "", ErrNameTooLong
	}
	if reg.entities[casefolded] != nil {
		return "", ErrNameInUse
	}
	skeleton, err = Skeleton(name)
	if err != nil {
		return "", ErrInvalidName
	}
	if reg.skeletons[skeleton] != nil {
		return "", ErrNameInUse
	}
	return skeleton, nil
}

func (reg *Registry) indexEntity(e Entity) {
	b := e.base()
	reg.entities[b.nameCasefolded] = e
	reg.byID[b.id] = e
	reg.skeletons[b.skeleton] = e
}

func (reg *Registry) unindexEntity(e Entity) {
	b := e.base()
	delete(reg.entities, b.nameCasefolded)
	delete(reg.byID, b.id)
	if reg.skeletons[b.skeleton] == e {
		delete(reg.skeletons, b.skeleton)
	}
}

func canonicalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func removeString(list []string, str string) []string {
	return slices.DeleteFunc(list, func(s string) bool { return s == str })
}

// RegisterAccount creates a new account. The account name is reserved as
// its primary nickname.
func (reg *Registry) RegisterAccount(name, verifier, email string) (account *Account, err error) {
	canonical := canonicalizeEmail(email)
	if reg.config.MaxPerEmail != 0 && canonical != "" && reg.emailCount[canonical] >= reg.config.MaxPerEmail {
		return nil, ErrTooManyPerEmail
	}

	now := reg.now().UTC()
	account = NewAccount(reg.newID(), name)
	account.Email = email
	account.Registered = now
	account.LastLogin = now
	reg.SetPassword(account, verifier)
	if err = reg.AddAccount(account); err != nil {
		return nil, err
	}
	reg.Hooks.AccountRegister.Run(&AccountEvent{Account: account})
	reg.logger.Info("accounts", "Registered account", account.name)
	return account, nil
}

// AddAccount indexes an account built elsewhere (e.g., by the database
// loader). The account must carry a name and an ID. Registration policy
// such as the per-email limit is not applied.
func (reg *Registry) AddAccount(account *Account) (err error) {
	cfname, err := CasefoldAccount(account.name)
	if err != nil {
		return err
	}
	if account.id == "" || reg.byID[account.id] != nil {
		return fmt.Errorf("%w: duplicate or missing ID %q", ErrAccountExists, account.id)
	}
	skeleton, err := reg.checkName(account.name, cfname)
	if err != nil {
		return err
	}
	if owner := reg.nicks[cfname]; owner != nil && owner != account {
		return ErrNickInUse
	}
	account.nameCasefolded = cfname
	account.skeleton = skeleton
	reg.indexEntity(account)
	if !slices.Contains(account.Nicks, cfname) {
		account.Nicks = append([]string{cfname}, account.Nicks...)
	}
	for _, nick := range account.Nicks {
		reg.nicks[nick] = account
	}
	for _, certfp := range account.Certfps {
		reg.certfps[certfp] = account
	}
	account.EmailCanonical = ""
	reg.setEmail(account, account.Email)
	return nil
}

// NewAccount builds an unindexed account for the loader.
func NewAccount(id, name string) *Account {
	account := new(Account)
	account.id = id
	account.name = name
	return account
}

// NewGroup builds an unindexed group for the loader.
func NewGroup(id, name string) *Group {
	group := new(Group)
	group.id = id
	group.name = name
	return group
}

func (reg *Registry) setEmail(account *Account, email string) {
	if account.EmailCanonical != "" {
		reg.emailCount[account.EmailCanonical]--
		if reg.emailCount[account.EmailCanonical] <= 0 {
			delete(reg.emailCount, account.EmailCanonical)
		}
	}
	account.Email = email
	account.EmailCanonical = canonicalizeEmail(email)
	if account.EmailCanonical != "" {
		reg.emailCount[account.EmailCanonical]++
	}
}

// SetEmail changes an account's email address, subject to the per-address limit.
func (reg *Registry) SetEmail(account *Account, email string) error {
	canonical := canonicalizeEmail(email)
	if canonical != account.EmailCanonical && reg.config.MaxPerEmail != 0 &&
		reg.emailCount[canonical] >= reg.config.MaxPerEmail {
		return ErrTooManyPerEmail
	}
	reg.setEmail(account, email)
	return nil
}

// EmailCount returns the number of accounts registered to an address.
func (reg *Registry) EmailCount(email string) int {
	return reg.emailCount[canonicalizeEmail(email)]
}

// SetPassword replaces the stored verifier.
func (reg *Registry) SetPassword(account *Account, verifier string) {
	account.Verifier = verifier
	if verifier == "" {
		account.Flags |= MUNoPassword
	} else {
		account.Flags &^= MUNoPassword
	}
}

// UpgradeCredential replaces the verifier after a transparent rehash or
// a SCRAM format upgrade and notifies observers.
func (reg *Registry) UpgradeCredential(account *Account, verifier string) {
	account.Verifier = verifier
	reg.Hooks.CredentialUpgrade.Run(&CredentialUpgradeEvent{Account: account, Verifier: verifier})
	reg.logger.Info("accounts", "Upgraded stored credential for", account.name)
}

// CanLogin runs the login veto hooks. It returns the refusal reason when
// the login must not proceed.
func (reg *Registry) CanLogin(account *Account, ip, mechanism string, passwordBased bool) (allowed bool, reason string) {
	event := LoginCheckEvent{
		Account:       account,
		IP:            ip,
		Mechanism:     mechanism,
		PasswordBased: passwordBased,
		Time:          reg.now(),
		Allowed:       true,
	}
	reg.Hooks.UserCanLogin.Run(&event)
	return event.Allowed, event.Reason
}

// RecordLogin updates the last-login time.
func (reg *Registry) RecordLogin(account *Account) {
	account.LastLogin = reg.now().UTC()
}

// FindAccount looks up an account by name.
func (reg *Registry) FindAccount(name string) *Account {
	cfname, err := CasefoldAccount(name)
	if err != nil {
		return nil
	}
	account, _ := reg.entities[cfname].(*Account)
	return account
}

// FindGroup looks up a group by name (including the leading '!').
func (reg *Registry) FindGroup(name string) *Group {
	cfname, err := CasefoldGroup(name)
	if err != nil {
		return nil
	}
	group, _ := reg.entities[cfname].(*Group)
	return group
}

// FindEntity looks up an account or group by name.
func (reg *Registry) FindEntity(name string) Entity {
	cfname, err := CasefoldEntity(name)
	if err != nil {
		return nil
	}
	return reg.entities[cfname]
}

// FindEntityByID looks up an account or group by its stable ID.
func (reg *Registry) FindEntityByID(id string) Entity {
	return reg.byID[id]
}

// FindAccountByNick resolves a registered nickname to its account.
func (reg *Registry) FindAccountByNick(nick string) *Account {
	cfnick, err := CasefoldAccount(nick)
	if err != nil {
		return nil
	}
	return reg.nicks[cfnick]
}

// FindAccountByCertfp resolves a client certificate fingerprint.
func (reg *Registry) FindAccountByCertfp(certfp string) *Account {
	return reg.certfps[strings.ToLower(certfp)]
}

// AddNick reserves an additional nickname for the account.
func (reg *Registry) AddNick(account *Account, nick string) error {
	cfnick, err := CasefoldAccount(nick)
	if err != nil {
		return err
	}
	if owner := reg.nicks[cfnick]; owner != nil {
		if owner == account {
			return nil
		}
		return ErrNickInUse
	}
	if other := reg.entities[cfnick]; other != nil {
		return ErrNickInUse
	}
	if reg.config.MaxNicks != 0 && len(account.Nicks) >= reg.config.MaxNicks {
		return ErrInsufficientPrivileges
	}
	account.Nicks = append(account.Nicks, cfnick)
	reg.nicks[cfnick] = account
	return nil
}

// RemoveNick releases a nickname; the account's own name cannot be released.
func (reg *Registry) RemoveNick(account *Account, nick string) error {
	cfnick, err := CasefoldAccount(nick)
	if err != nil {
		return err
	}
	if cfnick == account.nameCasefolded {
		return ErrInsufficientPrivileges
	}
	if reg.nicks[cfnick] != account {
		return ErrNotFound
	}
	delete(reg.nicks, cfnick)
	account.Nicks = removeString(account.Nicks, cfnick)
	return nil
}

// AddCertfp associates a certificate fingerprint with the account.
func (reg *Registry) AddCertfp(account *Account, certfp string) error {
	certfp = strings.ToLower(certfp)
	if certfp == "" {
		return ErrInvalidName
	}
	if owner := reg.certfps[certfp]; owner != nil {
		if owner == account {
			return nil
		}
		return ErrCertfpInUse
	}
	account.Certfps = append(account.Certfps, certfp)
	reg.certfps[certfp] = account
	return nil
}

func (reg *Registry) RemoveCertfp(account *Account, certfp string) error {
	certfp = strings.ToLower(certfp)
	if reg.certfps[certfp] != account {
		return ErrNotFound
	}
	delete(reg.certfps, certfp)
	account.Certfps = removeString(account.Certfps, certfp)
	return nil
}

// AddAccessMask links a user@host pattern to the account.
func (reg *Registry) AddAccessMask(account *Account, mask string) error {
	mask = strings.ToLower(mask)
	if !strings.Contains(mask, "@") || strings.ContainsAny(mask, " !,") {
		return ErrInvalidHostmask
	}
	if slices.Contains(account.AccessMasks, mask) {
		return nil
	}
	account.AccessMasks = append(account.AccessMasks, mask)
	return nil
}

func (reg *Registry) RemoveAccessMask(account *Account, mask string) error {
	mask = strings.ToLower(mask)
	if !slices.Contains(account.AccessMasks, mask) {
		return ErrNotFound
	}
	account.AccessMasks = removeString(account.AccessMasks, mask)
	return nil
}

// MatchAccessMask reports whether a user@host matches one of the account's
// access masks.
func (reg *Registry) MatchAccessMask(account *Account, userhost string) bool {
	if len(account.AccessMasks) == 0 {
		return false
	}
	matcher, err := utils.CompileMasks(account.AccessMasks)
	if err != nil {
		return false
	}
	return matcher.MatchString(strings.ToLower(userhost))
}

// Accounts returns every account ordered by casefolded name.
func (reg *Registry) Accounts() (result []*Account) {
	for _, e := range reg.entities {
		if account, ok := e.(*Account); ok {
			result = append(result, account)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].nameCasefolded < result[j].nameCasefolded })
	return
}

// Groups returns every group ordered by casefolded name.
func (reg *Registry) Groups() (result []*Group) {
	for _, e := range reg.entities {
		if group, ok := e.(*Group); ok {
			result = append(result, group)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].nameCasefolded < result[j].nameCasefolded })
	return
}

// Channels returns every channel registration ordered by casefolded name.
func (reg *Registry) Channels() (result []*Channel) {
	result = make([]*Channel, 0, len(reg.channels))
	for _, mc := range reg.channels {
		result = append(result, mc)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].NameCasefolded < result[j].NameCasefolded })
	return
}

// Stats are the registry sizes, for metrics.
type Stats struct {
	Accounts int
	Groups   int
	Channels int
}

func (reg *Registry) Stats() (stats Stats) {
	for _, e := range reg.entities {
		if e.Type() == EntityGroup {
			stats.Groups++
		} else {
			stats.Accounts++
		}
	}
	stats.Channels = len(reg.channels)
	return
}
