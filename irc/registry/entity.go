// Copyright (c) 2024 ergo-services contributors
// released under the MIT license

package registry

import (
	"regexp"
	"time"
)

type EntityType uint

const (
	EntityAccount EntityType = iota
	EntityGroup
)

func (t EntityType) String() string {
	if t == EntityGroup {
		return "group"
	}
	return "account"
}

// Entity is anything that can hold an access entry: an *Account or a *Group.
// The interface is sealed; the capability methods dispatch statically on
// the concrete type.
type Entity interface {
	ID() string
	Name() string
	NameCasefolded() string
	Type() EntityType
	// AllowFoundership reports whether the entity may hold founder access.
	AllowFoundership() bool
	// CanRegisterChannel reports whether the entity is exempt from the
	// per-account channel registration limit.
	CanRegisterChannel() bool

	// matchChanacs reports whether the access entry `ca`, held by this
	// entity, applies to `requester`
	matchChanacs(ca *ChannelAccess, requester *Account) bool
	base() *entityBase
}

type entityBase struct {
	id             string
	name           string
	nameCasefolded string
	skeleton       string
	// back-indexes; the entries are owned by the channel or group
	chanacs     []*ChannelAccess
	memberships []*GroupAccess
}

func (e *entityBase) ID() string             { return e.id }
func (e *entityBase) Name() string           { return e.name }
func (e *entityBase) NameCasefolded() string { return e.nameCasefolded }
func (e *entityBase) base() *entityBase      { return e }

// Chanacs returns the channel access entries held by the entity.
func (e *entityBase) Chanacs() []*ChannelAccess {
	return append([]*ChannelAccess(nil), e.chanacs...)
}

// Memberships returns the group entries naming the entity as a member.
func (e *entityBase) Memberships() []*GroupAccess {
	return append([]*GroupAccess(nil), e.memberships...)
}

// Account is a registered user account.
type Account struct {
	entityBase

	// Verifier is the stored credential; empty when the account has no
	// usable password
	Verifier       string
	Email          string
	EmailCanonical string
	Registered     time.Time
	LastLogin      time.Time
	Flags          AccountFlags
	// Nicks are casefolded registered nicknames
	Nicks       []string
	Certfps     []string
	AccessMasks []string
	// Soper is the services operator class name, if any
	Soper    string
	Metadata map[string]string

	// set while DeleteAccount runs; a departing account never inherits
	departing bool
}

func (a *Account) Type() EntityType       { return EntityAccount }
func (a *Account) AllowFoundership() bool { return true }

func (a *Account) CanRegisterChannel() bool {
	return a.Flags&MURegNoLimit != 0
}

func (a *Account) matchChanacs(ca *ChannelAccess, requester *Account) bool {
	return requester == a
}

// Verified reports whether the account has completed email verification.
func (a *Account) Verified() bool {
	return a.Flags&MUWaitAuth == 0
}

// FreezeMetadata names the operator who froze the account; a frozen account
// cannot log in.
const FreezeMetadata = "private:freeze:freezer"

func (a *Account) Frozen() bool {
	_, frozen := a.Metadata[FreezeMetadata]
	return frozen
}

// Group is a named collection of entities with its own access list.
type Group struct {
	entityBase

	Registered time.Time
	Flags      GroupFlags
	Metadata   map[string]string

	access []*GroupAccess
	// set for the duration of a recursive membership search through this group
	visiting bool
}

func (g *Group) Type() EntityType       { return EntityGroup }
func (g *Group) AllowFoundership() bool { return true }

func (g *Group) CanRegisterChannel() bool {
	return g.Flags&MGRegNoLimit != 0
}

func (g *Group) matchChanacs(ca *ChannelAccess, requester *Account) bool {
	if requester == nil {
		return false
	}
	return findGroupAccess(g, requester, GAChanacs, true) != nil
}

// Access returns the group's membership list in insertion order.
func (g *Group) Access() []*GroupAccess {
	return append([]*GroupAccess(nil), g.access...)
}

// GroupAccess links a group to a member entity.
type GroupAccess struct {
	Group    *Group
	Member   Entity
	Flags    GroupACLFlags
	Modified time.Time
}

// Channel is a channel registration.
type Channel struct {
	Name           string
	NameCasefolded string
	Registered     time.Time
	LastUsed       time.Time
	Flags          ChannelFlags
	MlockOn        uint32
	MlockOff       uint32
	MlockLimit     uint32
	MlockKey       string
	Metadata       map[string]string

	access []*ChannelAccess
}

// Access returns the channel's access list in insertion order.
func (mc *Channel) Access() []*ChannelAccess {
	return append([]*ChannelAccess(nil), mc.access...)
}

// ChannelAccess links a channel to an entity or to a raw hostmask.
type ChannelAccess struct {
	Channel *Channel
	// exactly one of Entity and Host is set
	Entity   Entity
	Host     string
	Flags    ChannelACLFlags
	Modified time.Time
	SetterID string

	matcher *regexp.Regexp
}

// TargetName is the entity name or the hostmask.
func (ca *ChannelAccess) TargetName() string {
	if ca.Entity != nil {
		return ca.Entity.Name()
	}
	return ca.Host
}

// Target names the subject of a channel access entry: an entity or a
// hostmask. Exactly one of the fields is set.
type Target struct {
	Entity Entity
	Host   string
}

func EntityTarget(e Entity) Target { return Target{Entity: e} }

func (t Target) String() string {
	if t.Entity != nil {
		return t.Entity.Name()
	}
	return t.Host
}

// Source describes who is acting: the logged-in account (nil when the
// client is not identified) and the hostmasks of its connection, in
// nick!user@host form.
type Source struct {
	Account   *Account
	Hostmasks []string
	// Override marks a services operator acting with override privileges
	Override bool
}

func (s Source) setterID() string {
	if s.Account != nil {
		return s.Account.ID()
	}
	return ""
}
