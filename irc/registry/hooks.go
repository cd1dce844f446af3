// Copyright (c) 2024 ergo-services contributors
// released under the MIT license

package registry

import (
	"time"
)

// Hook observes an event. Hooks run synchronously on the services loop, in
// registration order; veto-capable events carry an Approved or Allowed
// field that a hook may clear.
type Hook[T any] func(event *T)

// HookList is an ordered list of observers for one event type.
type HookList[T any] struct {
	hooks []Hook[T]
}

// Add appends a hook to the list.
func (l *HookList[T]) Add(hook Hook[T]) {
	l.hooks = append(l.hooks, hook)
}

// Len returns the number of attached hooks.
func (l *HookList[T]) Len() int {
	return len(l.hooks)
}

// Run invokes every hook with the event.
func (l *HookList[T]) Run(event *T) {
	for _, hook := range l.hooks {
		hook(event)
	}
}

type AccountEvent struct {
	Account *Account
}

type ChannelEvent struct {
	Channel *Channel
	// Founder is set for registrations
	Founder Entity
}

type ChannelSuccessionEvent struct {
	Channel   *Channel
	Previous  Entity
	Successor Entity
}

// ChannelACLChangeEvent fires before an access entry is created, modified
// or deleted. Clearing Approved refuses the change.
type ChannelACLChangeEvent struct {
	Channel  *Channel
	Target   Target
	Setter   Source
	OldFlags ChannelACLFlags
	NewFlags ChannelACLFlags
	Approved bool
}

type GroupEvent struct {
	Group   *Group
	Founder *Account
}

type GroupSuccessionEvent struct {
	Group     *Group
	Previous  Entity
	Successor Entity
}

// GroupACLChangeEvent fires before a group membership is created, modified
// or deleted. Clearing Approved refuses the change.
type GroupACLChangeEvent struct {
	Group    *Group
	Member   Entity
	Setter   *Account
	OldFlags GroupACLFlags
	NewFlags GroupACLFlags
	Approved bool
}

// LoginCheckEvent fires before a login is accepted. Clearing Allowed
// refuses it; Reason is for the operator log.
type LoginCheckEvent struct {
	Account       *Account
	IP            string
	Mechanism     string
	PasswordBased bool
	Time          time.Time
	Allowed       bool
	Reason        string
}

// CredentialUpgradeEvent fires after an account's stored verifier was
// replaced without the user choosing a new password.
type CredentialUpgradeEvent struct {
	Account  *Account
	Verifier string
}

// Hooks holds every observer list of the registry.
type Hooks struct {
	AccountRegister   HookList[AccountEvent]
	AccountDelete     HookList[AccountEvent]
	ChannelRegister   HookList[ChannelEvent]
	ChannelDrop       HookList[ChannelEvent]
	ChannelSuccession HookList[ChannelSuccessionEvent]
	ChannelACLChange  HookList[ChannelACLChangeEvent]
	GroupRegister     HookList[GroupEvent]
	GroupDrop         HookList[GroupEvent]
	GroupSuccession   HookList[GroupSuccessionEvent]
	GroupACLChange    HookList[GroupACLChangeEvent]
	UserCanLogin      HookList[LoginCheckEvent]
	CredentialUpgrade HookList[CredentialUpgradeEvent]
}
