// Copyright (c) 2024 ergo-services contributors
// released under the MIT license

package registry

import "errors"

// Policy failures: the caller asked for something the ACL rules forbid.
var (
	ErrInsufficientPrivileges = errors.New("Insufficient privileges")
	ErrACLTableFull           = errors.New("Access list is full")
	ErrGroupAccessForbidden   = errors.New("Channel does not allow access entries for groups")
	ErrFoundershipNotAllowed  = errors.New("Target cannot hold founder access")
	ErrLastFounder            = errors.New("Cannot remove the last founder")
	ErrChangeVetoed           = errors.New("Access change was refused")
	ErrNoChange               = errors.New("Access change would have no effect")
	ErrBanned                 = errors.New("Banned from group")
	ErrGroupNotOpen           = errors.New("Group is not open for joining")
	ErrTooManyChannels        = errors.New("Too many registered channels")
	ErrTooManyGroups          = errors.New("Too many registered groups")
	ErrTooManyPerEmail        = errors.New("Too many accounts registered to this email address")
	ErrRegistrationVetoed     = errors.New("Registration was refused")
)

// Registry errors
var (
	ErrAccountExists     = errors.New("Account already exists")
	ErrAccountNotFound   = errors.New("Account does not exist")
	ErrGroupExists       = errors.New("Group already exists")
	ErrGroupNotFound     = errors.New("Group does not exist")
	ErrChannelRegistered = errors.New("Channel is already registered")
	ErrChannelNotFound   = errors.New("Channel is not registered")
	ErrNameInUse         = errors.New("Name is in use or confusable with a registered name")
	ErrNickInUse         = errors.New("Nickname is registered to another account")
	ErrCertfpInUse       = errors.New("Certificate fingerprint is registered to another account")
	ErrNotFound          = errors.New("No such entry")
	ErrInvalidName       = errors.New("Invalid name")
	ErrInvalidHostmask   = errors.New("Invalid hostmask")
	ErrNameTooLong       = errors.New("Name is too long")
	ErrNotAnAccount      = errors.New("Target is not an account")
)

var (
	errCouldNotStabilize = errors.New("Could not stabilize string while casefolding")
)
