// Copyright (c) 2024 ergo-services contributors
// released under the MIT license

package registry

import (
	"fmt"
)

// AllowFlags returns the bits a setter holding `setterFlags` may grant or
// revoke on the channel. REMOVE lets one manage AKICK entries; OP, HALFOP
// and VOICE imply their automatic variants. On LIMITFLAGS channels, a
// non-founder without SET or RECOVER may only manage AKICK entries, and no
// non-founder may grant high privileges.
func (reg *Registry) AllowFlags(mc *Channel, setterFlags ChannelACLFlags) (flags ChannelACLFlags) {
	flags = setterFlags &^ CAAkick
	if flags&CARemove != 0 {
		flags |= CAAkick
	}
	if flags&CAOp != 0 {
		flags |= CAAutoOp
	}
	if flags&CAHalfop != 0 {
		flags |= CAAutoHalfop
	}
	if flags&CAVoice != 0 {
		flags |= CAAutoVoice
	}
	if mc.Flags&MCLimitFlags != 0 && setterFlags&CAFounder == 0 {
		highPrivs := reg.highPrivs()
		if setterFlags&(highPrivs&^CAFlags) == 0 {
			flags &= CAAkick
		} else {
			flags &^= highPrivs
		}
	}
	return
}

func (reg *Registry) highPrivs() ChannelACLFlags {
	if reg.config.HighPrivs == CANone {
		return CAHighPrivs
	}
	return reg.config.HighPrivs
}

func isSelf(ca *ChannelAccess, target Target, setter Source) bool {
	if setter.Account == nil {
		return false
	}
	if ca != nil {
		return ca.Entity == Entity(setter.Account)
	}
	return target.Entity == Entity(setter.Account)
}

// ChangeAccess adds and removes bits on the entry for `target`, creating
// or deleting the entry as needed. `restrict` is the set of bits the
// setter may touch; a restrict set containing FOUNDER is unrestricted.
// It returns the resulting entry, or nil when the entry was deleted.
func (reg *Registry) ChangeAccess(mc *Channel, target Target, add, remove, restrict ChannelACLFlags, setter Source) (result *ChannelAccess, err error) {
	if (target.Entity == nil) == (target.Host == "") {
		return nil, ErrNotFound
	}
	if target.Entity == nil {
		target.Host, err = CanonicalizeHostmask(target.Host)
		if err != nil {
			return nil, err
		}
	}

	ca := FindChanacs(mc, target)
	var level ChannelACLFlags
	if ca != nil {
		level = ca.Flags
	}

	add &^= level
	remove &= level &^ add
	if add|remove == CANone {
		return ca, ErrNoChange
	}

	if restrict&CAFounder == 0 {
		self := isSelf(ca, target, setter)
		if (add|remove)&CAFounder != 0 {
			return ca, ErrInsufficientPrivileges
		}
		if add&^restrict != 0 {
			return ca, ErrInsufficientPrivileges
		}
		if remove&^restrict != 0 && !self {
			return ca, ErrInsufficientPrivileges
		}
		// a setter may not modify an entry holding more than it may grant
		if level&^restrict != 0 && !self {
			return ca, ErrInsufficientPrivileges
		}
		if mc.Flags&MCLimitFlags != 0 && add&reg.highPrivs() != 0 {
			return ca, ErrInsufficientPrivileges
		}
	}

	if add&CAFounder != 0 && (target.Entity == nil || !target.Entity.AllowFoundership()) {
		return ca, ErrFoundershipNotAllowed
	}
	if target.Entity != nil && target.Entity.Type() == EntityGroup && mc.Flags&MCNoGroups != 0 && add != CANone {
		return ca, ErrGroupAccessForbidden
	}
	if remove&CAFounder != 0 && FounderCount(mc) <= 1 {
		return ca, ErrLastFounder
	}
	if ca == nil && reg.config.MaxChanacs != 0 && len(mc.access) >= reg.config.MaxChanacs {
		return nil, ErrACLTableFull
	}

	newLevel := (level | add) &^ remove
	event := ChannelACLChangeEvent{
		Channel:  mc,
		Target:   target,
		Setter:   setter,
		OldFlags: level,
		NewFlags: newLevel,
		Approved: true,
	}
	reg.Hooks.ChannelACLChange.Run(&event)
	if !event.Approved {
		return ca, ErrChangeVetoed
	}

	now := reg.now().UTC()
	switch {
	case newLevel == CANone:
		reg.deleteChanacs(ca)
		ca = nil
	case ca == nil:
		ca = reg.addChanacs(mc, target, newLevel, setter.setterID(), now)
	default:
		ca.Flags = newLevel
		ca.Modified = now
		ca.SetterID = setter.setterID()
	}
	reg.logger.Info("chanacs", fmt.Sprintf("%s: %s changed %s from %s to %s", mc.Name, setterName(setter), target, level, newLevel))
	return ca, nil
}

func setterName(setter Source) string {
	if setter.Account != nil {
		return setter.Account.Name()
	}
	if len(setter.Hostmasks) != 0 {
		return setter.Hostmasks[0]
	}
	return "*"
}

func (reg *Registry) restrictionFor(mc *Channel, target Target, add ChannelACLFlags, setter Source) (restrict ChannelACLFlags, err error) {
	if setter.Override {
		return CAAll, nil
	}
	setterFlags := EffectiveFlags(mc, setter)
	if setterFlags&CAFlags == 0 {
		// without +f one may only drop one's own access
		if add == CANone && isSelf(nil, target, setter) {
			return CAAll &^ CAFounder, nil
		}
		return CANone, ErrInsufficientPrivileges
	}
	restrict = reg.AllowFlags(mc, setterFlags)
	if restrict == CANone {
		return CANone, ErrInsufficientPrivileges
	}
	return restrict, nil
}

// Grant adds `flags` to the target's entry on behalf of `setter`.
func (reg *Registry) Grant(mc *Channel, target Target, flags ChannelACLFlags, setter Source) (*ChannelAccess, error) {
	restrict, err := reg.restrictionFor(mc, target, flags, setter)
	if err != nil {
		return nil, err
	}
	return reg.ChangeAccess(mc, target, flags, CANone, restrict, setter)
}

// SetFlags applies a combined change such as "+o-v" on behalf of `setter`.
func (reg *Registry) SetFlags(mc *Channel, target Target, add, remove ChannelACLFlags, setter Source) (*ChannelAccess, error) {
	restrict, err := reg.restrictionFor(mc, target, add, setter)
	if err != nil {
		return nil, err
	}
	return reg.ChangeAccess(mc, target, add, remove, restrict, setter)
}

// Revoke removes `flags` from the target's entry on behalf of `setter`.
func (reg *Registry) Revoke(mc *Channel, target Target, flags ChannelACLFlags, setter Source) (*ChannelAccess, error) {
	restrict, err := reg.restrictionFor(mc, target, CANone, setter)
	if err != nil {
		return nil, err
	}
	return reg.ChangeAccess(mc, target, CANone, flags, restrict, setter)
}

// ResolveTarget turns a command argument into a Target: a registered
// entity name, or a hostmask.
func (reg *Registry) ResolveTarget(name string) (target Target, err error) {
	if IsHostmask(name) {
		host, err := CanonicalizeHostmask(name)
		if err != nil {
			return target, err
		}
		return Target{Host: host}, nil
	}
	if e := reg.FindEntity(name); e != nil {
		return EntityTarget(e), nil
	}
	return target, ErrAccountNotFound
}

// ChangeGroupAccess adds and removes bits on the membership of `member`.
// `restrict` bounds the bits the setter may touch; GAFounder in restrict
// lifts every restriction.
func (reg *Registry) ChangeGroupAccess(g *Group, member Entity, add, remove, restrict GroupACLFlags, setter *Account) (result *GroupAccess, err error) {
	ga := FindGroupMember(g, member)
	var level GroupACLFlags
	if ga != nil {
		level = ga.Flags
	}

	add &^= level
	remove &= level &^ add
	if add|remove == GANone {
		return ga, ErrNoChange
	}

	if restrict&GAFounder == 0 {
		self := setter != nil && member == Entity(setter)
		if (add|remove)&GAFounder != 0 || add&^restrict != 0 {
			return ga, ErrInsufficientPrivileges
		}
		if !self && (remove&^restrict != 0 || level&GAFounder != 0) {
			return ga, ErrInsufficientPrivileges
		}
	}
	if remove&GAFounder != 0 && GroupFounderCount(g) <= 1 {
		return ga, ErrLastFounder
	}
	if ga == nil && reg.config.MaxGroupacs != 0 && g.Flags&MGACSNoLimit == 0 && len(g.access) >= reg.config.MaxGroupacs {
		return nil, ErrACLTableFull
	}
	if ga == nil {
		if account, ok := member.(*Account); ok && account.Flags&MUNeverGroup != 0 {
			return nil, ErrInsufficientPrivileges
		}
	}

	newLevel := (level | add) &^ remove
	event := GroupACLChangeEvent{
		Group:    g,
		Member:   member,
		Setter:   setter,
		OldFlags: level,
		NewFlags: newLevel,
		Approved: true,
	}
	reg.Hooks.GroupACLChange.Run(&event)
	if !event.Approved {
		return ga, ErrChangeVetoed
	}

	now := reg.now().UTC()
	switch {
	case newLevel == GANone:
		reg.deleteGroupacs(ga)
		ga = nil
	case ga == nil:
		ga = reg.addGroupacs(g, member, newLevel, now)
	default:
		ga.Flags = newLevel
		ga.Modified = now
	}
	reg.logger.Info("groups", fmt.Sprintf("%s: changed %s from %s to %s", g.name, member.Name(), level, newLevel))
	return ga, nil
}

func (reg *Registry) groupRestrictionFor(g *Group, member Entity, add GroupACLFlags, setter Source) (restrict GroupACLFlags, err error) {
	if setter.Override {
		return GAEverything, nil
	}
	if setter.Account == nil {
		return GANone, ErrInsufficientPrivileges
	}
	setterFlags := EffectiveGroupFlags(g, setter.Account)
	if setterFlags&GAFounder != 0 {
		return GAEverything, nil
	}
	if setterFlags&GAFlags == 0 {
		if add == GANone && member == Entity(setter.Account) {
			return GAEverything &^ GAFounder, nil
		}
		return GANone, ErrInsufficientPrivileges
	}
	return GAEverything &^ GAFounder, nil
}

// GrantGroup adds `flags` to a membership on behalf of `setter`.
func (reg *Registry) GrantGroup(g *Group, member Entity, flags GroupACLFlags, setter Source) (*GroupAccess, error) {
	restrict, err := reg.groupRestrictionFor(g, member, flags, setter)
	if err != nil {
		return nil, err
	}
	return reg.ChangeGroupAccess(g, member, flags, GANone, restrict, setter.Account)
}

// SetGroupFlags applies a combined membership change on behalf of `setter`.
func (reg *Registry) SetGroupFlags(g *Group, member Entity, add, remove GroupACLFlags, setter Source) (*GroupAccess, error) {
	restrict, err := reg.groupRestrictionFor(g, member, add, setter)
	if err != nil {
		return nil, err
	}
	return reg.ChangeGroupAccess(g, member, add, remove, restrict, setter.Account)
}

// RevokeGroup removes `flags` from a membership on behalf of `setter`.
func (reg *Registry) RevokeGroup(g *Group, member Entity, flags GroupACLFlags, setter Source) (*GroupAccess, error) {
	restrict, err := reg.groupRestrictionFor(g, member, GANone, setter)
	if err != nil {
		return nil, err
	}
	return reg.ChangeGroupAccess(g, member, GANone, flags, restrict, setter.Account)
}
