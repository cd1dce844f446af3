// Copyright (c) 2024 ergo-services contributors
// released under the MIT license

package registry

// findGroupAccess searches the access list of g for `member`. When recurse
// is set, nested groups are searched too and the entry of g through which
// the member was reached is returned. A non-zero `flags` requires the
// member's own entry to carry one of those flags.
//
// Each group is marked as visiting while its list is searched; a group
// that is already on the current path contributes nothing, so cycles in
// the membership graph terminate.
func findGroupAccess(g *Group, member Entity, flags GroupACLFlags, recurse bool) (result *GroupAccess) {
	g.visiting = true
	defer func() {
		g.visiting = false
	}()

	for _, ga := range g.access {
		if ga.Member == member {
			if flags != GANone && ga.Flags&flags == 0 {
				continue
			}
			return ga
		}
		if !recurse {
			continue
		}
		if nested, ok := ga.Member.(*Group); ok && !nested.visiting {
			if findGroupAccess(nested, member, flags, true) != nil {
				return ga
			}
		}
	}
	return nil
}

// FindGroupAccess is the exported form of the membership search.
func FindGroupAccess(g *Group, member Entity, flags GroupACLFlags, recurse bool) *GroupAccess {
	if g == nil || member == nil {
		return nil
	}
	return findGroupAccess(g, member, flags, recurse)
}

// EffectiveGroupFlags returns the flags `member` holds on g, directly or
// through nested groups.
func EffectiveGroupFlags(g *Group, member Entity) GroupACLFlags {
	if ga := FindGroupAccess(g, member, GANone, true); ga != nil {
		return ga.Flags
	}
	return GANone
}

// GroupHasFlag reports whether `member` reaches g through an entry
// carrying `flag`.
func GroupHasFlag(g *Group, member Entity, flag GroupACLFlags) bool {
	return FindGroupAccess(g, member, flag, true) != nil
}

// EffectiveFlags computes the access a source has on a channel: the union
// of its own entry, every hostmask entry matching one of its masks, and
// every group entry reachable from its account. There is no precedence
// between the sources. AKICK bits are returned like any other bit.
func EffectiveFlags(mc *Channel, source Source) (result ChannelACLFlags) {
	if mc == nil {
		return CANone
	}
	for _, ca := range mc.access {
		if ca.Entity != nil {
			if source.Account != nil && ca.Entity.matchChanacs(ca, source.Account) {
				result |= ca.Flags
			}
		} else if ca.matchesHostmask(source.Hostmasks) {
			result |= ca.Flags
		}
	}
	return
}

// EntityFlags returns the access granted to an entity by its own entry
// plus, for accounts, the entries of groups it reaches.
func EntityFlags(mc *Channel, e Entity) ChannelACLFlags {
	if account, ok := e.(*Account); ok {
		return EffectiveFlags(mc, Source{Account: account})
	}
	if ca := FindChanacs(mc, EntityTarget(e)); ca != nil {
		return ca.Flags
	}
	return CANone
}

// HasFlag reports whether the source holds every bit of `flag` on the channel.
func HasFlag(mc *Channel, source Source, flag ChannelACLFlags) bool {
	return EffectiveFlags(mc, source)&flag == flag
}

// CheckFlag is the privilege check offered to commands.
func (reg *Registry) CheckFlag(mc *Channel, source Source, flag ChannelACLFlags) bool {
	if HasFlag(mc, source, flag) {
		if flag&CAUsedUpdate != 0 && flag&CAAkick == 0 {
			mc.LastUsed = reg.now().UTC()
		}
		return true
	}
	return false
}

// IsBanned reports whether the source matches an AKICK entry and is not exempt.
func IsBanned(mc *Channel, source Source) bool {
	flags := EffectiveFlags(mc, source)
	return flags&CAAkick != 0 && flags&CAExempt == 0
}
