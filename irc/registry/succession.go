// Copyright (c) 2024 ergo-services contributors
// released under the MIT license

package registry

import (
	"time"
)

var (
	// successor candidates are searched tier by tier: an eligible entry
	// must hold every bit of the tier
	channelSuccessorTiers = []ChannelACLFlags{CAFounderDefault &^ CAFounder, CARecover, CAOp}
	groupSuccessorTiers   = []GroupACLFlags{GAFlags, GASet}
)

// FounderCount returns the number of entries on the channel holding FOUNDER.
func FounderCount(mc *Channel) (count int) {
	for _, ca := range mc.access {
		if ca.Flags&CAFounder != 0 {
			count++
		}
	}
	return
}

// PickSuccessor chooses the account that would inherit the channel if its
// founders disappeared, or nil. Only verified accounts without founder or
// AKICK bits are eligible; within the first tier that has a candidate the
// numerically highest bitmask wins and ties go to the oldest entry.
func PickSuccessor(mc *Channel) *Account {
	return pickSuccessor(mc, nil)
}

func pickSuccessor(mc *Channel, exclude Entity) *Account {
	for _, tier := range channelSuccessorTiers {
		var best *ChannelAccess
		for _, ca := range mc.access {
			account, ok := ca.Entity.(*Account)
			if !ok || Entity(account) == exclude || account.departing || !account.Verified() {
				continue
			}
			if ca.Flags&(CAAkick|CAFounder) != 0 || ca.Flags&tier != tier {
				continue
			}
			if best == nil || ca.Flags > best.Flags || (ca.Flags == best.Flags && ca.Modified.Before(best.Modified)) {
				best = ca
			}
		}
		if best != nil {
			return best.Entity.(*Account)
		}
	}
	return nil
}

// PickGroupSuccessor chooses the member account that would inherit a group
// whose founders disappeared, or nil.
func PickGroupSuccessor(g *Group) *Account {
	return pickGroupSuccessor(g, nil)
}

func pickGroupSuccessor(g *Group, exclude Entity) *Account {
	for _, tier := range groupSuccessorTiers {
		var best *GroupAccess
		for _, ga := range g.access {
			account, ok := ga.Member.(*Account)
			if !ok || Entity(account) == exclude || account.departing || !account.Verified() {
				continue
			}
			if ga.Flags&(GABan|GAFounder) != 0 || ga.Flags&tier != tier {
				continue
			}
			if best == nil || ga.Flags > best.Flags || (ga.Flags == best.Flags && ga.Modified.Before(best.Modified)) {
				best = ga
			}
		}
		if best != nil {
			return best.Member.(*Account)
		}
	}
	return nil
}

// releaseChanacs removes an entry whose holder is going away. If the
// holder was the sole founder, the channel passes to a successor (who
// gains the founder default flags) or is dropped.
func (reg *Registry) releaseChanacs(ca *ChannelAccess, now time.Time) {
	mc := ca.Channel
	if ca.Flags&CAFounder != 0 && FounderCount(mc) == 1 {
		successor := pickSuccessor(mc, ca.Entity)
		if successor == nil {
			reg.logger.Info("succession", "No successor for", mc.Name, "founder", ca.TargetName())
			reg.DropChannel(mc, "(no successor)")
			return
		}
		sca := FindChanacs(mc, EntityTarget(successor))
		sca.Flags |= CAFounderDefault
		sca.Modified = now
		reg.deleteChanacs(ca)
		reg.Hooks.ChannelSuccession.Run(&ChannelSuccessionEvent{Channel: mc, Previous: ca.Entity, Successor: successor})
		reg.logger.Info("succession", "SUCCESSION:", mc.Name, "to", successor.name, "from", ca.TargetName())
		return
	}
	reg.deleteChanacs(ca)
}

// releaseMembership removes a membership whose member is going away. If
// the member was the sole founder, the group passes to a successor (who
// gains GAFounder) or is dropped.
func (reg *Registry) releaseMembership(ga *GroupAccess, now time.Time) {
	g := ga.Group
	if ga.Flags&GAFounder != 0 && GroupFounderCount(g) == 1 {
		successor := pickGroupSuccessor(g, ga.Member)
		if successor == nil {
			reg.logger.Info("succession", "No successor for group", g.name, "founder", ga.Member.Name())
			reg.DeleteGroup(g)
			return
		}
		sga := FindGroupMember(g, successor)
		sga.Flags |= GAFounder
		sga.Modified = now
		reg.deleteGroupacs(ga)
		reg.Hooks.GroupSuccession.Run(&GroupSuccessionEvent{Group: g, Previous: ga.Member, Successor: successor})
		reg.logger.Info("succession", "SUCCESSION:", g.name, "to", successor.name, "from", ga.Member.Name())
		return
	}
	reg.deleteGroupacs(ga)
}

// DeleteAccount removes an account. Group and channel ownership is
// resolved before the call returns: each registration the account solely
// founded passes to a successor or is destroyed.
func (reg *Registry) DeleteAccount(account *Account) {
	if reg.byID[account.id] != Entity(account) {
		return
	}
	reg.Hooks.AccountDelete.Run(&AccountEvent{Account: account})
	now := reg.now().UTC()
	// groups dissolved below must not pass their channels to this account
	account.departing = true

	for len(account.memberships) != 0 {
		ga := account.memberships[0]
		if reg.byID[ga.Group.id] == nil {
			// already dropped in this cascade
			reg.deleteGroupacs(ga)
			continue
		}
		reg.releaseMembership(ga, now)
	}
	for len(account.chanacs) != 0 {
		reg.releaseChanacs(account.chanacs[0], now)
	}

	for _, nick := range account.Nicks {
		if reg.nicks[nick] == account {
			delete(reg.nicks, nick)
		}
	}
	for _, certfp := range account.Certfps {
		if reg.certfps[certfp] == account {
			delete(reg.certfps, certfp)
		}
	}
	reg.setEmail(account, "")
	reg.unindexEntity(account)
	reg.logger.Info("accounts", "Deleted account", account.name)
}

// DeleteGroup removes a group. Channels it solely founded pass to a
// successor or are destroyed; its own access list and its memberships in
// other groups are removed.
func (reg *Registry) DeleteGroup(g *Group) {
	if reg.byID[g.id] != Entity(g) {
		return
	}
	// unindex first so a cascade reaching this group again is a no-op
	reg.unindexEntity(g)
	reg.Hooks.GroupDrop.Run(&GroupEvent{Group: g})
	now := reg.now().UTC()

	for len(g.chanacs) != 0 {
		reg.releaseChanacs(g.chanacs[0], now)
	}
	for len(g.access) != 0 {
		reg.deleteGroupacs(g.access[len(g.access)-1])
	}
	for len(g.memberships) != 0 {
		ga := g.memberships[0]
		if reg.byID[ga.Group.id] == nil {
			reg.deleteGroupacs(ga)
			continue
		}
		reg.releaseMembership(ga, now)
	}
	reg.logger.Info("groups", "Dropped group", g.name)
}

// ExpireGroups drops every group left without a founder and returns how
// many were dropped.
func (reg *Registry) ExpireGroups() (dropped int) {
	for _, g := range reg.Groups() {
		if reg.byID[g.id] != Entity(g) {
			continue
		}
		if GroupFounderCount(g) == 0 {
			reg.logger.Info("groups", "Expiring group without founders", g.name)
			reg.DeleteGroup(g)
			dropped++
		}
	}
	return
}
