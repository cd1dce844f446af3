// Copyright (c) 2024 ergo-services contributors
// released under the MIT license

package registry

import (
	"testing"
)

func TestNoAccessIsNone(t *testing.T) {
	reg := newTestRegistry()
	alice := mustAccount(reg, "alice", t)
	bob := mustAccount(reg, "bob", t)
	mc := mustChannel(reg, "#chan", alice, t)

	assertEqual(EffectiveFlags(mc, Source{Account: bob, Hostmasks: []string{"bob!b@host"}}), CANone, t)
	assertEqual(EffectiveFlags(mc, Source{}), CANone, t)
	assertEqual(EffectiveFlags(nil, Source{Account: bob}), CANone, t)
	assertEqual(EffectiveFlags(mc, Source{Account: alice}), CAInitial, t)
}

func TestHostmaskAccessUnion(t *testing.T) {
	reg := newTestRegistry()
	alice := mustAccount(reg, "alice", t)
	bob := mustAccount(reg, "bob", t)
	mc := mustChannel(reg, "#chan", alice, t)

	_, err := reg.LoadChanacs(mc, Target{Host: "*@Example.com"}, CAVoice, "", testEpoch)
	assertEqual(err, nil, t)
	_, err = reg.LoadChanacs(mc, EntityTarget(bob), CAOp, "", testEpoch)
	assertEqual(err, nil, t)

	source := Source{Account: bob, Hostmasks: []string{"bob!b@example.com"}}
	assertEqual(EffectiveFlags(mc, source), CAOp|CAVoice, t)
	// the hostmask entry applies without an account, the account entry does not
	assertEqual(EffectiveFlags(mc, Source{Hostmasks: []string{"bob!b@example.com"}}), CAVoice, t)
	assertEqual(EffectiveFlags(mc, Source{Account: bob, Hostmasks: []string{"bob!b@example.org"}}), CAOp, t)
	assertEqual(EntityFlags(mc, bob), CAOp, t)
}

func TestGroupDerivedAccess(t *testing.T) {
	reg := newTestRegistry()
	alice := mustAccount(reg, "alice", t)
	bob := mustAccount(reg, "bob", t)
	carol := mustAccount(reg, "carol", t)
	staff := mustGroup(reg, "!staff", alice, t)
	mc := mustChannel(reg, "#chan", alice, t)

	reg.LoadGroupacs(staff, bob, GAChanacs, testEpoch)
	reg.LoadGroupacs(staff, carol, GAMemos, testEpoch)
	reg.LoadChanacs(mc, EntityTarget(staff), CAOp|CAAutoOp, "", testEpoch)

	assertEqual(EffectiveFlags(mc, Source{Account: bob}), CAOp|CAAutoOp, t)
	// membership without the chanacs flag does not confer channel access
	assertEqual(EffectiveFlags(mc, Source{Account: carol}), CANone, t)
	assertEqual(EntityFlags(mc, staff), CAOp|CAAutoOp, t)
	assertEqual(GroupHasFlag(staff, bob, GAChanacs), true, t)
	assertEqual(GroupHasFlag(staff, carol, GAChanacs), false, t)
}

func TestNestedGroupAccess(t *testing.T) {
	reg := newTestRegistry()
	alice := mustAccount(reg, "alice", t)
	bob := mustAccount(reg, "bob", t)
	outer := mustGroup(reg, "!outer", alice, t)
	inner := mustGroup(reg, "!inner", alice, t)
	mc := mustChannel(reg, "#chan", alice, t)

	reg.LoadGroupacs(inner, bob, GAChanacs, testEpoch)
	outerEntry, _ := reg.LoadGroupacs(outer, inner, GAMemos, testEpoch)
	reg.LoadChanacs(mc, EntityTarget(outer), CAVoice, "", testEpoch)

	assertEqual(EffectiveFlags(mc, Source{Account: bob}), CAVoice, t)
	// the entry of the outer group is returned, not the nested one
	assertEqual(FindGroupAccess(outer, bob, GANone, true), outerEntry, t)
	assertEqual(FindGroupAccess(outer, bob, GANone, false), (*GroupAccess)(nil), t)
	assertEqual(EffectiveGroupFlags(outer, bob), GAMemos, t)
}

func TestGroupCycleTerminates(t *testing.T) {
	reg := newTestRegistry()
	alice := mustAccount(reg, "alice", t)
	bob := mustAccount(reg, "bob", t)
	carol := mustAccount(reg, "carol", t)
	g1 := mustGroup(reg, "!g1", alice, t)
	g2 := mustGroup(reg, "!g2", alice, t)
	mc := mustChannel(reg, "#chan", alice, t)

	reg.LoadGroupacs(g1, g2, GAChanacs, testEpoch)
	reg.LoadGroupacs(g2, g1, GAChanacs, testEpoch)
	reg.LoadChanacs(mc, EntityTarget(g1), CAOp, "", testEpoch)
	reg.LoadChanacs(mc, EntityTarget(bob), CAVoice, "", testEpoch)

	// bob is in neither group: only the literal grant applies
	assertEqual(EffectiveFlags(mc, Source{Account: bob}), CAVoice, t)
	assertEqual(FindGroupAccess(g1, bob, GANone, true), (*GroupAccess)(nil), t)
	assertEqual(g1.visiting, false, t)
	assertEqual(g2.visiting, false, t)

	// carol reaches g1 through g2, around the cycle
	reg.LoadGroupacs(g2, carol, GAChanacs, testEpoch)
	assertEqual(EffectiveFlags(mc, Source{Account: carol}), CAOp, t)
	assertEqual(g1.visiting, false, t)
	assertEqual(g2.visiting, false, t)
}

func TestBannedAndExempt(t *testing.T) {
	reg := newTestRegistry()
	alice := mustAccount(reg, "alice", t)
	bob := mustAccount(reg, "bob", t)
	mc := mustChannel(reg, "#chan", alice, t)

	reg.LoadChanacs(mc, Target{Host: "*!*@bad.example"}, CAAkick, "", testEpoch)
	source := Source{Account: bob, Hostmasks: []string{"bob!b@bad.example"}}
	assertEqual(IsBanned(mc, source), true, t)
	// AKICK is still part of the resolved flags
	assertEqual(EffectiveFlags(mc, source), CAAkick, t)

	reg.LoadChanacs(mc, EntityTarget(bob), CAExempt, "", testEpoch)
	assertEqual(IsBanned(mc, source), false, t)
	assertEqual(EffectiveFlags(mc, source), CAAkick|CAExempt, t)
}

func TestCheckFlagUpdatesLastUsed(t *testing.T) {
	reg := newTestRegistry()
	alice := mustAccount(reg, "alice", t)
	bob := mustAccount(reg, "bob", t)
	mc := mustChannel(reg, "#chan", alice, t)
	registered := mc.LastUsed

	assertEqual(reg.CheckFlag(mc, Source{Account: bob}, CAOp), false, t)
	assertEqual(mc.LastUsed, registered, t)
	assertEqual(reg.CheckFlag(mc, Source{Account: alice}, CAOp), true, t)
	assertEqual(mc.LastUsed.After(registered), true, t)
	assertEqual(HasFlag(mc, Source{Account: alice}, CAOp|CAAkick), false, t)
}
