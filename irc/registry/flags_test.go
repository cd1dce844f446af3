// Copyright (c) 2024 ergo-services contributors
// released under the MIT license

package registry

import (
	"testing"
)

func TestChannelFlagString(t *testing.T) {
	assertEqual(CANone.String(), "+", t)
	assertEqual((CAVoice | CAOp | CAAkick).String(), "+vob", t)
	assertEqual(CAInitial.String(), "+voOtsriRfhAFaq", t)
}

func TestParseChannelFlags(t *testing.T) {
	add, remove := ParseChannelFlags("+vo-t")
	assertEqual(add, CAVoice|CAOp, t)
	assertEqual(remove, CATopic, t)

	add, remove = ParseChannelFlags("+v-v")
	assertEqual(add, CANone, t)
	assertEqual(remove, CAVoice, t)

	add, remove = ParseChannelFlags("+*")
	assertEqual(add, CAAllPrivs&^CAFounder, t)
	assertEqual(remove, CAAkick, t)

	add, remove = ParseChannelFlags("-*")
	assertEqual(add, CANone, t)
	assertEqual(remove, CAAll, t)

	add, remove = ParseChannelFlags("aop")
	assertEqual(add, CAAopDefault, t)
	assertEqual(remove, CAAll&^CAAopDefault, t)

	// unknown letters are ignored
	add, _ = ParseChannelFlags("+vZ")
	assertEqual(add, CAVoice, t)

	for _, flags := range []ChannelACLFlags{CAInitial, CAAll, CAVopDefault | CAExempt} {
		add, _ = ParseChannelFlags(flags.String())
		assertEqual(add, flags, t)
	}
}

func TestGroupFlags(t *testing.T) {
	assertEqual(GAAll.Letters(), "fcmsviA", t)
	assertEqual(GAAllOld.Letters(), "fcmsvi", t)
	assertEqual((GAFounder | GABan).String(), "+Fb", t)

	assertEqual(ParseGroupFlags("+*", false, GABan), GAAll, t)
	assertEqual(ParseGroupFlags("-*", true, GAAll), GANone, t)
	// subtraction is ignored unless allowed
	assertEqual(ParseGroupFlags("-c", false, GAChanacs), GAChanacs, t)
	assertEqual(ParseGroupFlags("-c+m", true, GAChanacs), GAMemos, t)
	assertEqual(ParseGroupFlags(GAEverything.Letters(), false, GANone), GAEverything, t)
}
