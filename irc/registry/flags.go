// Copyright (c) 2024 ergo-services contributors
// released under the MIT license

package registry

import (
	"strings"
)

// ChannelACLFlags is the permission bitmask of a channel access entry.
type ChannelACLFlags uint32

const (
	CANone       ChannelACLFlags = 0
	CAVoice      ChannelACLFlags = 0x00000001
	CAAutoVoice  ChannelACLFlags = 0x00000002
	CAOp         ChannelACLFlags = 0x00000004
	CAAutoOp     ChannelACLFlags = 0x00000008
	CATopic      ChannelACLFlags = 0x00000010
	CASet        ChannelACLFlags = 0x00000020
	CARemove     ChannelACLFlags = 0x00000040
	CAInvite     ChannelACLFlags = 0x00000080
	CARecover    ChannelACLFlags = 0x00000100
	CAFlags      ChannelACLFlags = 0x00000200
	CAHalfop     ChannelACLFlags = 0x00000400
	CAAutoHalfop ChannelACLFlags = 0x00000800
	CAACLView    ChannelACLFlags = 0x00001000
	CAFounder    ChannelACLFlags = 0x00002000
	CAUseProtect ChannelACLFlags = 0x00004000
	CAUseOwner   ChannelACLFlags = 0x00008000
	CAExempt     ChannelACLFlags = 0x00010000
	CAAkick      ChannelACLFlags = 0x80000000
)

// templates and derived sets; these are unions of the primitive bits above
const (
	CAVopDefault = CAVoice | CAAutoVoice | CAACLView
	CAHopDefault = CAVoice | CAHalfop | CAAutoHalfop | CATopic | CAACLView
	CAAopDefault = CAVoice | CAHalfop | CAOp | CAAutoOp | CATopic | CAACLView
	CASopDefault = CAAopDefault | CASet | CARemove | CAInvite

	CASuccessorDefault = CAVoice | CAOp | CAAutoOp | CATopic | CASet | CARemove | CAInvite |
		CARecover | CAFlags | CAHalfop | CAACLView | CAUseProtect
	CAFounderDefault = CASuccessorDefault | CAFlags | CAUseOwner | CAFounder
	CAInitial        = CAFounderDefault | CAAutoOp

	// bits whose use refreshes the last-used time of a channel
	CAUsedUpdate = CAVoice | CAOp | CAAutoOp | CASet | CARemove | CARecover | CAFlags |
		CAHalfop | CAAutoHalfop | CAFounder | CAUseProtect | CAUseOwner

	// CAHighPrivs is the default set restricted to founders on LIMITFLAGS channels
	CAHighPrivs = CASet | CARecover | CAFlags

	CAAllPrivs = CAVoice | CAAutoVoice | CAOp | CAAutoOp | CATopic | CASet | CARemove |
		CAInvite | CARecover | CAFlags | CAHalfop | CAAutoHalfop | CAACLView | CAFounder |
		CAUseProtect | CAUseOwner | CAExempt
	CAAll = CAAllPrivs | CAAkick
)

type flagLetter[T ~uint32] struct {
	letter rune
	flag   T
}

var channelFlagLetters = []flagLetter[ChannelACLFlags]{
	{'v', CAVoice},
	{'V', CAAutoVoice},
	{'o', CAOp},
	{'O', CAAutoOp},
	{'t', CATopic},
	{'s', CASet},
	{'r', CARemove},
	{'i', CAInvite},
	{'R', CARecover},
	{'f', CAFlags},
	{'h', CAHalfop},
	{'H', CAAutoHalfop},
	{'A', CAACLView},
	{'F', CAFounder},
	{'a', CAUseProtect},
	{'q', CAUseOwner},
	{'e', CAExempt},
	{'b', CAAkick},
}

var channelFlagTemplates = map[string]ChannelACLFlags{
	"VOP": CAVopDefault,
	"HOP": CAHopDefault,
	"AOP": CAAopDefault,
	"SOP": CASopDefault,
}

func flagsToString[T ~uint32](table []flagLetter[T], flags T) string {
	var buf strings.Builder
	buf.WriteByte('+')
	for _, entry := range table {
		if flags&entry.flag != 0 {
			buf.WriteRune(entry.letter)
		}
	}
	return buf.String()
}

func letterToFlag[T ~uint32](table []flagLetter[T], letter rune) (result T, ok bool) {
	for _, entry := range table {
		if entry.letter == letter {
			return entry.flag, true
		}
	}
	return
}

// String renders the flags in the +letters notation, e.g. "+voOtsriRfhAFaq".
func (f ChannelACLFlags) String() string {
	return flagsToString(channelFlagLetters, f)
}

// ParseChannelFlags parses a flag change such as "+vo-t", "-*" or a template
// name (VOP, HOP, AOP, SOP) into the bits to add and to remove. Unknown
// letters are ignored.
func ParseChannelFlags(str string) (add, remove ChannelACLFlags) {
	if template, ok := channelFlagTemplates[strings.ToUpper(str)]; ok {
		return template, CAAll &^ template
	}

	adding := true
	for _, r := range str {
		switch r {
		case '+':
			adding = true
		case '-':
			adding = false
		case '*':
			if adding {
				add |= CAAllPrivs &^ CAFounder
				remove |= CAAkick
			} else {
				add = CANone
				remove |= CAAll
			}
		default:
			flag, ok := letterToFlag(channelFlagLetters, r)
			if !ok {
				continue
			}
			if adding {
				add |= flag
				remove &^= flag
			} else {
				remove |= flag
				add &^= flag
			}
		}
	}
	return
}

// GroupACLFlags is the permission bitmask of a group membership entry.
type GroupACLFlags uint32

const (
	GANone     GroupACLFlags = 0
	GAFounder  GroupACLFlags = 0x00000001
	GAFlags    GroupACLFlags = 0x00000002
	GAChanacs  GroupACLFlags = 0x00000004
	GAMemos    GroupACLFlags = 0x00000008
	GASet      GroupACLFlags = 0x00000010
	GAVhost    GroupACLFlags = 0x00000020
	GABan      GroupACLFlags = 0x00000040
	GAInvite   GroupACLFlags = 0x00000080
	GAACLView  GroupACLFlags = 0x00000100

	GAAll        = GAFlags | GAChanacs | GAMemos | GASet | GAVhost | GAInvite | GAACLView
	GAAllOld     = GAAll &^ GAACLView
	GAEverything = GAAll | GAFounder | GABan
)

var groupFlagLetters = []flagLetter[GroupACLFlags]{
	{'F', GAFounder},
	{'f', GAFlags},
	{'c', GAChanacs},
	{'m', GAMemos},
	{'s', GASet},
	{'v', GAVhost},
	{'b', GABan},
	{'i', GAInvite},
	{'A', GAACLView},
}

func (f GroupACLFlags) String() string {
	return flagsToString(groupFlagLetters, f)
}

// Letters renders the flags without the leading '+', the way they are stored.
func (f GroupACLFlags) Letters() string {
	return f.String()[1:]
}

// ParseGroupFlags applies a flag change string to `current` and returns the
// result. '+' and '-' switch direction, '*' grants everything and lifts a
// ban (or clears everything when subtracting). Subtraction is only honoured when
// allowSubtract is set; unknown letters are ignored.
func ParseGroupFlags(str string, allowSubtract bool, current GroupACLFlags) (result GroupACLFlags) {
	result = current
	adding := true
	for _, r := range str {
		switch r {
		case '+':
			adding = true
		case '-':
			if allowSubtract {
				adding = false
			}
		case '*':
			if adding {
				result |= GAAll
				result &^= GABan
			} else {
				result = GANone
			}
		default:
			flag, ok := letterToFlag(groupFlagLetters, r)
			if !ok {
				continue
			}
			if adding {
				result |= flag
			} else {
				result &^= flag
			}
		}
	}
	return
}

// AccountFlags are per-account settings.
type AccountFlags uint32

const (
	MUHold         AccountFlags = 0x00000001
	MUNeverOp      AccountFlags = 0x00000002
	MUNoOp         AccountFlags = 0x00000004
	MUWaitAuth     AccountFlags = 0x00000008
	MUHideMail     AccountFlags = 0x00000010
	MUNoMemo       AccountFlags = 0x00000040
	MUEmailMemos   AccountFlags = 0x00000080
	MUCryptPass    AccountFlags = 0x00000100
	MUNoBurstLogin AccountFlags = 0x00000400
	MUEnforce      AccountFlags = 0x00000800
	MUUsePrivmsg   AccountFlags = 0x00001000
	MUPrivate      AccountFlags = 0x00002000
	MUQuietChg     AccountFlags = 0x00004000
	MUNoGreet      AccountFlags = 0x00008000
	MURegNoLimit   AccountFlags = 0x00010000
	MUNeverGroup   AccountFlags = 0x00020000
	MUPendingLogin AccountFlags = 0x00040000
	MUNoPassword   AccountFlags = 0x00080000
)

// ChannelFlags are per-channel registration settings.
type ChannelFlags uint32

const (
	MCHold       ChannelFlags = 0x00000001
	MCNoOp       ChannelFlags = 0x00000002
	MCLimitFlags ChannelFlags = 0x00000004
	MCSecure     ChannelFlags = 0x00000008
	MCVerbose    ChannelFlags = 0x00000010
	MCRestricted ChannelFlags = 0x00000020
	MCKeepTopic  ChannelFlags = 0x00000040
	MCVerboseOps ChannelFlags = 0x00000080
	MCTopicLock  ChannelFlags = 0x00000100
	MCGuard      ChannelFlags = 0x00000200
	MCPrivate    ChannelFlags = 0x00000400
	MCNoSync     ChannelFlags = 0x00000800
	MCAntiFlood  ChannelFlags = 0x00001000
	MCPubACL     ChannelFlags = 0x00002000
	// MCNoGroups forbids granting channel access to groups
	MCNoGroups ChannelFlags = 0x00008000

	// runtime-only bits, never persisted
	MCRecreated    ChannelFlags = 0x10000000
	MCForceVerbose ChannelFlags = 0x20000000
	MCMlockCheck   ChannelFlags = 0x40000000
	MCInhabit      ChannelFlags = 0x80000000

	mcRuntimeMask = MCRecreated | MCForceVerbose | MCMlockCheck | MCInhabit
)

// GroupFlags are per-group settings.
type GroupFlags uint32

const (
	MGRegNoLimit GroupFlags = 0x00000001
	MGACSNoLimit GroupFlags = 0x00000002
	MGOpen       GroupFlags = 0x00000004
	MGPublic     GroupFlags = 0x00000008
)
