package domain

var modeTransitions = map[Mode]map[Mode]bool{
	ModeIdle: {
		ModeAuto: true, ModeManual: true, ModeGuided: true, ModeRTL: true, ModeEmergencyStopped: true,
	},
	ModeAuto: {
		ModeManual: true, ModeGuided: true, ModeIdle: true, ModeRTL: true, ModeEmergencyStopped: true,
	},
	ModeManual: {
		ModeAuto: true, ModeGuided: true, ModeIdle: true, ModeRTL: true, ModeEmergencyStopped: true,
	},
	ModeGuided: {
		ModeAuto: true, ModeManual: true, ModeIdle: true, ModeRTL: true, ModeEmergencyStopped: true,
	},
	ModeRTL: {
		ModeIdle: true, ModeManual: true, ModeGuided: true, ModeEmergencyStopped: true,
	},
	// EMERGENCY_STOPPED only leaves through a RESET command.
	ModeEmergencyStopped: {},
}

// CanTransition reports whether a drone may move from one mode to another
// on its own report. Staying in the same mode is always allowed.
func CanTransition(from, to Mode) bool {
	if from == to {
		return true
	}
	return modeTransitions[from][to]
}

type commandRule struct {
	from   []Mode
	target Mode
}

var commandRules = map[CommandKind]commandRule{
	CommandTakeoff:      {from: []Mode{ModeIdle}, target: ModeAuto},
	CommandLand:         {from: []Mode{ModeAuto, ModeManual, ModeGuided, ModeRTL}, target: ModeIdle},
	CommandPause:        {from: []Mode{ModeAuto}, target: ModeGuided},
	CommandResume:       {from: []Mode{ModeGuided}, target: ModeAuto},
	CommandRTL:          {from: []Mode{ModeAuto, ModeManual, ModeGuided}, target: ModeRTL},
	CommandGotoWaypoint: {from: []Mode{ModeAuto, ModeGuided}},
	CommandReset:        {from: []Mode{ModeEmergencyStopped}, target: ModeIdle},
}

// CommandPrecondition returns the mode the command drives the drone to, or
// ErrInvalidTransition when the command is not legal from the current mode.
// GOTO_WAYPOINT has no target mode.
func CommandPrecondition(kind CommandKind, current Mode) (Mode, error) {
	if kind == CommandEmergencyStop {
		return ModeEmergencyStopped, nil
	}
	rule, ok := commandRules[kind]
	if !ok {
		return "", ErrInvalid
	}
	for _, m := range rule.from {
		if m == current {
			return rule.target, nil
		}
	}
	return "", ErrInvalidTransition
}
