package convo

// State is one position in the per-user dialogue. The set is closed; dispatch
// switches over it exhaustively instead of falling back to a default handler.
type State int

const (
	StateIdle State = iota
	StateConfirmStart
	StateCollecting
	StateConfirmOverwrite
	StateConfirmCommit
	StateConfirmCorrectionStart
	StateChooseCorrectionKind
	StateChooseCorrectionTarget
	StateCorrectionCollecting
	StateConfirmCorrectionCommit
	StateConfirmOrderCorrectionStart
	StateChooseOrderCorrectionTarget
	StateOrderCorrectionCollecting
	StateConfirmOrderCorrectionCommit
)

var stateNames = map[State]string{
	StateIdle:                         "idle",
	StateConfirmStart:                 "confirm_start",
	StateCollecting:                   "collecting",
	StateConfirmOverwrite:             "confirm_overwrite",
	StateConfirmCommit:                "confirm_commit",
	StateConfirmCorrectionStart:       "confirm_correction_start",
	StateChooseCorrectionKind:         "choose_correction_kind",
	StateChooseCorrectionTarget:       "choose_correction_target",
	StateCorrectionCollecting:         "correction_collecting",
	StateConfirmCorrectionCommit:      "confirm_correction_commit",
	StateConfirmOrderCorrectionStart:  "confirm_order_correction_start",
	StateChooseOrderCorrectionTarget:  "choose_order_correction_target",
	StateOrderCorrectionCollecting:    "order_correction_collecting",
	StateConfirmOrderCorrectionCommit: "confirm_order_correction_commit",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "idle"
}

// ParseState maps a persisted state name back to a State. Unknown names map
// to idle so users with stale persisted states are never stuck.
func ParseState(name string) State {
	for s, n := range stateNames {
		if n == name {
			return s
		}
	}
	return StateIdle
}
