package state

type StateMachineTraits interface {
	AvailableTransitions(fromState string, toState string) []Transition
}

// stateless object, just used for state computing
type StateMachine struct {
	States      []State      `json:"states"`
	Transitions []Transition `json:"transitions"`
}

type Category uint

const (
	InBacklog Category = iota
	InProcess
	Suspended
	Done
)

type State struct {
	Name     string   `json:"name"`
	Category Category `json:"category"`
}

type Transition struct {
	Name string `json:"name"`
	From State  `json:"from"`
	To   State  `json:"to"`
}

func NewStateMachine(states []State, transitions []Transition) *StateMachine {
	return &StateMachine{States: states, Transitions: transitions}
}

// AvailableTransitions lists transitions matching both ends, an empty name matches any state.
func (sm *StateMachine) AvailableTransitions(fromState string, toState string) []Transition {
	r := []Transition{}
	for _, transition := range sm.Transitions {
		if (fromState == "" || fromState == transition.From.Name) && (toState == "" || toState == transition.To.Name) {
			r = append(r, transition)
		}
	}
	return r
}

func (sm *StateMachine) CanTransit(fromState string, toState string) bool {
	return fromState != "" && toState != "" && len(sm.AvailableTransitions(fromState, toState)) > 0
}

func (sm *StateMachine) State(name string) (State, bool) {
	for _, s := range sm.States {
		if s.Name == name {
			return s, true
		}
	}
	return State{}, false
}
