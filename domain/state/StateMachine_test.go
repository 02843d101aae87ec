package state_test

import (
	"flowdesk/domain/state"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("StateMachine", func() {
	var (
		stateMachine *state.StateMachine
	)

	BeforeEach(func() {
		//         PENDING      DOING         DONE
		// PENDING   -            V (begin)   V (close)
		// DOING     V (cancel)   -           V (finish)
		// DONE      V (reopen)   X			  -
		stateMachine = state.NewStateMachine(
			[]state.State{{Name: "PENDING"}, {Name: "DOING"}, {Name: "DONE"}},
			[]state.Transition{
				{Name: "begin", From: state.State{Name: "PENDING"}, To: state.State{Name: "DOING"}},
				{Name: "close", From: state.State{Name: "PENDING"}, To: state.State{Name: "DONE"}},
				{Name: "cancel", From: state.State{Name: "DOING"}, To: state.State{Name: "PENDING"}},
				{Name: "finish", From: state.State{Name: "DOING"}, To: state.State{Name: "DONE"}},
				{Name: "reopen", From: state.State{Name: "DONE"}, To: state.State{Name: "PENDING"}},
			})
	})

	Describe("AvailableTransitions", func() {
		It("should filter by source state", func() {
			Ω(stateMachine.AvailableTransitions("PENDING", "")).Should(Equal([]state.Transition{
				{Name: "begin", From: state.State{Name: "PENDING"}, To: state.State{Name: "DOING"}},
				{Name: "close", From: state.State{Name: "PENDING"}, To: state.State{Name: "DONE"}},
			}))
		})

		It("should filter by target state", func() {
			Ω(stateMachine.AvailableTransitions("", "PENDING")).Should(Equal([]state.Transition{
				{Name: "cancel", From: state.State{Name: "DOING"}, To: state.State{Name: "PENDING"}},
				{Name: "reopen", From: state.State{Name: "DONE"}, To: state.State{Name: "PENDING"}},
			}))
		})

		It("should return empty when no transition exists", func() {
			Ω(stateMachine.AvailableTransitions("DONE", "DOING")).Should(BeEmpty())
			Ω(stateMachine.CanTransit("DONE", "DOING")).Should(BeFalse())
			Ω(stateMachine.CanTransit("DOING", "DONE")).Should(BeTrue())
			Ω(stateMachine.CanTransit("", "DONE")).Should(BeFalse())
		})
	})

	Describe("State", func() {
		It("should find states by name", func() {
			s, found := stateMachine.State("DOING")
			Ω(found).Should(BeTrue())
			Ω(s.Name).Should(Equal("DOING"))
			_, found = stateMachine.State("UNKNOWN")
			Ω(found).Should(BeFalse())
		})
	})
})

var _ = Describe("TaskStateMachine", func() {
	m := state.TaskStateMachine

	It("should allow the task lifecycle", func() {
		Ω(m.CanTransit("PENDING", "ACTIVE")).Should(BeTrue())
		Ω(m.CanTransit("ACTIVE", "COMPLETED")).Should(BeTrue())
		Ω(m.CanTransit("ACTIVE", "SKIPPED")).Should(BeTrue())
		Ω(m.CanTransit("PENDING", "SKIPPED")).Should(BeTrue())
		Ω(m.CanTransit("ACTIVE", "DELAYED")).Should(BeTrue())
		Ω(m.CanTransit("DELAYED", "ACTIVE")).Should(BeTrue())
	})

	It("should never complete a delayed or terminal task", func() {
		Ω(m.CanTransit("DELAYED", "COMPLETED")).Should(BeFalse())
		Ω(m.CanTransit("PENDING", "COMPLETED")).Should(BeFalse())
		Ω(m.CanTransit("COMPLETED", "ACTIVE")).Should(BeFalse())
		Ω(m.CanTransit("SKIPPED", "ACTIVE")).Should(BeFalse())
		Ω(m.AvailableTransitions("COMPLETED", "")).Should(BeEmpty())
	})
})
