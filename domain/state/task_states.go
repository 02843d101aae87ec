package state

var (
	TaskPending   = State{Name: "PENDING", Category: InBacklog}
	TaskActive    = State{Name: "ACTIVE", Category: InProcess}
	TaskDelayed   = State{Name: "DELAYED", Category: Suspended}
	TaskCompleted = State{Name: "COMPLETED", Category: Done}
	TaskSkipped   = State{Name: "SKIPPED", Category: Done}

	// TaskStateMachine: DELAYED suspends an active task, COMPLETED and SKIPPED are terminal.
	TaskStateMachine = NewStateMachine(
		[]State{TaskPending, TaskActive, TaskDelayed, TaskCompleted, TaskSkipped},
		[]Transition{
			{Name: "activate", From: TaskPending, To: TaskActive},
			{Name: "complete", From: TaskActive, To: TaskCompleted},
			{Name: "skip", From: TaskActive, To: TaskSkipped},
			{Name: "skip", From: TaskPending, To: TaskSkipped},
			{Name: "delay", From: TaskActive, To: TaskDelayed},
			{Name: "resume", From: TaskDelayed, To: TaskActive},
		})
)
