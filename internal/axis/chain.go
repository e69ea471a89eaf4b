package axis

// ChainCapacity counts the terminating Undefined.
const ChainCapacity = 10

// TaskChain is the queue of states an axis will run, terminated by Undefined.
// The head is the current state.
type TaskChain struct {
	states [ChainCapacity]State
	n      int
}

func (c *TaskChain) Head() State {
	return c.states[0]
}

func (c *TaskChain) Len() int {
	return c.n
}

// States returns the queued states without the sentinel.
func (c *TaskChain) States() []State {
	out := make([]State, c.n)
	copy(out, c.states[:c.n])
	return out
}

// PushBack appends s. It fails when there is no room left for s and the
// sentinel.
func (c *TaskChain) PushBack(s State) error {
	if c.n+1 >= ChainCapacity {
		return ErrChainFull
	}
	c.states[c.n] = s
	c.n++
	c.states[c.n] = Undefined
	return nil
}

// PopFront drops the head and shifts the rest left.
func (c *TaskChain) PopFront() {
	if c.n == 0 {
		return
	}
	copy(c.states[:], c.states[1:])
	c.states[ChainCapacity-1] = Undefined
	c.n--
}

// Reset replaces the whole chain with the single state s.
func (c *TaskChain) Reset(s State) {
	*c = TaskChain{}
	if s != Undefined {
		c.states[0] = s
		c.n = 1
	}
}

// invalidateHead replaces the head with the sentinel, so the dispatch of this
// iteration fails.
func (c *TaskChain) invalidateHead() {
	c.states[0] = Undefined
}

// Plan expands a requested state into the chain that runs it.
func Plan(req State, cfg Config) (TaskChain, error) {
	var c TaskChain
	var states []State

	switch req {
	case StartupSequence:
		if cfg.StartupMotorCalibration {
			states = append(states, MotorCalibration)
		}
		if cfg.StartupEncoderCalibration {
			states = append(states, EncoderCalibration)
		}
		if cfg.StartupClosedLoopControl {
			states = append(states, ClosedLoopControl)
		} else if cfg.StartupSensorlessControl {
			states = append(states, SensorlessControl)
		}
		states = append(states, Idle)
	case FullCalibrationSequence:
		states = append(states, MotorCalibration, EncoderCalibration, Idle)
	default:
		states = append(states, req, Idle)
	}

	for _, s := range states {
		if err := c.PushBack(s); err != nil {
			return TaskChain{}, err
		}
	}
	return c, nil
}
