package tracker

import "time"

// Activity transitions. Every method here runs with s.mu held; timer
// callbacks re-acquire it and re-validate the agent before acting, so a
// timer that loses the race with removal or rotation is a no-op.

func (s *Supervisor) applyLine(a *Agent, ev LineEvent) {
	switch ev.Kind {
	case LineOperationStarted:
		s.operationStarted(a, ev.OperationID, ev.Label)
	case LineOperationCompleted:
		s.scheduleCompletion(a, ev.OperationID)
	case LineTurnEnded:
		s.turnEnded(a, ev.Debounced)
	case LineNewPrompt:
		s.newPrompt(a)
	}
}

func (s *Supervisor) operationStarted(a *Agent, opID, label string) {
	s.cancelDebounce(a)
	a.addOperation(opID, label)
	s.setActive(a)
	s.publish(Event{
		Type:        EventOperationStarted,
		AgentID:     a.ID,
		Node:        a.Node.Name,
		ProjectKey:  a.ProjectKey,
		OperationID: opID,
		Label:       label,
		Time:        time.Now(),
	})
}

// scheduleCompletion delays the completed notification so a start/completion
// pair landing in one read batch still shows a moment of activity instead of
// flickering in and out within the same lock hold.
func (s *Supervisor) scheduleCompletion(a *Agent, opID string) {
	if _, ok := a.activeOps[opID]; !ok {
		return
	}
	if _, pending := a.pendingCompletions[opID]; pending {
		return
	}
	agentID := a.ID
	a.pendingCompletions[opID] = time.AfterFunc(s.settings.CompletionDelay, func() {
		s.completeOperation(agentID, opID)
	})
}

func (s *Supervisor) completeOperation(agentID int, opID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.agents[agentID]
	if !ok || a.removed {
		return
	}
	if _, pending := a.pendingCompletions[opID]; !pending {
		return
	}
	delete(a.pendingCompletions, opID)
	a.removeOperation(opID)
	s.publish(Event{
		Type:        EventOperationCompleted,
		AgentID:     a.ID,
		Node:        a.Node.Name,
		ProjectKey:  a.ProjectKey,
		OperationID: opID,
		Time:        time.Now(),
	})
}

// turnEnded handles both flavors: a debounced text-only signal that waits
// out further output, and an immediate result record that settles the turn
// on the spot.
func (s *Supervisor) turnEnded(a *Agent, debounced bool) {
	if !debounced {
		s.cancelDebounce(a)
		s.clearOperations(a)
		s.setWaiting(a)
		return
	}

	s.cancelDebounce(a)
	gen := a.debounceGen
	agentID := a.ID
	a.debounceTimer = time.AfterFunc(s.settings.TurnDebounce, func() {
		s.debounceFired(agentID, gen)
	})
}

func (s *Supervisor) debounceFired(agentID int, gen int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.agents[agentID]
	if !ok || a.removed || a.debounceGen != gen {
		return
	}
	a.debounceTimer = nil
	// Operations that started after the text line keep the agent active.
	if len(a.activeOps) > 0 {
		return
	}
	s.setWaiting(a)
}

// newPrompt resets the turn: pending completions and operations belong to
// the previous exchange.
func (s *Supervisor) newPrompt(a *Agent) {
	s.cancelDebounce(a)
	for id, timer := range a.pendingCompletions {
		timer.Stop()
		delete(a.pendingCompletions, id)
	}
	s.clearOperations(a)
	s.setActive(a)
}

func (s *Supervisor) clearOperations(a *Agent) {
	for id, timer := range a.pendingCompletions {
		timer.Stop()
		delete(a.pendingCompletions, id)
	}
	if len(a.activeOps) == 0 {
		return
	}
	a.activeOps = make(map[string]string)
	a.opOrder = nil
	s.publish(Event{
		Type:       EventOperationsCleared,
		AgentID:    a.ID,
		Node:       a.Node.Name,
		ProjectKey: a.ProjectKey,
		Time:       time.Now(),
	})
}

func (s *Supervisor) cancelDebounce(a *Agent) {
	a.debounceGen++
	if a.debounceTimer != nil {
		a.debounceTimer.Stop()
		a.debounceTimer = nil
	}
}

func (s *Supervisor) setWaiting(a *Agent) {
	if a.waiting {
		return
	}
	a.waiting = true
	s.publish(Event{
		Type:       EventActivityChanged,
		AgentID:    a.ID,
		Node:       a.Node.Name,
		ProjectKey: a.ProjectKey,
		Activity:   ActivityWaiting,
		Time:       time.Now(),
	})
}

func (s *Supervisor) setActive(a *Agent) {
	if !a.waiting {
		return
	}
	a.waiting = false
	s.publish(Event{
		Type:       EventActivityChanged,
		AgentID:    a.ID,
		Node:       a.Node.Name,
		ProjectKey: a.ProjectKey,
		Activity:   ActivityActive,
		Time:       time.Now(),
	})
}
