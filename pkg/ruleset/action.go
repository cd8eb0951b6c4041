package ruleset

// Action is what happens once a question resolves: one of Goto, OPD or
// Terminate.
type Action interface {
	isAction()
}

// Goto queues one or more follow-up questions, in order.
type Goto struct {
	QIDs []string
}

// OPD ends the history-taking tree and starts the disposition tree.
type OPD struct{}

// Terminate ends the session. Departments may be empty.
type Terminate struct {
	Departments []string
	Severities  []string
	Reason      string
}

func (*Goto) isAction()      {}
func (*OPD) isAction()       {}
func (*Terminate) isAction() {}

// Severity returns the first severity id, or "" when none is set.
func (t *Terminate) Severity() string {
	if len(t.Severities) == 0 {
		return ""
	}
	return t.Severities[0]
}
