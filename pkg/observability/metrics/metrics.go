package metrics

import (
	"fmt"
	"net/http"
	"sync/atomic"
)

// Counters holds the service's in-process counters.
type Counters struct {
	SessionsCreated    atomic.Int64
	SessionsTerminated atomic.Int64
	SessionsCompleted  atomic.Int64
	SessionsDeleted    atomic.Int64
	AnswersAccepted    atomic.Int64
	AnswersRejected    atomic.Int64
	BackEdits          atomic.Int64
	FollowUpsGenerated atomic.Int64
	PipelinesDone      atomic.Int64
	Conflicts          atomic.Int64
	EventsFailed       atomic.Int64
}

func New() *Counters { return &Counters{} }

type counter struct {
	name string
	help string
	v    *atomic.Int64
}

func (c *Counters) all() []counter {
	return []counter{
		{"prescreen_sessions_created_total", "Sessions created.", &c.SessionsCreated},
		{"prescreen_sessions_terminated_total", "Sessions ended early by a rule.", &c.SessionsTerminated},
		{"prescreen_sessions_completed_total", "Sessions that finished every phase.", &c.SessionsCompleted},
		{"prescreen_sessions_deleted_total", "Sessions soft deleted.", &c.SessionsDeleted},
		{"prescreen_answers_accepted_total", "Answers applied to a session.", &c.AnswersAccepted},
		{"prescreen_answers_rejected_total", "Answers rejected as invalid for the session state.", &c.AnswersRejected},
		{"prescreen_back_edits_total", "Back edit and step back operations.", &c.BackEdits},
		{"prescreen_followups_generated_total", "Sessions that entered follow-up questioning.", &c.FollowUpsGenerated},
		{"prescreen_pipelines_done_total", "Sessions that reached the done stage.", &c.PipelinesDone},
		{"prescreen_conflicts_total", "Writes rejected because the session changed concurrently.", &c.Conflicts},
		{"prescreen_events_failed_total", "Lifecycle events that could not be published.", &c.EventsFailed},
	}
}

func (c *Counters) WritePrometheus(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	for _, m := range c.all() {
		fmt.Fprintf(w, "# HELP %s %s\n", m.name, m.help)
		fmt.Fprintf(w, "# TYPE %s counter\n", m.name)
		fmt.Fprintf(w, "%s %d\n", m.name, m.v.Load())
	}
}

// Handler serves the counters in Prometheus text format.
func (c *Counters) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		c.WritePrometheus(w)
	})
}
