package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/synaptica-ai/prescreen/pkg/pipeline"
	"github.com/synaptica-ai/prescreen/pkg/ruleset"
	"github.com/synaptica-ai/prescreen/pkg/session"
)

const predictorPrompt = `You are assisting a clinical pre-screening intake.
From the interview below, list the most likely diagnoses with a confidence
between 0 and 1, the departments that should see the patient and the
urgency. Use only the department and severity ids listed. Reply with JSON
only:
{"diagnoses": [{"disease_id": "...", "confidence": 0.0}], "departments": ["dept..."], "severity": "sev..."}`

// Predictor asks the model for diagnoses and routing. Department and
// severity ids outside the catalog are dropped.
type Predictor struct {
	client      *Client
	departments map[string]ruleset.Department
	severities  map[string]ruleset.Severity
	reference   string
	log         logrus.FieldLogger
}

func NewPredictor(client *Client, catalog *ruleset.Catalog, log logrus.FieldLogger) *Predictor {
	p := &Predictor{
		client:      client,
		departments: map[string]ruleset.Department{},
		severities:  map[string]ruleset.Severity{},
		log:         log,
	}
	var b strings.Builder
	b.WriteString("Departments:\n")
	for _, d := range catalog.Departments() {
		p.departments[d.ID] = d
		fmt.Fprintf(&b, "- %s: %s\n", d.ID, d.Name)
	}
	b.WriteString("Severities (least to most urgent):\n")
	for _, s := range catalog.Severities() {
		p.severities[s.ID] = s
		fmt.Fprintf(&b, "- %s: %s\n", s.ID, s.Name)
	}
	p.reference = b.String()
	return p
}

func (p *Predictor) Predict(ctx context.Context, history []pipeline.QAPair) (pipeline.Prediction, error) {
	reply, err := p.client.Complete(ctx, predictorPrompt+"\n\n"+p.reference, renderHistory(history))
	if err != nil {
		return pipeline.Prediction{}, err
	}
	var parsed struct {
		Diagnoses []struct {
			DiseaseID  string   `json:"disease_id"`
			Confidence *float64 `json:"confidence"`
		} `json:"diagnoses"`
		Departments []string `json:"departments"`
		Severity    string   `json:"severity"`
	}
	if err := decodeJSON(reply, &parsed); err != nil {
		return pipeline.Prediction{}, err
	}

	out := pipeline.Prediction{Diagnoses: []session.Diagnosis{}}
	for _, d := range parsed.Diagnoses {
		if d.DiseaseID == "" {
			continue
		}
		if d.Confidence != nil && (*d.Confidence < 0 || *d.Confidence > 1) {
			d.Confidence = nil
		}
		out.Diagnoses = append(out.Diagnoses, session.Diagnosis{DiseaseID: d.DiseaseID, Confidence: d.Confidence})
	}
	for _, id := range parsed.Departments {
		if _, ok := p.departments[id]; !ok {
			p.log.WithField("department", id).Warn("Predicted department not in catalog")
			continue
		}
		out.Departments = append(out.Departments, id)
	}
	if parsed.Severity != "" {
		if _, ok := p.severities[parsed.Severity]; ok {
			out.Severity = parsed.Severity
		} else {
			p.log.WithField("severity", parsed.Severity).Warn("Predicted severity not in catalog")
		}
	}
	return out, nil
}

var _ pipeline.Predictor = (*Predictor)(nil)
