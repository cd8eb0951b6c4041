package llm

import (
	"context"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/synaptica-ai/prescreen/pkg/pipeline"
)

const DefaultMaxQuestions = 5

const generatorPrompt = `You are assisting a clinical pre-screening intake.
Given the patient's answers so far, propose short follow-up questions that
would help a clinician narrow the differential diagnosis. Do not repeat
questions already answered. Reply with JSON only:
{"questions": ["..."]}`

type QuestionGenerator struct {
	client       *Client
	maxQuestions int
	log          logrus.FieldLogger
}

func NewQuestionGenerator(client *Client, maxQuestions int, log logrus.FieldLogger) *QuestionGenerator {
	if maxQuestions <= 0 {
		maxQuestions = DefaultMaxQuestions
	}
	return &QuestionGenerator{client: client, maxQuestions: maxQuestions, log: log}
}

// Generate returns at most maxQuestions non-blank, distinct questions.
func (g *QuestionGenerator) Generate(ctx context.Context, history []pipeline.QAPair) ([]string, error) {
	reply, err := g.client.Complete(ctx, generatorPrompt, renderHistory(history))
	if err != nil {
		return nil, err
	}
	var parsed struct {
		Questions []string `json:"questions"`
	}
	if err := decodeJSON(reply, &parsed); err != nil {
		return nil, err
	}

	seen := map[string]bool{}
	out := make([]string, 0, len(parsed.Questions))
	for _, q := range parsed.Questions {
		q = strings.TrimSpace(q)
		if q == "" || seen[q] {
			continue
		}
		seen[q] = true
		out = append(out, q)
		if len(out) == g.maxQuestions {
			break
		}
	}
	g.log.WithField("questions", len(out)).Debug("Follow-up questions generated")
	return out, nil
}

var _ pipeline.QuestionGenerator = (*QuestionGenerator)(nil)
