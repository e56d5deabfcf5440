package mqpub

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// sqsPolicy is the access policy document attached to a subscription queue.
// Statements are kept raw so ones this package does not understand survive a
// rewrite untouched.
type sqsPolicy struct {
	Version   string
	ID        string `json:"Id"`
	Statement []json.RawMessage
}

type sqsPolicyStatement struct {
	Sid       string
	Effect    string
	Principal map[string]string
	Action    string
	Resource  string
	Condition map[string]map[string]string
}

// allowsTopic reports whether the statement lets topicARN send to queueARN.
func (s *sqsPolicyStatement) allowsTopic(queueARN, topicARN string) bool {
	return s.Effect == "Allow" &&
		s.Principal["AWS"] == "*" &&
		s.Action == "SQS:SendMessage" &&
		s.Resource == queueARN &&
		s.Condition["ArnEquals"]["aws:SourceArn"] == topicARN
}

// AddPermission appends a statement letting topicARN send to queueARN, unless
// one is already there. It reports whether the policy changed.
func (policy *sqsPolicy) AddPermission(queueARN, topicARN string) bool {
	for _, raw := range policy.Statement {
		statement := new(sqsPolicyStatement)
		if err := json.Unmarshal(raw, statement); err != nil {
			continue
		}
		if statement.allowsTopic(queueARN, topicARN) {
			return false
		}
	}

	statementBytes, _ := json.Marshal(newSqsPolicyStatement(queueARN, topicARN, time.Now()))
	policy.Statement = append(policy.Statement, statementBytes)
	return true
}

func newSqsPolicyStatement(queueARN, topicARN string, now time.Time) *sqsPolicyStatement {
	return &sqsPolicyStatement{
		Sid:    fmt.Sprintf("Sid%s", strconv.FormatInt(now.UnixNano(), 10)),
		Effect: "Allow",
		Principal: map[string]string{
			"AWS": "*",
		},
		Action:   "SQS:SendMessage",
		Resource: queueARN,
		Condition: map[string]map[string]string{
			"ArnEquals": {
				"aws:SourceArn": topicARN,
			},
		},
	}
}

func newSqsPolicy(queueARN string) *sqsPolicy {
	return &sqsPolicy{
		Version: "2012-10-17",
		ID:      fmt.Sprintf("%s/SQSDefaultPolicy", queueARN),
	}
}

// parseSqsPolicy decodes the queue's current policy, or starts a fresh one
// when the queue has none.
func parseSqsPolicy(queueARN string, existing *string) (*sqsPolicy, error) {
	policy := newSqsPolicy(queueARN)
	if existing == nil || *existing == "" {
		return policy, nil
	}
	if err := json.Unmarshal([]byte(*existing), policy); err != nil {
		return nil, fmt.Errorf("decode queue policy: %w", err)
	}
	return policy, nil
}
