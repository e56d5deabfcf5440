package mqpub

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testQueueARN = "arn:aws:sqs:us-east-1:123456789012:orders-sub"
	testTopicARN = "arn:aws:sns:us-east-1:123456789012:orders"
)

func TestSqsPolicy_AddPermission(t *testing.T) {
	policy, err := parseSqsPolicy(testQueueARN, nil)
	require.NoError(t, err)
	assert.Equal(t, testQueueARN+"/SQSDefaultPolicy", policy.ID)

	require.True(t, policy.AddPermission(testQueueARN, testTopicARN))
	require.False(t, policy.AddPermission(testQueueARN, testTopicARN))
	require.Len(t, policy.Statement, 1)

	require.True(t, policy.AddPermission(testQueueARN, testTopicARN+"-other"))
	require.Len(t, policy.Statement, 2)
}

func TestSqsPolicy_KeepsForeignStatements(t *testing.T) {
	existing := `{
		"Version": "2012-10-17",
		"Id": "custom",
		"Statement": [{"Sid": "admin", "Effect": "Allow", "Action": "SQS:*", "Principal": {"AWS": "arn:aws:iam::123456789012:root"}}]
	}`

	policy, err := parseSqsPolicy(testQueueARN, &existing)
	require.NoError(t, err)
	assert.Equal(t, "custom", policy.ID)

	require.True(t, policy.AddPermission(testQueueARN, testTopicARN))

	raw, err := json.Marshal(policy)
	require.NoError(t, err)

	reparsed, err := parseSqsPolicy(testQueueARN, stringPtr(string(raw)))
	require.NoError(t, err)
	require.Len(t, reparsed.Statement, 2)
	assert.Contains(t, string(reparsed.Statement[0]), `"admin"`)
	assert.False(t, reparsed.AddPermission(testQueueARN, testTopicARN))
}

func TestSqsPolicy_BadJSON(t *testing.T) {
	_, err := parseSqsPolicy(testQueueARN, stringPtr("{"))
	require.Error(t, err)
}

func stringPtr(s string) *string { return &s }
