package pubsub

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carrotsystems/carrot/pkg/carrottypes"
)

type fakeSQS struct {
	messages []sqstypes.Message
	deleted  []string
}

func (f *fakeSQS) ReceiveMessage(ctx context.Context, input *sqs.ReceiveMessageInput, opts ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	msgs := f.messages
	f.messages = nil
	return &sqs.ReceiveMessageOutput{Messages: msgs}, nil
}

func (f *fakeSQS) DeleteMessage(ctx context.Context, input *sqs.DeleteMessageInput, opts ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	f.deleted = append(f.deleted, aws.ToString(input.ReceiptHandle))
	return &sqs.DeleteMessageOutput{}, nil
}

func TestPoll_HandlesAndDeletesSuccessfulMessage(t *testing.T) {
	fake := &fakeSQS{messages: []sqstypes.Message{
		{ReceiptHandle: aws.String("rh-1"), Body: aws.String(`{"kind":"carrot","test_name":"t1","head_commit":"abc123","owner":"o","repo":"r","issue_number":5,"author":"a"}`)},
	}}

	var gotTestName string
	handler := func(ctx context.Context, msg carrottypes.GitHubPubsubMessage) error {
		gotTestName = msg.TestName
		return nil
	}

	p := New(fake, handler, nil, carrottypes.GitHubConfig{QueueURL: "queue-url"})
	p.poll(context.Background())

	assert.Equal(t, "t1", gotTestName)
	require.Len(t, fake.deleted, 1)
	assert.Equal(t, "rh-1", fake.deleted[0])
}

func TestPoll_DoesNotDeleteWhenHandlerFails(t *testing.T) {
	fake := &fakeSQS{messages: []sqstypes.Message{
		{ReceiptHandle: aws.String("rh-2"), Body: aws.String(`{"kind":"carrot","test_name":"t1","head_commit":"abc123"}`)},
	}}

	var calls int32
	handler := func(ctx context.Context, msg carrottypes.GitHubPubsubMessage) error {
		atomic.AddInt32(&calls, 1)
		return assert.AnError
	}

	p := New(fake, handler, nil, carrottypes.GitHubConfig{QueueURL: "queue-url"})
	p.poll(context.Background())

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.Empty(t, fake.deleted)
}

func TestPoll_SkipsUndecodableMessageWithoutDeleting(t *testing.T) {
	fake := &fakeSQS{messages: []sqstypes.Message{
		{ReceiptHandle: aws.String("rh-3"), Body: aws.String(`not json`)},
	}}

	handler := func(ctx context.Context, msg carrottypes.GitHubPubsubMessage) error {
		t.Fatal("handler should not be called for an undecodable message")
		return nil
	}

	p := New(fake, handler, nil, carrottypes.GitHubConfig{QueueURL: "queue-url"})
	p.poll(context.Background())

	assert.Empty(t, fake.deleted)
}
