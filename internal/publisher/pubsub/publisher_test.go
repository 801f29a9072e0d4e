package pubsub

import (
	"context"
	"encoding/json"
	"testing"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

type typedEvent struct {
	Endpoint string `json:"endpoint"`
}

func (typedEvent) EventType() string { return "agent_restarted" }

func TestPublisherSendsJSONToTopic(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	srv := pstest.NewServer()
	defer srv.Close() //nolint:errcheck // test server

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	client, err := pubsub.NewClient(ctx, "test-project", option.WithGRPCConn(conn))
	require.NoError(t, err)
	defer client.Close() //nolint:errcheck // test client

	topic, err := client.CreateTopic(ctx, "agent-restarts")
	require.NoError(t, err)

	pub := &Publisher{topic: topic}
	id, err := pub.Publish(ctx, "agent-restarts", typedEvent{Endpoint: "http://a-1"})
	require.NoError(t, err)
	require.NotEmpty(t, id)
	require.NoError(t, pub.Close())

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	var got typedEvent
	require.NoError(t, json.Unmarshal(msgs[0].Data, &got))
	require.Equal(t, "http://a-1", got.Endpoint)
	require.Equal(t, "agent_restarted", msgs[0].Attributes["event_type"])
	require.Equal(t, "agent-restarts", msgs[0].Attributes["topic"])
}

func TestPublisherRequiresTopic(t *testing.T) {
	t.Parallel()

	_, err := (&Publisher{}).Publish(context.Background(), "t", map[string]string{})
	require.ErrorContains(t, err, "not configured")

	_, err = New(context.Background(), "", "topic")
	require.Error(t, err)
}

func TestPublisherRejectsUnmarshalablePayload(t *testing.T) {
	t.Parallel()

	pub := &Publisher{topic: nopTopic{}}
	_, err := pub.Publish(context.Background(), "t", make(chan int))
	require.ErrorContains(t, err, "marshal payload")
}

type nopTopic struct{}

func (nopTopic) Publish(context.Context, *pubsub.Message) *pubsub.PublishResult { return nil }
func (nopTopic) Stop() {}
