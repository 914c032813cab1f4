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

	"github.com/JakeFAU/terrain-tiler/internal/publisher"
)

func TestPublisherSendsTileBuilt(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	client, err := pubsub.NewClient(ctx, "terrain", option.WithGRPCConn(conn))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	topic, err := client.CreateTopic(ctx, "tiles")
	require.NoError(t, err)

	pub := New(topic)
	defer pub.Stop()

	id, err := pub.Publish(ctx, publisher.TileBuilt{
		RunID:    "run-1",
		Tile:     "+45-123",
		URI:      "gs://tiles/+45-123.txt",
		Polygons: 4,
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, "+45-123", msgs[0].Attributes["tile"])
	require.Equal(t, "run-1", msgs[0].Attributes["run_id"])

	var got publisher.TileBuilt
	require.NoError(t, json.Unmarshal(msgs[0].Data, &got))
	require.Equal(t, 4, got.Polygons)
	require.Equal(t, "gs://tiles/+45-123.txt", got.URI)
}

func TestPublisherWithoutTopic(t *testing.T) {
	t.Parallel()

	_, err := New(nil).Publish(context.Background(), publisher.TileBuilt{})
	require.Error(t, err)
}

func TestDialRequiresIdentifiers(t *testing.T) {
	t.Parallel()

	_, _, err := Dial(context.Background(), "", "tiles")
	require.Error(t, err)
}
