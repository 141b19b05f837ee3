package repository

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestMongoStore(t *testing.T) {
	uri := os.Getenv("TEST_MONGO_URI")
	if uri == "" {
		t.Skip("Skipping test: TEST_MONGO_URI not set")
	}
	client, err := NewMongoClient(context.Background(), uri)
	if err != nil {
		t.Skipf("Skipping test: mongo not available: %v", err)
	}
	db := client.Database("messaging_test_" + uuid.NewString()[:8])
	defer func() {
		_ = db.Drop(context.Background())
		_ = client.Disconnect(context.Background())
	}()

	store, err := NewMongoStore(context.Background(), db)
	require.NoError(t, err)

	t.Run("indexes are created", func(t *testing.T) {
		req := require.New(t)
		specs, err := db.Collection("messages").Indexes().ListSpecifications(context.Background())
		req.NoError(err)
		// _id plus the three message indexes
		req.Len(specs, 4)
	})

	runStoreContract(t, store)
}
