package config

import (
	"context"
	"crypto/tls"
	"os"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/yoockh/yoobatch/internal/utils"
)

// NewMongo connects to the batch run archive and pings it.
func NewMongo(ctx context.Context, uri string) (*mongo.Client, error) {
	const op = "config.NewMongo"

	// Context with timeout for initial connection
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	clientOpts := options.Client().ApplyURI(uri).
		SetServerSelectionTimeout(20 * time.Second).
		SetConnectTimeout(15 * time.Second).
		SetMaxPoolSize(10).
		SetMinPoolSize(1)

	// Atlas rejects some Go 1.24 TLS defaults; allow pinning TLS 1.2.
	if os.Getenv("MONGO_FORCE_TLS_CONFIG") == "true" {
		clientOpts = clientOpts.SetTLSConfig(&tls.Config{
			MinVersion: tls.VersionTLS12,
			MaxVersion: tls.VersionTLS12,
		})
	}

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, utils.E(utils.CodeUnavailable, op, "failed to connect to mongo", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, utils.E(utils.CodeUnavailable, op, "mongo ping failed", err)
	}
	return client, nil
}
