package cmd

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/example/facefinder/internal/config"
	"github.com/example/facefinder/internal/faceservice"
	"github.com/example/facefinder/internal/faceservice/awsrekognition"
	"github.com/example/facefinder/internal/grpcclient"
)

// newFaceClient builds the comparison client for the configured backend. The
// returned close function releases its connection.
func newFaceClient(ctx context.Context, cfg config.CompareConfig, logger *zap.Logger) (faceservice.Client, func() error, error) {
	switch cfg.Backend {
	case config.BackendRekognition:
		client, err := awsrekognition.NewFromConfig(ctx, cfg.AWSRegion, logger)
		if err != nil {
			return nil, nil, err
		}
		return client, func() error { return nil }, nil
	case config.BackendGRPC:
		client, conn, err := grpcclient.DialFaceComparer(ctx, cfg.ServiceAddr, logger)
		if err != nil {
			return nil, nil, err
		}
		return client, conn.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown compare backend %q", cfg.Backend)
	}
}
