// Package awsrekognition adapts the AWS Rekognition CompareFaces API to
// faceservice.Client.
package awsrekognition

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/rekognition"
	"github.com/aws/aws-sdk-go-v2/service/rekognition/types"
	"go.uber.org/zap"

	"github.com/example/facefinder/internal/faceservice"
	"github.com/example/facefinder/internal/logging"
)

// API is the subset of the Rekognition client used here.
type API interface {
	CompareFaces(ctx context.Context, params *rekognition.CompareFacesInput, optFns ...func(*rekognition.Options)) (*rekognition.CompareFacesOutput, error)
}

// Client calls Rekognition once per comparison. Credentials come from the
// default AWS chain; retries are left to the SDK's retryer.
type Client struct {
	api    API
	logger *zap.Logger
}

// New wraps an existing Rekognition API client.
func New(api API, logger *zap.Logger) *Client {
	return &Client{api: api, logger: logger.Named("rekognition")}
}

// NewFromConfig loads the default AWS configuration for region and builds a
// Rekognition-backed client.
func NewFromConfig(ctx context.Context, region string, logger *zap.Logger) (*Client, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		wrapped := logging.NewOperationError("rekognition.load_config", "", err)
		logger.Error("failed to load AWS configuration", zap.Error(wrapped), zap.String("region", region))
		return nil, wrapped
	}
	return New(rekognition.NewFromConfig(cfg), logger), nil
}

// CompareFaces implements faceservice.Client.
func (c *Client) CompareFaces(ctx context.Context, req faceservice.Request) (*faceservice.Response, error) {
	out, err := c.api.CompareFaces(ctx, &rekognition.CompareFacesInput{
		SourceImage:         &types.Image{Bytes: req.Source},
		TargetImage:         &types.Image{Bytes: req.Target},
		SimilarityThreshold: aws.Float32(req.SimilarityThreshold),
	})
	if err != nil {
		wrapped := logging.NewOperationError("rekognition.compare_faces", "", err)
		c.logger.Warn("compare faces call failed", zap.Error(wrapped))
		return nil, wrapped
	}

	resp := &faceservice.Response{FaceMatches: make([]faceservice.FaceMatch, 0, len(out.FaceMatches))}
	for _, m := range out.FaceMatches {
		resp.FaceMatches = append(resp.FaceMatches, convertMatch(m))
	}
	return resp, nil
}

func convertMatch(m types.CompareFacesMatch) faceservice.FaceMatch {
	match := faceservice.FaceMatch{Similarity: aws.ToFloat32(m.Similarity)}
	if m.Face == nil {
		return match
	}
	match.Confidence = aws.ToFloat32(m.Face.Confidence)
	if box := m.Face.BoundingBox; box != nil {
		match.BoundingBox = faceservice.BoundingBox{
			Left:   aws.ToFloat32(box.Left),
			Top:    aws.ToFloat32(box.Top),
			Width:  aws.ToFloat32(box.Width),
			Height: aws.ToFloat32(box.Height),
		}
	}
	return match
}
