package awsrekognition

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/rekognition"
	"github.com/aws/aws-sdk-go-v2/service/rekognition/types"
	"go.uber.org/zap"

	"github.com/example/facefinder/internal/faceservice"
	"github.com/example/facefinder/internal/logging"
)

type stubAPI struct {
	input *rekognition.CompareFacesInput
	out   *rekognition.CompareFacesOutput
	err   error
}

func (s *stubAPI) CompareFaces(ctx context.Context, params *rekognition.CompareFacesInput, optFns ...func(*rekognition.Options)) (*rekognition.CompareFacesOutput, error) {
	s.input = params
	return s.out, s.err
}

func TestCompareFacesBuildsRequest(t *testing.T) {
	api := &stubAPI{out: &rekognition.CompareFacesOutput{}}
	client := New(api, zap.NewNop())

	resp, err := client.CompareFaces(context.Background(), faceservice.Request{
		Source:              []byte("source"),
		Target:              []byte("target"),
		SimilarityThreshold: faceservice.DefaultSimilarityThreshold,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(resp.FaceMatches) != 0 {
		t.Fatalf("expected no matches, got %d", len(resp.FaceMatches))
	}
	if !bytes.Equal(api.input.SourceImage.Bytes, []byte("source")) || !bytes.Equal(api.input.TargetImage.Bytes, []byte("target")) {
		t.Fatal("source and target bytes not forwarded")
	}
	if got := aws.ToFloat32(api.input.SimilarityThreshold); got != 80 {
		t.Fatalf("expected threshold 80, got %v", got)
	}
}

func TestCompareFacesConvertsMatches(t *testing.T) {
	api := &stubAPI{out: &rekognition.CompareFacesOutput{
		FaceMatches: []types.CompareFacesMatch{
			{
				Similarity: aws.Float32(99.5),
				Face: &types.ComparedFace{
					Confidence:  aws.Float32(99.9),
					BoundingBox: &types.BoundingBox{Left: aws.Float32(0.1), Top: aws.Float32(0.2), Width: aws.Float32(0.3), Height: aws.Float32(0.4)},
				},
			},
			{Similarity: aws.Float32(85)},
		},
	}}
	client := New(api, zap.NewNop())

	resp, err := client.CompareFaces(context.Background(), faceservice.Request{Source: []byte("a"), Target: []byte("b")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(resp.FaceMatches) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(resp.FaceMatches))
	}
	first := resp.FaceMatches[0]
	if first.Similarity != 99.5 || first.Confidence != 99.9 || first.BoundingBox.Height != 0.4 {
		t.Fatalf("unexpected first match: %+v", first)
	}
	if resp.FaceMatches[1].Similarity != 85 {
		t.Fatalf("unexpected second match: %+v", resp.FaceMatches[1])
	}
}

func TestCompareFacesWrapsErrors(t *testing.T) {
	cause := errors.New("InvalidParameterException: no face in source")
	client := New(&stubAPI{err: cause}, zap.NewNop())

	_, err := client.CompareFaces(context.Background(), faceservice.Request{})
	if !errors.Is(err, cause) {
		t.Fatalf("expected cause to be preserved, got %v", err)
	}
	var opErr *logging.OperationError
	if !errors.As(err, &opErr) || opErr.Operation != "rekognition.compare_faces" {
		t.Fatalf("expected OperationError, got %T", err)
	}
}
