// Package faceservice describes the external face comparison service the
// screening workflow depends on. Implementations live in
// faceservice/awsrekognition and grpcclient.
package faceservice

import "context"

//go:generate mockgen -destination=mocks/client.go -package=mocks github.com/example/facefinder/internal/faceservice Client

// DefaultSimilarityThreshold is the minimum similarity (0-100) a face pair
// needs before the service reports it as a match.
const DefaultSimilarityThreshold float32 = 80

// BoundingBox locates a face as ratios of the image dimensions.
type BoundingBox struct {
	Left   float32 `json:"left"`
	Top    float32 `json:"top"`
	Width  float32 `json:"width"`
	Height float32 `json:"height"`
}

// FaceMatch is one face in the target image that matched the source face.
type FaceMatch struct {
	Similarity  float32     `json:"similarity"`
	Confidence  float32     `json:"confidence"`
	BoundingBox BoundingBox `json:"bounding_box"`
}

// Request asks the service to compare the largest face in Source with every
// face in Target.
type Request struct {
	Source              []byte
	Target              []byte
	SimilarityThreshold float32
}

// Response lists the target faces at or above the threshold, in the order the
// service returned them. An empty list means no match.
type Response struct {
	FaceMatches []FaceMatch
}

// Client exposes the comparison call used by a screening pass.
type Client interface {
	CompareFaces(ctx context.Context, req Request) (*Response, error)
}
