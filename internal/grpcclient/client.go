package grpcclient

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/example/facefinder/internal/faceservice"
	"github.com/example/facefinder/internal/logging"
)

// CompareFacesMethod is the full gRPC method name served by a self-hosted
// comparison backend. Messages are google.protobuf.Struct values with the
// fields source_image, target_image (base64) and similarity_threshold on the
// way in, face_matches on the way out.
const CompareFacesMethod = "/facefinder.v1.FaceComparer/CompareFaces"

// DialFaceComparer returns a faceservice.Client backed by a gRPC comparison
// service at addr.
func DialFaceComparer(ctx context.Context, addr string, logger *zap.Logger) (faceservice.Client, *grpc.ClientConn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	conn, err := grpc.DialContext(
		dialCtx,
		addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithBlock(),
	)
	if err != nil {
		wrapped := logging.NewOperationError("grpcclient.dial_face_comparer", "", err)
		logger.Error("failed to dial face comparer", zap.Error(wrapped), zap.String("addr", addr))
		return nil, nil, wrapped
	}
	return NewFaceComparer(conn, logger), conn, nil
}

// NewFaceComparer wraps an established connection.
func NewFaceComparer(conn grpc.ClientConnInterface, logger *zap.Logger) faceservice.Client {
	return &grpcFaceComparer{conn: conn, logger: logger.Named("grpc_face_comparer")}
}

type grpcFaceComparer struct {
	conn   grpc.ClientConnInterface
	logger *zap.Logger
}

func (g *grpcFaceComparer) CompareFaces(ctx context.Context, req faceservice.Request) (*faceservice.Response, error) {
	in, err := structpb.NewStruct(map[string]interface{}{
		"source_image":         base64.StdEncoding.EncodeToString(req.Source),
		"target_image":         base64.StdEncoding.EncodeToString(req.Target),
		"similarity_threshold": float64(req.SimilarityThreshold),
	})
	if err != nil {
		return nil, logging.NewOperationError("grpcclient.encode_request", "", err)
	}

	out := &structpb.Struct{}
	if err := g.conn.Invoke(ctx, CompareFacesMethod, in, out); err != nil {
		wrapped := logging.NewOperationError("grpcclient.compare_faces", "", err)
		g.logger.Warn("face comparer call failed", zap.Error(wrapped))
		return nil, wrapped
	}

	resp, err := decodeResponse(out)
	if err != nil {
		return nil, logging.NewOperationError("grpcclient.decode_response", "", err)
	}
	return resp, nil
}

func decodeResponse(out *structpb.Struct) (*faceservice.Response, error) {
	resp := &faceservice.Response{FaceMatches: []faceservice.FaceMatch{}}
	field, ok := out.GetFields()["face_matches"]
	if !ok {
		return resp, nil
	}
	list := field.GetListValue()
	if list == nil {
		return nil, fmt.Errorf("face_matches is not a list")
	}
	for i, v := range list.GetValues() {
		item := v.GetStructValue()
		if item == nil {
			return nil, fmt.Errorf("face_matches[%d] is not an object", i)
		}
		fields := item.GetFields()
		match := faceservice.FaceMatch{
			Similarity: float32(fields["similarity"].GetNumberValue()),
			Confidence: float32(fields["confidence"].GetNumberValue()),
		}
		if box := fields["bounding_box"].GetStructValue(); box != nil {
			b := box.GetFields()
			match.BoundingBox = faceservice.BoundingBox{
				Left:   float32(b["left"].GetNumberValue()),
				Top:    float32(b["top"].GetNumberValue()),
				Width:  float32(b["width"].GetNumberValue()),
				Height: float32(b["height"].GetNumberValue()),
			}
		}
		resp.FaceMatches = append(resp.FaceMatches, match)
	}
	return resp, nil
}
