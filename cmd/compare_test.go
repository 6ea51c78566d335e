package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/example/facefinder/internal/faceservice"
	"github.com/example/facefinder/internal/screening"
)

// scriptedClient matches targets containing "match" and fails on "fail".
type scriptedClient struct{}

func (scriptedClient) CompareFaces(_ context.Context, req faceservice.Request) (*faceservice.Response, error) {
	switch {
	case bytes.Contains(req.Target, []byte("fail")):
		return nil, errors.New("InvalidParameterException")
	case bytes.Contains(req.Target, []byte("match")):
		return &faceservice.Response{FaceMatches: []faceservice.FaceMatch{{Similarity: 91.5}}}, nil
	default:
		return &faceservice.Response{}, nil
	}
}

func TestReadImagesPreservesOrder(t *testing.T) {
	dir := t.TempDir()
	var paths []string
	for _, name := range []string{"a", "b", "c", "d"} {
		path := filepath.Join(dir, name+".jpg")
		if err := os.WriteFile(path, []byte(name), 0o600); err != nil {
			t.Fatalf("failed to write %s: %v", path, err)
		}
		paths = append(paths, path)
	}

	images, err := readImages(context.Background(), paths)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i, want := range []string{"a", "b", "c", "d"} {
		if string(images[i]) != want {
			t.Fatalf("image %d: expected %q, got %q", i, want, images[i])
		}
	}
}

func TestReadImagesReportsMissingFile(t *testing.T) {
	_, err := readImages(context.Background(), []string{filepath.Join(t.TempDir(), "missing.jpg")})
	if err == nil || !strings.Contains(err.Error(), "missing.jpg") {
		t.Fatalf("expected error naming the file, got %v", err)
	}
}

func TestRunPassAndPrintResults(t *testing.T) {
	candidates := [][]byte{[]byte("match-1"), []byte("nobody"), []byte("match-2")}
	snap, err := runPass(context.Background(), scriptedClient{}, zap.NewNop(), []byte("ref"), candidates, screening.NopObserver{}, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snap.Status != screening.StatusDone || snap.MatchedCount != 2 {
		t.Fatalf("unexpected snapshot %+v", snap)
	}

	var out bytes.Buffer
	paths := []string{"/tmp/one.jpg", "/tmp/two.jpg", "/tmp/three.jpg"}
	if err := printResults(&out, paths, snap, false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	text := out.String()
	if !strings.Contains(text, "one.jpg") || !strings.Contains(text, "match (91.5%)") {
		t.Fatalf("unexpected output:\n%s", text)
	}
	if !strings.Contains(text, "Matched 2 of 3 photos") {
		t.Fatalf("expected matched count line, got:\n%s", text)
	}
}

func TestRunPassStopsAtFailure(t *testing.T) {
	candidates := [][]byte{[]byte("match"), []byte("fail"), []byte("match")}
	snap, err := runPass(context.Background(), scriptedClient{}, zap.NewNop(), []byte("ref"), candidates, screening.NopObserver{}, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snap.Status != screening.StatusError {
		t.Fatalf("expected error status, got %q", snap.Status)
	}

	var out bytes.Buffer
	if err := printResults(&out, []string{"a.jpg", "b.jpg", "c.jpg"}, snap, true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var decoded compareOutput
	if err := json.Unmarshal(out.Bytes(), &decoded); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if !decoded.Results[0].Compared || decoded.Results[1].Compared || decoded.Results[2].Compared {
		t.Fatalf("expected only the first candidate compared, got %+v", decoded.Results)
	}
	if decoded.ErrorMessage == "" {
		t.Fatal("expected error message")
	}
}

func TestRunPassRequiresCandidates(t *testing.T) {
	_, err := runPass(context.Background(), scriptedClient{}, zap.NewNop(), []byte("ref"), nil, screening.NopObserver{}, 0)
	var validationErr *screening.ValidationError
	if !errors.As(err, &validationErr) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
