package fingerprint

import (
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kozaktomas/candy-kiosk/internal/facematch"
)

func createTestImage(width, height int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for x := range width {
		for y := range height {
			img.Set(x, y, c)
		}
	}
	return img
}

func setupFaceServer(t *testing.T, resp FaceResponse, status int) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/embed/face", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			t.Errorf("expected multipart file: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		file.Close()
		if ct := header.Header.Get("Content-Type"); ct != "image/jpeg" {
			t.Errorf("expected image/jpeg part, got %s", ct)
		}

		if status != http.StatusOK {
			http.Error(w, "boom", status)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func TestEmbeddingClient_Detect(t *testing.T) {
	server := setupFaceServer(t, FaceResponse{
		FacesCount: 2,
		Faces: []FaceDetection{
			{FaceIndex: 0, BBox: []float64{5, 5, 20, 20}, DetScore: 0.6},
			{FaceIndex: 1, BBox: []float64{30.2, 10.7, 90, 200}, DetScore: 0.9},
		},
	}, http.StatusOK)

	client := NewEmbeddingClient(server.URL, "")
	boxes, err := client.Detect(context.Background(), createTestImage(100, 100, color.White))
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	if len(boxes) != 2 {
		t.Fatalf("expected 2 boxes, got %d", len(boxes))
	}

	// Most confident first, clamped to the image.
	want := facematch.BBox{X1: 30, Y1: 10, X2: 90, Y2: 100}
	if boxes[0] != want {
		t.Errorf("expected first box %+v, got %+v", want, boxes[0])
	}
}

func TestEmbeddingClient_DetectSkipsMalformedBoxes(t *testing.T) {
	server := setupFaceServer(t, FaceResponse{
		Faces: []FaceDetection{
			{BBox: []float64{1, 2, 3}},
			{BBox: []float64{200, 200, 300, 300}},
		},
	}, http.StatusOK)

	client := NewEmbeddingClient(server.URL, "")
	boxes, err := client.Detect(context.Background(), createTestImage(50, 50, color.White))
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	if len(boxes) != 0 {
		t.Errorf("expected no boxes, got %v", boxes)
	}
}

func TestEmbeddingClient_Embed(t *testing.T) {
	server := setupFaceServer(t, FaceResponse{
		Faces: []FaceDetection{
			{Embedding: []float32{0, 1}, DetScore: 0.4},
			{Embedding: []float32{1, 0}, DetScore: 0.8},
		},
	}, http.StatusOK)

	client := NewEmbeddingClient(server.URL, "")
	emb, err := client.Embed(context.Background(), createTestImage(40, 40, color.Black))
	if err != nil {
		t.Fatalf("Embed failed: %v", err)
	}
	if len(emb) != 2 || emb[0] != 1 {
		t.Errorf("expected embedding of the most confident face, got %v", emb)
	}
}

func TestEmbeddingClient_EmbedNoFace(t *testing.T) {
	server := setupFaceServer(t, FaceResponse{}, http.StatusOK)

	client := NewEmbeddingClient(server.URL, "")
	_, err := client.Embed(context.Background(), createTestImage(40, 40, color.Black))
	if !errors.Is(err, ErrNoFace) {
		t.Errorf("expected ErrNoFace, got %v", err)
	}
}

func TestEmbeddingClient_ServerError(t *testing.T) {
	server := setupFaceServer(t, FaceResponse{}, http.StatusInternalServerError)

	client := NewEmbeddingClient(server.URL, "")
	if _, err := client.Embed(context.Background(), createTestImage(10, 10, color.White)); err == nil {
		t.Error("expected error for server failure")
	}
}

func TestNewEmbeddingClient_Defaults(t *testing.T) {
	client := NewEmbeddingClient("http://example.com/", "")
	if client.baseURL != "http://example.com" {
		t.Errorf("expected trailing slash trimmed, got %s", client.baseURL)
	}
	if client.Model() != "buffalo_l" {
		t.Errorf("expected default model buffalo_l, got %s", client.Model())
	}
}

func TestDetectMIMEType(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want string
	}{
		{"jpeg", []byte{0xFF, 0xD8, 0xFF, 0xE0, 0, 0, 0, 0}, "image/jpeg"},
		{"png", []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}, "image/png"},
		{"bmp", []byte{0x42, 0x4D, 0, 0, 0, 0, 0, 0}, "image/bmp"},
		{"short", []byte{0xFF}, "application/octet-stream"},
		{"unknown", []byte{1, 2, 3, 4, 5, 6, 7, 8}, "application/octet-stream"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := detectMIMEType(tt.data); got != tt.want {
				t.Errorf("detectMIMEType() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestResizeImage(t *testing.T) {
	img := createTestImage(400, 200, color.White)

	resized := ResizeImage(img, 100)
	if b := resized.Bounds(); b.Dx() != 100 || b.Dy() != 50 {
		t.Errorf("expected 100x50, got %dx%d", b.Dx(), b.Dy())
	}

	if same := ResizeImage(img, 1000); same != image.Image(img) {
		t.Error("expected image within bounds to be returned unchanged")
	}
}

func TestEncodeDecodeJPEG(t *testing.T) {
	data, err := EncodeJPEG(createTestImage(16, 8, color.White), 85)
	if err != nil {
		t.Fatalf("EncodeJPEG failed: %v", err)
	}
	img, err := DecodeImage(data)
	if err != nil {
		t.Fatalf("DecodeImage failed: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 16 || b.Dy() != 8 {
		t.Errorf("expected 16x8, got %dx%d", b.Dx(), b.Dy())
	}

	if _, err := DecodeImage([]byte("not an image")); err == nil {
		t.Error("expected error for invalid data")
	}
}
