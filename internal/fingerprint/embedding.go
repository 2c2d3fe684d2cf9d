// Package fingerprint is a client for the face embedding server. The server
// detects faces in an uploaded image and returns a bounding box and an
// embedding for each of them.
package fingerprint

import (
	"bytes"
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"slices"
	"strings"
	"time"

	"github.com/kozaktomas/candy-kiosk/internal/facematch"
)

const (
	defaultEmbeddingURL   = "http://localhost:8000"
	defaultEmbeddingModel = "buffalo_l" // model name for reference only
	defaultRequestTimeout = 10 * time.Second
	uploadJPEGQuality     = 90
)

// ErrNoFace is returned by Embed when the server found no face in the image.
var ErrNoFace = facematch.ErrNoFace

// EmbeddingClient computes face embeddings using the embedding server
type EmbeddingClient struct {
	baseURL string
	model   string
	client  *http.Client
}

// NewEmbeddingClient creates a new embedding client
func NewEmbeddingClient(baseURL, model string) *EmbeddingClient {
	if baseURL == "" {
		baseURL = defaultEmbeddingURL
	}
	if model == "" {
		model = defaultEmbeddingModel
	}
	return &EmbeddingClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		model:   model,
		client:  &http.Client{Timeout: defaultRequestTimeout},
	}
}

// FaceDetection represents a single detected face
type FaceDetection struct {
	FaceIndex int       `json:"face_index"`
	Dim       int       `json:"dim"`
	Embedding []float32 `json:"embedding"`
	BBox      []float64 `json:"bbox"` // [x1, y1, x2, y2]
	DetScore  float64   `json:"det_score"`
}

// FaceResponse represents the response from the face embedding endpoint
type FaceResponse struct {
	FacesCount int             `json:"faces_count"`
	Faces      []FaceDetection `json:"faces"`
	Model      string          `json:"model"`
}

// uploadTypes maps the image types the server accepts to upload file names.
var uploadTypes = map[string]string{
	"image/jpeg": "frame.jpg",
	"image/png":  "frame.png",
	"image/bmp":  "frame.bmp",
}

// detectMIMEType sniffs the image type, falling back to octet-stream for
// anything the server does not accept.
func detectMIMEType(data []byte) string {
	ct := http.DetectContentType(data)
	if _, ok := uploadTypes[ct]; ok {
		return ct
	}
	return "application/octet-stream"
}

// imageForm builds a multipart form with imageData as its "file" part.
func imageForm(imageData []byte) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	ct := detectMIMEType(imageData)
	filename, ok := uploadTypes[ct]
	if !ok {
		filename = "frame.bin"
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filename))
	h.Set("Content-Type", ct)

	part, err := writer.CreatePart(h)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(imageData); err != nil {
		return nil, "", fmt.Errorf("failed to write image data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to close multipart writer: %w", err)
	}
	return &buf, writer.FormDataContentType(), nil
}

// postImage uploads imageData to endpoint and decodes the JSON reply into out.
func (c *EmbeddingClient) postImage(ctx context.Context, endpoint string, imageData []byte, out any) error {
	body, contentType, err := imageForm(imageData)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("embedding server error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

// ComputeFaceEmbeddings detects faces in an encoded image and computes their embeddings
func (c *EmbeddingClient) ComputeFaceEmbeddings(ctx context.Context, imageData []byte) (*FaceResponse, error) {
	var faceResp FaceResponse
	if err := c.postImage(ctx, "/embed/face", imageData, &faceResp); err != nil {
		return nil, err
	}
	return &faceResp, nil
}

func (c *EmbeddingClient) faces(ctx context.Context, img image.Image) ([]FaceDetection, error) {
	data, err := EncodeJPEG(img, uploadJPEGQuality)
	if err != nil {
		return nil, err
	}
	resp, err := c.ComputeFaceEmbeddings(ctx, data)
	if err != nil {
		return nil, err
	}
	faces := slices.Clone(resp.Faces)
	// Most confident face first.
	slices.SortStableFunc(faces, func(a, b FaceDetection) int {
		return cmp.Compare(b.DetScore, a.DetScore)
	})
	return faces, nil
}

// Detect returns the bounding boxes of all faces in img, most confident first.
func (c *EmbeddingClient) Detect(ctx context.Context, img image.Image) ([]facematch.BBox, error) {
	faces, err := c.faces(ctx, img)
	if err != nil {
		return nil, err
	}

	boxes := make([]facematch.BBox, 0, len(faces))
	for _, f := range faces {
		bbox, ok := facematch.BBoxFromFloats(f.BBox)
		if !ok {
			continue
		}
		bbox = bbox.ClampTo(img.Bounds())
		if bbox.Empty() {
			continue
		}
		boxes = append(boxes, bbox)
	}
	return boxes, nil
}

// Embed returns the embedding of the most confident face in img. The image
// is usually a crop around a face found by a detector.
func (c *EmbeddingClient) Embed(ctx context.Context, img image.Image) ([]float32, error) {
	faces, err := c.faces(ctx, img)
	if err != nil {
		return nil, err
	}
	for _, f := range faces {
		if len(f.Embedding) > 0 {
			return f.Embedding, nil
		}
	}
	return nil, ErrNoFace
}

// Model returns the model name being used
func (c *EmbeddingClient) Model() string {
	return c.model
}
