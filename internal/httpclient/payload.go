package httpclient

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// InferenceKind selects the inference_type of the request envelope.
type InferenceKind string

const (
	KindClassification InferenceKind = "classification"
	KindImageToImage   InferenceKind = "img2img"
)

// DefaultTopN is the number of labels requested from classification.
const DefaultTopN = 3

// ParseInferenceKind maps a user supplied kind to an InferenceKind.
func ParseInferenceKind(s string) (InferenceKind, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "classification", "classify":
		return KindClassification, true
	case "img2img", "image2image", "imagetoimage":
		return KindImageToImage, true
	}
	return "", false
}

// BodySource produces request bodies.
type BodySource interface {
	NewReader() (io.ReadCloser, error)
	ContentLength() (int64, bool)
}

// Payload is an encoded inference request body. The bytes are produced once
// and shared read-only by every request.
type Payload struct {
	kind InferenceKind
	data []byte
}

type b64Image struct {
	Image string `json:"image"`
}

type imageData struct {
	B64Image b64Image `json:"B64Image"`
}

type classification struct {
	TopN int `json:"top_n"`
}

type envelope struct {
	Data          imageData `json:"data"`
	InferenceType any       `json:"inference_type"`
}

// NewPayload encodes raw image bytes into the inference envelope. topN is only
// used for classification and defaults to DefaultTopN when <= 0.
func NewPayload(image []byte, kind InferenceKind, topN int) (*Payload, error) {
	if len(image) == 0 {
		return nil, errors.New("payload image is empty")
	}

	env := envelope{
		Data: imageData{B64Image: b64Image{Image: base64.StdEncoding.EncodeToString(image)}},
	}
	switch kind {
	case KindClassification, "":
		if topN <= 0 {
			topN = DefaultTopN
		}
		kind = KindClassification
		env.InferenceType = map[string]classification{"ImageClassification": {TopN: topN}}
	case KindImageToImage:
		env.InferenceType = "ImageToImage"
	default:
		return nil, fmt.Errorf("unknown inference kind %q", kind)
	}

	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return &Payload{kind: kind, data: data}, nil
}

// LoadPayload reads an image file and encodes it with NewPayload.
func LoadPayload(path string, kind InferenceKind, topN int) (*Payload, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("image file is required")
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("image file: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("image file %q is a directory", path)
	}
	image, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("image file: %w", err)
	}
	return NewPayload(image, kind, topN)
}

// Kind returns the inference kind the payload was encoded for.
func (p *Payload) Kind() InferenceKind { return p.kind }

// Bytes returns a copy of the encoded body.
func (p *Payload) Bytes() []byte { return append([]byte(nil), p.data...) }

// Len is the encoded body size.
func (p *Payload) Len() int { return len(p.data) }

// NewReader returns a reader over the shared body.
func (p *Payload) NewReader() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(p.data)), nil
}

// ContentLength reports the fixed body length.
func (p *Payload) ContentLength() (int64, bool) {
	return int64(len(p.data)), true
}
