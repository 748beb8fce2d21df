// Package httpclient provides the HTTP plumbing for loadcurve.
//
// The httpclient package covers:
//   - A pooled client tuned for bursts of concurrent requests to one host
//   - The inference request envelope, encoded once and shared by all requests
//
// # Payloads
//
// Use [LoadPayload] to encode an image file for classification or
// image-to-image inference:
//
//	payload, err := httpclient.LoadPayload("cat.png", httpclient.KindClassification, 3)
//	if err != nil {
//		return err
//	}
//
// The encoded body has the form
//
//	{"data":{"B64Image":{"image":"<base64>"}},"inference_type":{"ImageClassification":{"top_n":3}}}
//
// or, for image-to-image, "inference_type":"ImageToImage".
//
// # HTTP Client
//
// [NewClient] creates a client with connection reuse and a request timeout:
//
//	client := httpclient.NewClient(30 * time.Second)
package httpclient
