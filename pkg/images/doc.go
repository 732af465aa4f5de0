// Package images serves generated image objects from S3-compatible storage.
//
// Pixelmint stores generation output in an R2 bucket; this package wraps the
// aws-sdk-go-v2 S3 client with the custom-endpoint configuration R2 needs and
// exposes streaming fetch plus presigned download URLs.
package images
