package reader

import (
	"context"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// s3Client is the subset of *s3.Client this package depends on, so tests
// can substitute a fake.
type s3Client interface {
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Source reads a partitioned date=/hour=/symbol=/kind= (or flat
// ready/{kind}/{symbol}/) tree from an S3 bucket under Prefix.
type S3Source struct {
	Client    s3Client
	Bucket    string
	Prefix    string
	structure string
}

// NewS3Source creates an S3-backed Source using client for bucket, scoped
// to objects under prefix.
func NewS3Source(client *s3.Client, bucket, prefix string) *S3Source {
	return &S3Source{Client: client, Bucket: bucket, Prefix: prefix}
}

func (s *S3Source) StructureType() string {
	if s.structure == "" {
		return "unknown"
	}
	return s.structure
}

func (s *S3Source) ListPartitions(ctx context.Context, kind string, includePreview bool) ([]FileHandle, error) {
	var handles []FileHandle

	layers := []string{"ready"}
	if includePreview {
		layers = append(layers, "preview")
	}

	for _, layer := range layers {
		flatPrefix := joinKeys(s.Prefix, layer, kind) + "/"
		found, err := s.listUnder(ctx, flatPrefix, kind, layer, flatSymbolFromKey)
		if err != nil {
			return nil, err
		}
		handles = append(handles, found...)
	}
	if len(handles) > 0 {
		s.structure = "flat"
		return handles, nil
	}

	partitionedPrefix := s.Prefix
	found, err := s.listUnder(ctx, partitionedPrefix, kind, "ready", partitionedSymbolFromKey)
	if err != nil {
		return nil, err
	}
	if len(found) > 0 {
		s.structure = "partitioned"
		return found, nil
	}

	s.structure = "empty"
	return nil, nil
}

type symbolExtractor func(key, kind string) (symbol string, ok bool)

func (s *S3Source) listUnder(ctx context.Context, prefix, kind, layer string, extract symbolExtractor) ([]FileHandle, error) {
	var handles []FileHandle
	var token *string
	for {
		out, err := s.Client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(s.Bucket),
			Prefix:            aws.String(prefix),
			ContinuationToken: token,
		})
		if err != nil {
			// A missing prefix behaves like a missing directory: zero rows.
			return nil, nil
		}
		for _, obj := range out.Contents {
			key := aws.ToString(obj.Key)
			if !isDataFile(key) {
				continue
			}
			symbol, ok := extract(key, kind)
			if !ok {
				continue
			}
			handles = append(handles, s.handle(key, symbol, kind, layer))
		}
		if out.IsTruncated == nil || !*out.IsTruncated {
			break
		}
		token = out.NextContinuationToken
	}
	return handles, nil
}

func (s *S3Source) handle(key, symbol, kind, layer string) FileHandle {
	return FileHandle{
		Path:   key,
		Symbol: symbol,
		Kind:   kind,
		Layer:  layer,
		Open: func(ctx context.Context) (io.ReadCloser, error) {
			out, err := s.Client.GetObject(ctx, &s3.GetObjectInput{
				Bucket: aws.String(s.Bucket),
				Key:    aws.String(key),
			})
			if err != nil {
				return nil, err
			}
			return out.Body, nil
		},
	}
}

func joinKeys(parts ...string) string {
	filtered := parts[:0]
	for _, p := range parts {
		if p != "" {
			filtered = append(filtered, strings.Trim(p, "/"))
		}
	}
	return strings.Join(filtered, "/")
}

func flatSymbolFromKey(key, kind string) (string, bool) {
	segs := strings.Split(key, "/")
	for i, seg := range segs {
		if seg == kind && i+1 < len(segs) {
			return segs[i+1], true
		}
	}
	return "", false
}

func partitionedSymbolFromKey(key, kind string) (string, bool) {
	segs := strings.Split(key, "/")
	var symbol string
	var foundKind bool
	for _, seg := range segs {
		if strings.HasPrefix(seg, "symbol=") {
			symbol = strings.TrimPrefix(seg, "symbol=")
		}
		if seg == "kind="+kind {
			foundKind = true
		}
	}
	return symbol, foundKind && symbol != ""
}
