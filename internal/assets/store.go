// Package assets rehosts platform-served files (avatars, attachments,
// embeds, stickers) into S3-compatible storage so transcripts stay readable
// after the platform CDN expires its links.
package assets

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/polyctf/orgbot/internal/config"
	"github.com/polyctf/orgbot/internal/logging"
	"github.com/sethvargo/go-retry"
)

// s3API is the slice of the S3 client the store uses.
type s3API interface {
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	ListObjectVersions(ctx context.Context, params *s3.ListObjectVersionsInput, optFns ...func(*s3.Options)) (*s3.ListObjectVersionsOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Store uploads downloaded assets into a bucket, skipping re-uploads of
// content already present. The dedup set lives for the process lifetime:
// the same CDN URL exported twice in one run is downloaded once.
type Store struct {
	log        logging.Logger
	s3         s3API
	bucket     string
	httpClient *http.Client

	mu   sync.Mutex
	seen map[string]struct{}
}

func New(log logging.Logger, api s3API, bucket string, httpClient *http.Client) *Store {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	return &Store{
		log:        log,
		s3:         api,
		bucket:     bucket,
		httpClient: httpClient,
		seen:       map[string]struct{}{},
	}
}

// Dial builds a Store over a real S3 client from the bot configuration.
func Dial(ctx context.Context, log logging.Logger, cfg *config.Config) (*Store, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.S3Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.S3AccessKeyID,
			cfg.S3SecretKey,
			"",
		)))
	if err != nil {
		return nil, fmt.Errorf("loading s3 config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.S3BaseEndpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3BaseEndpoint)
		}
	})

	return New(log, client, cfg.S3Bucket, nil), nil
}

// TargetPath maps a CDN URL to its bucket key: the URL path with scheme and
// host stripped, under assets/. Two URLs differing only in host collapse to
// the same key.
func TargetPath(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return path.Join("assets", strings.Trim(rawURL, "/"))
	}
	return path.Join("assets", strings.Trim(parsed.Path, "/"))
}

// SaveURL downloads rawURL and stores it under targetPath (derived from the
// URL when empty), returning the path the transcript should reference. A
// 404/401/403/415 response means the asset is gone or not fetchable, which
// is not worth failing an export over: the original URL is returned
// unchanged. Any other failure is an error.
func (s *Store) SaveURL(ctx context.Context, rawURL, targetPath string) (string, error) {
	if targetPath == "" {
		targetPath = TargetPath(rawURL)
	}
	if !s.markSeen(targetPath) {
		return targetPath, nil
	}

	contents, skip, err := s.download(ctx, rawURL)
	if err != nil {
		return "", err
	}
	if skip {
		return rawURL, nil
	}

	if err := s.SaveContents(ctx, targetPath, contents); err != nil {
		return "", err
	}
	return targetPath, nil
}

// SaveContents uploads contents under targetPath. An existing object with a
// matching sha1 metadata hash is kept as is; a mismatching one has all its
// versions and delete markers removed before the new upload.
func (s *Store) SaveContents(ctx context.Context, targetPath string, contents []byte) error {
	sum := sha1.Sum(contents)
	sha := hex.EncodeToString(sum[:])

	existing, err := s.s3.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(targetPath),
	})
	if err != nil {
		return fmt.Errorf("listing objects at %s: %w", targetPath, err)
	}

	for _, obj := range existing.Contents {
		head, err := s.s3.HeadObject(ctx, &s3.HeadObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    obj.Key,
		})
		if err != nil {
			return fmt.Errorf("reading metadata of %s: %w", aws.ToString(obj.Key), err)
		}
		if head.Metadata["sha1"] == sha {
			s.log.Debug(ctx, "asset unchanged", "path", targetPath)
			return nil
		}
		if err := s.deleteAllVersions(ctx, targetPath, aws.ToString(obj.Key)); err != nil {
			return err
		}
	}

	s.log.Info(ctx, "uploading asset", "path", targetPath, "bytes", len(contents))
	_, err = s.s3.PutObject(ctx, &s3.PutObjectInput{
		Bucket:   aws.String(s.bucket),
		Key:      aws.String(targetPath),
		Body:     bytes.NewReader(contents),
		Metadata: map[string]string{"sha1": sha},
	})
	if err != nil {
		return fmt.Errorf("uploading %s: %w", targetPath, err)
	}
	return nil
}

// SaveJSON marshals v and stores it under targetPath.
func (s *Store) SaveJSON(ctx context.Context, targetPath string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", targetPath, err)
	}
	return s.SaveContents(ctx, targetPath, data)
}

// markSeen records targetPath in the dedup set, reporting whether it was new.
func (s *Store) markSeen(targetPath string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.seen[targetPath]; ok {
		return false
	}
	s.seen[targetPath] = struct{}{}
	return true
}

// download fetches rawURL. skip is true for the response codes that mean
// the asset should be left referenced by its original URL.
func (s *Store) download(ctx context.Context, rawURL string) (contents []byte, skip bool, err error) {
	backoff := retry.WithMaxRetries(3, retry.NewExponential(500*time.Millisecond))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return err
		}
		resp, err := s.httpClient.Do(req)
		if err != nil {
			return retry.RetryableError(err)
		}
		defer resp.Body.Close()

		switch resp.StatusCode {
		case http.StatusNotFound, http.StatusUnauthorized, http.StatusForbidden, http.StatusUnsupportedMediaType:
			skip = true
			return nil
		}
		if resp.StatusCode >= 500 {
			return retry.RetryableError(fmt.Errorf("downloading %s: status %d", rawURL, resp.StatusCode))
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return fmt.Errorf("downloading %s: status %d", rawURL, resp.StatusCode)
		}

		contents, err = io.ReadAll(resp.Body)
		return err
	})
	if err != nil {
		return nil, false, err
	}
	return contents, skip, nil
}

func (s *Store) deleteAllVersions(ctx context.Context, targetPath, key string) error {
	s.log.Info(ctx, "replacing out of date asset", "path", targetPath)
	versions, err := s.s3.ListObjectVersions(ctx, &s3.ListObjectVersionsInput{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(targetPath),
	})
	if err != nil {
		return fmt.Errorf("listing versions of %s: %w", targetPath, err)
	}

	var versionIDs []*string
	for _, v := range versions.Versions {
		versionIDs = append(versionIDs, v.VersionId)
	}
	for _, m := range versions.DeleteMarkers {
		versionIDs = append(versionIDs, m.VersionId)
	}
	for _, id := range versionIDs {
		_, err := s.s3.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket:    aws.String(s.bucket),
			Key:       aws.String(key),
			VersionId: id,
		})
		if err != nil {
			return fmt.Errorf("deleting stale version of %s: %w", key, err)
		}
	}
	return nil
}
