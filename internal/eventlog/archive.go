package eventlog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Config holds the target bucket for archived logs.
type S3Config struct {
	Endpoint        string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	Prefix          string
}

// Uploader puts one object. *s3.Client satisfies it.
type Uploader interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// NewS3Client creates an S3 client for the given configuration. A custom
// endpoint selects path-style addressing for S3-compatible storage.
func NewS3Client(cfg S3Config) *s3.Client {
	creds := credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")

	options := []func(*s3.Options){
		func(o *s3.Options) {
			o.Credentials = creds
			o.Region = "auto"
		},
	}
	if cfg.Endpoint != "" {
		options = append(options, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	}
	return s3.New(s3.Options{}, options...)
}

// Archiver periodically rotates the event log and uploads the rotated
// file. Uploaded files are removed locally; failed uploads stay on disk
// and are retried on the next tick.
type Archiver struct {
	logger   *Logger
	client   Uploader
	bucket   string
	prefix   string
	interval time.Duration
}

// NewArchiver creates an archiver for logger.
func NewArchiver(logger *Logger, client Uploader, cfg S3Config, interval time.Duration) *Archiver {
	return &Archiver{
		logger:   logger,
		client:   client,
		bucket:   cfg.Bucket,
		prefix:   cfg.Prefix,
		interval: interval,
	}
}

// Run archives on every interval until ctx is done.
func (a *Archiver) Run(ctx context.Context) {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if err := a.Archive(ctx, now); err != nil {
				slog.Error("event log archive failed", "error", err)
			}
		}
	}
}

// Archive rotates the log and uploads every rotated file still on disk.
func (a *Archiver) Archive(ctx context.Context, now time.Time) error {
	if _, err := a.logger.Rotate(now); err != nil {
		return err
	}

	pending, err := filepath.Glob(a.logger.Path() + ".*")
	if err != nil {
		return fmt.Errorf("list rotated logs: %w", err)
	}

	var errs []error
	for _, file := range pending {
		if err := a.upload(ctx, file); err != nil {
			errs = append(errs, err)
			continue
		}
		if err := os.Remove(file); err != nil {
			slog.Warn("failed to remove archived log", "path", file, "error", err)
		}
	}
	return errors.Join(errs...)
}

// Key returns the object key for a rotated file.
func (a *Archiver) Key(file string) string {
	return path.Join(a.prefix, filepath.Base(file))
}

func (a *Archiver) upload(ctx context.Context, file string) error {
	ctx, cancel := context.WithTimeoutCause(ctx, 5*time.Minute, errors.New("s3 upload timeout"))
	defer cancel()

	f, err := os.Open(file)
	if err != nil {
		return fmt.Errorf("open %s: %w", file, err)
	}
	defer func() {
		if err := f.Close(); err != nil {
			slog.Warn("failed to close file after upload", "path", file, "error", err)
		}
	}()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", file, err)
	}

	key := a.Key(file)
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(a.bucket),
		Key:           aws.String(key),
		Body:          f,
		ContentLength: aws.Int64(info.Size()),
		ContentType:   aws.String("application/x-ndjson"),
	})
	if err != nil {
		return fmt.Errorf("upload %s: %w", key, err)
	}
	slog.Info("event log archived", "key", key, "bytes", info.Size())
	return nil
}
