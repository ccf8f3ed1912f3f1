package config

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// maxSecretSize bounds how much of the secret object is read.
const maxSecretSize = 4096

var (
	loadDefaultAWSConfig = awsconfig.LoadDefaultConfig

	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) *s3.Client {
		return s3.NewFromConfig(cfg, optFns...)
	}
)

// LoadSecret replaces SecretKey with the contents of SecretObjectKey in
// S3Bucket when an object key is configured. Surrounding whitespace is
// trimmed; an empty object is an error.
func (c *Config) LoadSecret(ctx context.Context) error {
	if c.SecretObjectKey == "" {
		return nil
	}

	client, err := c.s3Client(ctx)
	if err != nil {
		return fmt.Errorf("s3 client: %w", err)
	}

	out, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.S3Bucket),
		Key:    aws.String(c.SecretObjectKey),
	})
	if err != nil {
		return fmt.Errorf("get secret object: %w", err)
	}
	defer out.Body.Close()

	b, err := io.ReadAll(io.LimitReader(out.Body, maxSecretSize))
	if err != nil {
		return fmt.Errorf("read secret object: %w", err)
	}

	secret := strings.TrimSpace(string(b))
	if secret == "" {
		return errors.New("secret object is empty")
	}
	c.SecretKey = secret
	return nil
}

func (c *Config) s3Client(ctx context.Context) (*s3.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(c.S3Region)}
	if c.S3RootUser != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			c.S3RootUser,
			c.S3RootPassword,
			"",
		)))
	}

	cfg, err := loadDefaultAWSConfig(ctx, opts...)
	if err != nil {
		return nil, err
	}

	return newS3ClientFromConfig(cfg, func(o *s3.Options) {
		if c.S3BaseEndpoint != "" {
			o.BaseEndpoint = aws.String(c.S3BaseEndpoint)
			o.UsePathStyle = true
		}
	}), nil
}
