// Package kms decrypts tenant Bedrock credentials. Production deployments
// use AWS KMS; development deployments can use a local AES-GCM key instead.
package kms

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awskms "github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/rs/zerolog"
)

// Decrypter turns a stored ciphertext back into credential plaintext. The
// plaintext goes to the in-memory key cache only, never to logs or the
// store.
type Decrypter interface {
	Decrypt(ctx context.Context, ciphertext []byte) ([]byte, error)
}

// DecryptAPI is the slice of the AWS KMS client the decrypter uses.
type DecryptAPI interface {
	Decrypt(ctx context.Context, in *awskms.DecryptInput, opts ...func(*awskms.Options)) (*awskms.DecryptOutput, error)
}

// AWSDecrypter decrypts via AWS KMS using the default credential chain.
type AWSDecrypter struct {
	client DecryptAPI
	keyID  string
}

// NewAWSDecrypter loads AWS configuration for the region and returns a
// KMS-backed decrypter. keyID may be empty for symmetric ciphertexts, which
// embed the key id.
func NewAWSDecrypter(ctx context.Context, region, keyID string, logger zerolog.Logger) (*AWSDecrypter, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("kms: load aws config: %w", err)
	}
	logger.Info().Str("region", region).Msg("aws kms decrypter ready")
	return &AWSDecrypter{client: awskms.NewFromConfig(awsCfg), keyID: keyID}, nil
}

// NewAWSDecrypterWithClient wires an explicit client. Used by tests.
func NewAWSDecrypterWithClient(client DecryptAPI, keyID string) *AWSDecrypter {
	return &AWSDecrypter{client: client, keyID: keyID}
}

// Decrypt implements Decrypter.
func (d *AWSDecrypter) Decrypt(ctx context.Context, ciphertext []byte) ([]byte, error) {
	in := &awskms.DecryptInput{CiphertextBlob: ciphertext}
	if d.keyID != "" {
		in.KeyId = aws.String(d.keyID)
	}
	out, err := d.client.Decrypt(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("kms: decrypt: %w", err)
	}
	return out.Plaintext, nil
}
