package inventory

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/ec2"

	"github.com/yairfalse/awsdecomm/internal/config"
)

// NewEC2Client builds an EC2 client for one account from static credentials.
// The SDK's own retryer is disabled; retry.Policy owns the attempt budget.
func NewEC2Client(ctx context.Context, creds config.AccountCredentials) (*ec2.Client, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(creds.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(creds.AccessKey, creds.SecretKey, "")),
		awsconfig.WithRetryer(func() aws.Retryer { return aws.NopRetryer{} }),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config for %s: %w", creds.Label, err)
	}
	return ec2.NewFromConfig(cfg), nil
}
