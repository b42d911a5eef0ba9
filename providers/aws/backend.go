// Package aws realizes templates on AWS. Services map to IAM roles and log
// groups, functions to Lambda, groups and routes to API Gateway HTTP APIs,
// and tables to DynamoDB.
package aws

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/apigatewayv2"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/yairfalse/fundeploy/providers"
)

// Name is the registry name of this backend
const Name = "aws"

// Backend implements providers.Primitives against AWS.
type Backend struct {
	region string

	// AWS clients (interfaces for testability)
	iamClient         IAMAPI
	lambdaClient      LambdaAPI
	logsClient        CloudWatchLogsAPI
	ec2Client         EC2API
	dynamodbClient    DynamoDBAPI
	sqsClient         SQSAPI
	s3Client          S3API
	apigatewayClient  APIGatewayAPI
	eventbridgeClient EventBridgeAPI

	// updateTimeout bounds the wait for a Lambda update to settle.
	updateTimeout time.Duration
	pollInterval  time.Duration
}

var _ providers.Primitives = (*Backend)(nil)

// Factory creates a backend from registry configuration
func Factory(ctx context.Context, cfg providers.Config) (providers.Primitives, error) {
	return New(ctx, cfg)
}

// New loads the default AWS configuration and creates every client.
// A non-empty Endpoint points all clients at an emulator such as LocalStack.
func New(ctx context.Context, cfg providers.Config) (*Backend, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.Endpoint != "" {
		opts = append(opts, config.WithBaseEndpoint(cfg.Endpoint))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	b := newBackend(awsCfg.Region)
	b.iamClient = iam.NewFromConfig(awsCfg)
	b.lambdaClient = lambda.NewFromConfig(awsCfg)
	b.logsClient = cloudwatchlogs.NewFromConfig(awsCfg)
	b.ec2Client = ec2.NewFromConfig(awsCfg)
	b.dynamodbClient = dynamodb.NewFromConfig(awsCfg)
	b.sqsClient = sqs.NewFromConfig(awsCfg)
	b.s3Client = s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.Endpoint != ""
	})
	b.apigatewayClient = apigatewayv2.NewFromConfig(awsCfg)
	b.eventbridgeClient = eventbridge.NewFromConfig(awsCfg)
	return b, nil
}

func newBackend(region string) *Backend {
	return &Backend{
		region:        region,
		updateTimeout: 2 * time.Minute,
		pollInterval:  time.Second,
	}
}

// Name returns the backend identifier.
func (b *Backend) Name() string {
	return Name
}
