package aws

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/apigatewayv2"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/smithy-go"
)

func apiError(code string) error {
	return &smithy.GenericAPIError{Code: code, Message: code, Fault: smithy.FaultClient}
}

type mocks struct {
	iam         *mockIAMClient
	lambda      *mockLambdaClient
	logs        *mockLogsClient
	ec2         *mockEC2Client
	dynamodb    *mockDynamoDBClient
	sqs         *mockSQSClient
	s3          *mockS3Client
	apigateway  *mockAPIGatewayClient
	eventbridge *mockEventBridgeClient
}

func newTestBackend() (*Backend, *mocks) {
	m := &mocks{
		iam:         &mockIAMClient{},
		lambda:      &mockLambdaClient{},
		logs:        &mockLogsClient{},
		ec2:         &mockEC2Client{},
		dynamodb:    &mockDynamoDBClient{},
		sqs:         &mockSQSClient{},
		s3:          &mockS3Client{},
		apigateway:  &mockAPIGatewayClient{},
		eventbridge: &mockEventBridgeClient{},
	}
	b := newBackend("us-east-1")
	b.pollInterval = time.Millisecond
	b.updateTimeout = 50 * time.Millisecond
	b.iamClient = m.iam
	b.lambdaClient = m.lambda
	b.logsClient = m.logs
	b.ec2Client = m.ec2
	b.dynamodbClient = m.dynamodb
	b.sqsClient = m.sqs
	b.s3Client = m.s3
	b.apigatewayClient = m.apigateway
	b.eventbridgeClient = m.eventbridge
	return b, m
}

// mockIAMClient implements IAMAPI for testing.
type mockIAMClient struct {
	GetRoleFunc          func(ctx context.Context, params *iam.GetRoleInput, optFns ...func(*iam.Options)) (*iam.GetRoleOutput, error)
	CreateRoleFunc       func(ctx context.Context, params *iam.CreateRoleInput, optFns ...func(*iam.Options)) (*iam.CreateRoleOutput, error)
	AttachRolePolicyFunc func(ctx context.Context, params *iam.AttachRolePolicyInput, optFns ...func(*iam.Options)) (*iam.AttachRolePolicyOutput, error)
	PutRolePolicyFunc    func(ctx context.Context, params *iam.PutRolePolicyInput, optFns ...func(*iam.Options)) (*iam.PutRolePolicyOutput, error)
}

func (m *mockIAMClient) GetRole(ctx context.Context, params *iam.GetRoleInput, optFns ...func(*iam.Options)) (*iam.GetRoleOutput, error) {
	if m.GetRoleFunc != nil {
		return m.GetRoleFunc(ctx, params, optFns...)
	}
	return &iam.GetRoleOutput{}, nil
}

func (m *mockIAMClient) CreateRole(ctx context.Context, params *iam.CreateRoleInput, optFns ...func(*iam.Options)) (*iam.CreateRoleOutput, error) {
	if m.CreateRoleFunc != nil {
		return m.CreateRoleFunc(ctx, params, optFns...)
	}
	return &iam.CreateRoleOutput{}, nil
}

func (m *mockIAMClient) AttachRolePolicy(ctx context.Context, params *iam.AttachRolePolicyInput, optFns ...func(*iam.Options)) (*iam.AttachRolePolicyOutput, error) {
	if m.AttachRolePolicyFunc != nil {
		return m.AttachRolePolicyFunc(ctx, params, optFns...)
	}
	return &iam.AttachRolePolicyOutput{}, nil
}

func (m *mockIAMClient) PutRolePolicy(ctx context.Context, params *iam.PutRolePolicyInput, optFns ...func(*iam.Options)) (*iam.PutRolePolicyOutput, error) {
	if m.PutRolePolicyFunc != nil {
		return m.PutRolePolicyFunc(ctx, params, optFns...)
	}
	return &iam.PutRolePolicyOutput{}, nil
}

// mockLambdaClient implements LambdaAPI for testing.
type mockLambdaClient struct {
	GetFunctionFunc                 func(ctx context.Context, params *lambda.GetFunctionInput, optFns ...func(*lambda.Options)) (*lambda.GetFunctionOutput, error)
	CreateFunctionFunc              func(ctx context.Context, params *lambda.CreateFunctionInput, optFns ...func(*lambda.Options)) (*lambda.CreateFunctionOutput, error)
	UpdateFunctionCodeFunc          func(ctx context.Context, params *lambda.UpdateFunctionCodeInput, optFns ...func(*lambda.Options)) (*lambda.UpdateFunctionCodeOutput, error)
	UpdateFunctionConfigurationFunc func(ctx context.Context, params *lambda.UpdateFunctionConfigurationInput, optFns ...func(*lambda.Options)) (*lambda.UpdateFunctionConfigurationOutput, error)
	AddPermissionFunc               func(ctx context.Context, params *lambda.AddPermissionInput, optFns ...func(*lambda.Options)) (*lambda.AddPermissionOutput, error)
	GetFunctionUrlConfigFunc        func(ctx context.Context, params *lambda.GetFunctionUrlConfigInput, optFns ...func(*lambda.Options)) (*lambda.GetFunctionUrlConfigOutput, error)
	CreateFunctionUrlConfigFunc     func(ctx context.Context, params *lambda.CreateFunctionUrlConfigInput, optFns ...func(*lambda.Options)) (*lambda.CreateFunctionUrlConfigOutput, error)
	ListEventSourceMappingsFunc     func(ctx context.Context, params *lambda.ListEventSourceMappingsInput, optFns ...func(*lambda.Options)) (*lambda.ListEventSourceMappingsOutput, error)
	CreateEventSourceMappingFunc    func(ctx context.Context, params *lambda.CreateEventSourceMappingInput, optFns ...func(*lambda.Options)) (*lambda.CreateEventSourceMappingOutput, error)
}

func (m *mockLambdaClient) GetFunction(ctx context.Context, params *lambda.GetFunctionInput, optFns ...func(*lambda.Options)) (*lambda.GetFunctionOutput, error) {
	if m.GetFunctionFunc != nil {
		return m.GetFunctionFunc(ctx, params, optFns...)
	}
	return &lambda.GetFunctionOutput{}, nil
}

func (m *mockLambdaClient) CreateFunction(ctx context.Context, params *lambda.CreateFunctionInput, optFns ...func(*lambda.Options)) (*lambda.CreateFunctionOutput, error) {
	if m.CreateFunctionFunc != nil {
		return m.CreateFunctionFunc(ctx, params, optFns...)
	}
	return &lambda.CreateFunctionOutput{}, nil
}

func (m *mockLambdaClient) UpdateFunctionCode(ctx context.Context, params *lambda.UpdateFunctionCodeInput, optFns ...func(*lambda.Options)) (*lambda.UpdateFunctionCodeOutput, error) {
	if m.UpdateFunctionCodeFunc != nil {
		return m.UpdateFunctionCodeFunc(ctx, params, optFns...)
	}
	return &lambda.UpdateFunctionCodeOutput{}, nil
}

func (m *mockLambdaClient) UpdateFunctionConfiguration(ctx context.Context, params *lambda.UpdateFunctionConfigurationInput, optFns ...func(*lambda.Options)) (*lambda.UpdateFunctionConfigurationOutput, error) {
	if m.UpdateFunctionConfigurationFunc != nil {
		return m.UpdateFunctionConfigurationFunc(ctx, params, optFns...)
	}
	return &lambda.UpdateFunctionConfigurationOutput{}, nil
}

func (m *mockLambdaClient) AddPermission(ctx context.Context, params *lambda.AddPermissionInput, optFns ...func(*lambda.Options)) (*lambda.AddPermissionOutput, error) {
	if m.AddPermissionFunc != nil {
		return m.AddPermissionFunc(ctx, params, optFns...)
	}
	return &lambda.AddPermissionOutput{}, nil
}

func (m *mockLambdaClient) GetFunctionUrlConfig(ctx context.Context, params *lambda.GetFunctionUrlConfigInput, optFns ...func(*lambda.Options)) (*lambda.GetFunctionUrlConfigOutput, error) {
	if m.GetFunctionUrlConfigFunc != nil {
		return m.GetFunctionUrlConfigFunc(ctx, params, optFns...)
	}
	return &lambda.GetFunctionUrlConfigOutput{}, nil
}

func (m *mockLambdaClient) CreateFunctionUrlConfig(ctx context.Context, params *lambda.CreateFunctionUrlConfigInput, optFns ...func(*lambda.Options)) (*lambda.CreateFunctionUrlConfigOutput, error) {
	if m.CreateFunctionUrlConfigFunc != nil {
		return m.CreateFunctionUrlConfigFunc(ctx, params, optFns...)
	}
	return &lambda.CreateFunctionUrlConfigOutput{}, nil
}

func (m *mockLambdaClient) ListEventSourceMappings(ctx context.Context, params *lambda.ListEventSourceMappingsInput, optFns ...func(*lambda.Options)) (*lambda.ListEventSourceMappingsOutput, error) {
	if m.ListEventSourceMappingsFunc != nil {
		return m.ListEventSourceMappingsFunc(ctx, params, optFns...)
	}
	return &lambda.ListEventSourceMappingsOutput{}, nil
}

func (m *mockLambdaClient) CreateEventSourceMapping(ctx context.Context, params *lambda.CreateEventSourceMappingInput, optFns ...func(*lambda.Options)) (*lambda.CreateEventSourceMappingOutput, error) {
	if m.CreateEventSourceMappingFunc != nil {
		return m.CreateEventSourceMappingFunc(ctx, params, optFns...)
	}
	return &lambda.CreateEventSourceMappingOutput{}, nil
}

// mockLogsClient implements CloudWatchLogsAPI for testing.
type mockLogsClient struct {
	CreateLogGroupFunc func(ctx context.Context, params *cloudwatchlogs.CreateLogGroupInput, optFns ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.CreateLogGroupOutput, error)
}

func (m *mockLogsClient) CreateLogGroup(ctx context.Context, params *cloudwatchlogs.CreateLogGroupInput, optFns ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.CreateLogGroupOutput, error) {
	if m.CreateLogGroupFunc != nil {
		return m.CreateLogGroupFunc(ctx, params, optFns...)
	}
	return &cloudwatchlogs.CreateLogGroupOutput{}, nil
}

// mockEC2Client implements EC2API for testing.
type mockEC2Client struct {
	DescribeVpcsFunc    func(ctx context.Context, params *ec2.DescribeVpcsInput, optFns ...func(*ec2.Options)) (*ec2.DescribeVpcsOutput, error)
	DescribeSubnetsFunc func(ctx context.Context, params *ec2.DescribeSubnetsInput, optFns ...func(*ec2.Options)) (*ec2.DescribeSubnetsOutput, error)
}

func (m *mockEC2Client) DescribeVpcs(ctx context.Context, params *ec2.DescribeVpcsInput, optFns ...func(*ec2.Options)) (*ec2.DescribeVpcsOutput, error) {
	if m.DescribeVpcsFunc != nil {
		return m.DescribeVpcsFunc(ctx, params, optFns...)
	}
	return &ec2.DescribeVpcsOutput{}, nil
}

func (m *mockEC2Client) DescribeSubnets(ctx context.Context, params *ec2.DescribeSubnetsInput, optFns ...func(*ec2.Options)) (*ec2.DescribeSubnetsOutput, error) {
	if m.DescribeSubnetsFunc != nil {
		return m.DescribeSubnetsFunc(ctx, params, optFns...)
	}
	return &ec2.DescribeSubnetsOutput{}, nil
}

// mockDynamoDBClient implements DynamoDBAPI for testing.
type mockDynamoDBClient struct {
	DescribeTableFunc func(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
	CreateTableFunc   func(ctx context.Context, params *dynamodb.CreateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error)
}

func (m *mockDynamoDBClient) DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error) {
	if m.DescribeTableFunc != nil {
		return m.DescribeTableFunc(ctx, params, optFns...)
	}
	return &dynamodb.DescribeTableOutput{}, nil
}

func (m *mockDynamoDBClient) CreateTable(ctx context.Context, params *dynamodb.CreateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error) {
	if m.CreateTableFunc != nil {
		return m.CreateTableFunc(ctx, params, optFns...)
	}
	return &dynamodb.CreateTableOutput{}, nil
}

// mockSQSClient implements SQSAPI for testing.
type mockSQSClient struct {
	CreateQueueFunc        func(ctx context.Context, params *sqs.CreateQueueInput, optFns ...func(*sqs.Options)) (*sqs.CreateQueueOutput, error)
	GetQueueAttributesFunc func(ctx context.Context, params *sqs.GetQueueAttributesInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueAttributesOutput, error)
}

func (m *mockSQSClient) CreateQueue(ctx context.Context, params *sqs.CreateQueueInput, optFns ...func(*sqs.Options)) (*sqs.CreateQueueOutput, error) {
	if m.CreateQueueFunc != nil {
		return m.CreateQueueFunc(ctx, params, optFns...)
	}
	return &sqs.CreateQueueOutput{}, nil
}

func (m *mockSQSClient) GetQueueAttributes(ctx context.Context, params *sqs.GetQueueAttributesInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueAttributesOutput, error) {
	if m.GetQueueAttributesFunc != nil {
		return m.GetQueueAttributesFunc(ctx, params, optFns...)
	}
	return &sqs.GetQueueAttributesOutput{}, nil
}

// mockS3Client implements S3API for testing.
type mockS3Client struct {
	GetBucketNotificationConfigurationFunc func(ctx context.Context, params *s3.GetBucketNotificationConfigurationInput, optFns ...func(*s3.Options)) (*s3.GetBucketNotificationConfigurationOutput, error)
	PutBucketNotificationConfigurationFunc func(ctx context.Context, params *s3.PutBucketNotificationConfigurationInput, optFns ...func(*s3.Options)) (*s3.PutBucketNotificationConfigurationOutput, error)
}

func (m *mockS3Client) GetBucketNotificationConfiguration(ctx context.Context, params *s3.GetBucketNotificationConfigurationInput, optFns ...func(*s3.Options)) (*s3.GetBucketNotificationConfigurationOutput, error) {
	if m.GetBucketNotificationConfigurationFunc != nil {
		return m.GetBucketNotificationConfigurationFunc(ctx, params, optFns...)
	}
	return &s3.GetBucketNotificationConfigurationOutput{}, nil
}

func (m *mockS3Client) PutBucketNotificationConfiguration(ctx context.Context, params *s3.PutBucketNotificationConfigurationInput, optFns ...func(*s3.Options)) (*s3.PutBucketNotificationConfigurationOutput, error) {
	if m.PutBucketNotificationConfigurationFunc != nil {
		return m.PutBucketNotificationConfigurationFunc(ctx, params, optFns...)
	}
	return &s3.PutBucketNotificationConfigurationOutput{}, nil
}

// mockAPIGatewayClient implements APIGatewayAPI for testing.
type mockAPIGatewayClient struct {
	GetApisFunc           func(ctx context.Context, params *apigatewayv2.GetApisInput, optFns ...func(*apigatewayv2.Options)) (*apigatewayv2.GetApisOutput, error)
	CreateApiFunc         func(ctx context.Context, params *apigatewayv2.CreateApiInput, optFns ...func(*apigatewayv2.Options)) (*apigatewayv2.CreateApiOutput, error)
	GetRoutesFunc         func(ctx context.Context, params *apigatewayv2.GetRoutesInput, optFns ...func(*apigatewayv2.Options)) (*apigatewayv2.GetRoutesOutput, error)
	CreateRouteFunc       func(ctx context.Context, params *apigatewayv2.CreateRouteInput, optFns ...func(*apigatewayv2.Options)) (*apigatewayv2.CreateRouteOutput, error)
	UpdateRouteFunc       func(ctx context.Context, params *apigatewayv2.UpdateRouteInput, optFns ...func(*apigatewayv2.Options)) (*apigatewayv2.UpdateRouteOutput, error)
	CreateIntegrationFunc func(ctx context.Context, params *apigatewayv2.CreateIntegrationInput, optFns ...func(*apigatewayv2.Options)) (*apigatewayv2.CreateIntegrationOutput, error)
	UpdateIntegrationFunc func(ctx context.Context, params *apigatewayv2.UpdateIntegrationInput, optFns ...func(*apigatewayv2.Options)) (*apigatewayv2.UpdateIntegrationOutput, error)
	GetStageFunc          func(ctx context.Context, params *apigatewayv2.GetStageInput, optFns ...func(*apigatewayv2.Options)) (*apigatewayv2.GetStageOutput, error)
	CreateStageFunc       func(ctx context.Context, params *apigatewayv2.CreateStageInput, optFns ...func(*apigatewayv2.Options)) (*apigatewayv2.CreateStageOutput, error)
}

func (m *mockAPIGatewayClient) GetApis(ctx context.Context, params *apigatewayv2.GetApisInput, optFns ...func(*apigatewayv2.Options)) (*apigatewayv2.GetApisOutput, error) {
	if m.GetApisFunc != nil {
		return m.GetApisFunc(ctx, params, optFns...)
	}
	return &apigatewayv2.GetApisOutput{}, nil
}

func (m *mockAPIGatewayClient) CreateApi(ctx context.Context, params *apigatewayv2.CreateApiInput, optFns ...func(*apigatewayv2.Options)) (*apigatewayv2.CreateApiOutput, error) {
	if m.CreateApiFunc != nil {
		return m.CreateApiFunc(ctx, params, optFns...)
	}
	return &apigatewayv2.CreateApiOutput{}, nil
}

func (m *mockAPIGatewayClient) GetRoutes(ctx context.Context, params *apigatewayv2.GetRoutesInput, optFns ...func(*apigatewayv2.Options)) (*apigatewayv2.GetRoutesOutput, error) {
	if m.GetRoutesFunc != nil {
		return m.GetRoutesFunc(ctx, params, optFns...)
	}
	return &apigatewayv2.GetRoutesOutput{}, nil
}

func (m *mockAPIGatewayClient) CreateRoute(ctx context.Context, params *apigatewayv2.CreateRouteInput, optFns ...func(*apigatewayv2.Options)) (*apigatewayv2.CreateRouteOutput, error) {
	if m.CreateRouteFunc != nil {
		return m.CreateRouteFunc(ctx, params, optFns...)
	}
	return &apigatewayv2.CreateRouteOutput{}, nil
}

func (m *mockAPIGatewayClient) UpdateRoute(ctx context.Context, params *apigatewayv2.UpdateRouteInput, optFns ...func(*apigatewayv2.Options)) (*apigatewayv2.UpdateRouteOutput, error) {
	if m.UpdateRouteFunc != nil {
		return m.UpdateRouteFunc(ctx, params, optFns...)
	}
	return &apigatewayv2.UpdateRouteOutput{}, nil
}

func (m *mockAPIGatewayClient) CreateIntegration(ctx context.Context, params *apigatewayv2.CreateIntegrationInput, optFns ...func(*apigatewayv2.Options)) (*apigatewayv2.CreateIntegrationOutput, error) {
	if m.CreateIntegrationFunc != nil {
		return m.CreateIntegrationFunc(ctx, params, optFns...)
	}
	return &apigatewayv2.CreateIntegrationOutput{}, nil
}

func (m *mockAPIGatewayClient) UpdateIntegration(ctx context.Context, params *apigatewayv2.UpdateIntegrationInput, optFns ...func(*apigatewayv2.Options)) (*apigatewayv2.UpdateIntegrationOutput, error) {
	if m.UpdateIntegrationFunc != nil {
		return m.UpdateIntegrationFunc(ctx, params, optFns...)
	}
	return &apigatewayv2.UpdateIntegrationOutput{}, nil
}

func (m *mockAPIGatewayClient) GetStage(ctx context.Context, params *apigatewayv2.GetStageInput, optFns ...func(*apigatewayv2.Options)) (*apigatewayv2.GetStageOutput, error) {
	if m.GetStageFunc != nil {
		return m.GetStageFunc(ctx, params, optFns...)
	}
	return &apigatewayv2.GetStageOutput{}, nil
}

func (m *mockAPIGatewayClient) CreateStage(ctx context.Context, params *apigatewayv2.CreateStageInput, optFns ...func(*apigatewayv2.Options)) (*apigatewayv2.CreateStageOutput, error) {
	if m.CreateStageFunc != nil {
		return m.CreateStageFunc(ctx, params, optFns...)
	}
	return &apigatewayv2.CreateStageOutput{}, nil
}

// mockEventBridgeClient implements EventBridgeAPI for testing.
type mockEventBridgeClient struct {
	PutRuleFunc    func(ctx context.Context, params *eventbridge.PutRuleInput, optFns ...func(*eventbridge.Options)) (*eventbridge.PutRuleOutput, error)
	PutTargetsFunc func(ctx context.Context, params *eventbridge.PutTargetsInput, optFns ...func(*eventbridge.Options)) (*eventbridge.PutTargetsOutput, error)
}

func (m *mockEventBridgeClient) PutRule(ctx context.Context, params *eventbridge.PutRuleInput, optFns ...func(*eventbridge.Options)) (*eventbridge.PutRuleOutput, error) {
	if m.PutRuleFunc != nil {
		return m.PutRuleFunc(ctx, params, optFns...)
	}
	return &eventbridge.PutRuleOutput{}, nil
}

func (m *mockEventBridgeClient) PutTargets(ctx context.Context, params *eventbridge.PutTargetsInput, optFns ...func(*eventbridge.Options)) (*eventbridge.PutTargetsOutput, error) {
	if m.PutTargetsFunc != nil {
		return m.PutTargetsFunc(ctx, params, optFns...)
	}
	return &eventbridge.PutTargetsOutput{}, nil
}
