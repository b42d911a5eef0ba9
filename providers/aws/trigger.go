package aws

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	ebtypes "github.com/aws/aws-sdk-go-v2/service/eventbridge/types"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	lambdatypes "github.com/aws/aws-sdk-go-v2/service/lambda/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/yairfalse/fundeploy/providers"
	"github.com/yairfalse/fundeploy/types"
)

// MakeTrigger binds an event source to a function. Each trigger type maps
// onto the closest AWS event source.
func (b *Backend) MakeTrigger(ctx context.Context, in providers.TriggerInput) (types.Handle, error) {
	if in.Function.ARN == "" {
		return types.Handle{}, types.Permanentf("aws.MakeTrigger", "function %s/%s has no ARN", in.ServiceName, in.FunctionName)
	}

	switch in.TriggerType {
	case types.TriggerTimer:
		return b.timerTrigger(ctx, in)
	case types.TriggerHTTP:
		return b.httpTrigger(ctx, in)
	case types.TriggerTableStore:
		return b.tableTrigger(ctx, in)
	case types.TriggerMNSTopic:
		return b.topicTrigger(ctx, in)
	case types.TriggerOSS:
		return b.bucketTrigger(ctx, in)
	default:
		return types.Handle{}, types.Permanentf("aws.MakeTrigger", "trigger type %s is not supported on aws", in.TriggerType)
	}
}

func (b *Backend) timerTrigger(ctx context.Context, in providers.TriggerInput) (types.Handle, error) {
	schedule, err := scheduleExpression(propString(in.TriggerProperties, "CronExpression"))
	if err != nil {
		return types.Handle{}, types.Permanent("eventbridge.PutRule", err)
	}
	state := ebtypes.RuleStateEnabled
	if !propBool(in.TriggerProperties, "Enable", true) {
		state = ebtypes.RuleStateDisabled
	}

	rule := in.Function.Name + "-" + in.TriggerName
	out, err := b.eventbridgeClient.PutRule(ctx, &eventbridge.PutRuleInput{
		Name:               aws.String(rule),
		ScheduleExpression: aws.String(schedule),
		State:              state,
		Description:        aws.String("fundeploy timer trigger " + in.TriggerName),
	})
	if err != nil {
		return types.Handle{}, classify("eventbridge.PutRule", err)
	}

	target := ebtypes.Target{Id: aws.String("fundeploy"), Arn: aws.String(in.Function.ARN)}
	if payload := propString(in.TriggerProperties, "Payload"); payload != "" {
		target.Input = aws.String(jsonPayload(payload))
	}
	targets, err := b.eventbridgeClient.PutTargets(ctx, &eventbridge.PutTargetsInput{
		Rule:    aws.String(rule),
		Targets: []ebtypes.Target{target},
	})
	if err != nil {
		return types.Handle{}, classify("eventbridge.PutTargets", err)
	}
	if targets.FailedEntryCount > 0 {
		msg := "unknown"
		if len(targets.FailedEntries) > 0 {
			msg = aws.ToString(targets.FailedEntries[0].ErrorMessage)
		}
		return types.Handle{}, types.Permanentf("eventbridge.PutTargets", "rule %s: %s", rule, msg)
	}

	if err := b.allowInvoke(ctx, in, "events.amazonaws.com", aws.ToString(out.RuleArn)); err != nil {
		return types.Handle{}, err
	}
	return triggerHandle(in, rule, aws.ToString(out.RuleArn), nil), nil
}

func (b *Backend) httpTrigger(ctx context.Context, in providers.TriggerInput) (types.Handle, error) {
	auth := lambdatypes.FunctionUrlAuthTypeNone
	if !strings.EqualFold(propString(in.TriggerProperties, "AuthType"), "anonymous") {
		auth = lambdatypes.FunctionUrlAuthTypeAwsIam
	}

	var url string
	got, err := b.lambdaClient.GetFunctionUrlConfig(ctx, &lambda.GetFunctionUrlConfigInput{
		FunctionName: aws.String(in.Function.Name),
	})
	switch {
	case err == nil:
		url = aws.ToString(got.FunctionUrl)
	case hasCode(err, "ResourceNotFoundException"):
		created, err := b.lambdaClient.CreateFunctionUrlConfig(ctx, &lambda.CreateFunctionUrlConfigInput{
			FunctionName: aws.String(in.Function.Name),
			AuthType:     auth,
			Cors:         &lambdatypes.Cors{AllowMethods: propStrings(in.TriggerProperties, "Methods")},
		})
		if err != nil {
			return types.Handle{}, classify("lambda.CreateFunctionUrlConfig", err)
		}
		url = aws.ToString(created.FunctionUrl)
	default:
		return types.Handle{}, classify("lambda.GetFunctionUrlConfig", err)
	}

	if auth == lambdatypes.FunctionUrlAuthTypeNone {
		_, err := b.lambdaClient.AddPermission(ctx, &lambda.AddPermissionInput{
			FunctionName:        aws.String(in.Function.Name),
			StatementId:         aws.String("fundeploy-" + in.TriggerName),
			Action:              aws.String("lambda:InvokeFunctionUrl"),
			Principal:           aws.String("*"),
			FunctionUrlAuthType: lambdatypes.FunctionUrlAuthTypeNone,
		})
		if err != nil && !hasCode(err, "ResourceConflictException") {
			return types.Handle{}, classify("lambda.AddPermission", err)
		}
	}
	return triggerHandle(in, url, "", map[string]string{"url": url}), nil
}

func (b *Backend) tableTrigger(ctx context.Context, in providers.TriggerInput) (types.Handle, error) {
	table := TableName(propString(in.TriggerProperties, "InstanceName"), propString(in.TriggerProperties, "TableName"))
	out, err := b.dynamodbClient.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(table)})
	if err != nil {
		return types.Handle{}, classify("dynamodb.DescribeTable", err)
	}
	var stream string
	if out.Table != nil {
		stream = aws.ToString(out.Table.LatestStreamArn)
	}
	if stream == "" {
		return types.Handle{}, types.Permanentf("dynamodb.DescribeTable", "table %s has no stream", table)
	}
	return b.eventSourceMapping(ctx, in, stream, lambdatypes.EventSourcePositionLatest)
}

func (b *Backend) topicTrigger(ctx context.Context, in providers.TriggerInput) (types.Handle, error) {
	queue, err := b.sqsClient.CreateQueue(ctx, &sqs.CreateQueueInput{
		QueueName: aws.String(propString(in.TriggerProperties, "TopicName")),
	})
	if err != nil {
		return types.Handle{}, classify("sqs.CreateQueue", err)
	}
	attrs, err := b.sqsClient.GetQueueAttributes(ctx, &sqs.GetQueueAttributesInput{
		QueueUrl:       queue.QueueUrl,
		AttributeNames: []sqstypes.QueueAttributeName{sqstypes.QueueAttributeNameQueueArn},
	})
	if err != nil {
		return types.Handle{}, classify("sqs.GetQueueAttributes", err)
	}
	arn := attrs.Attributes[string(sqstypes.QueueAttributeNameQueueArn)]
	if arn == "" {
		return types.Handle{}, types.Permanentf("sqs.GetQueueAttributes", "queue %s has no ARN", aws.ToString(queue.QueueUrl))
	}
	return b.eventSourceMapping(ctx, in, arn, "")
}

// eventSourceMapping reuses an existing mapping between source and function
func (b *Backend) eventSourceMapping(ctx context.Context, in providers.TriggerInput, source string, position lambdatypes.EventSourcePosition) (types.Handle, error) {
	existing, err := b.lambdaClient.ListEventSourceMappings(ctx, &lambda.ListEventSourceMappingsInput{
		FunctionName:   aws.String(in.Function.Name),
		EventSourceArn: aws.String(source),
	})
	if err != nil {
		return types.Handle{}, classify("lambda.ListEventSourceMappings", err)
	}
	if len(existing.EventSourceMappings) > 0 {
		return triggerHandle(in, aws.ToString(existing.EventSourceMappings[0].UUID), source, nil), nil
	}

	created, err := b.lambdaClient.CreateEventSourceMapping(ctx, &lambda.CreateEventSourceMappingInput{
		FunctionName:     aws.String(in.Function.Name),
		EventSourceArn:   aws.String(source),
		StartingPosition: position,
		Enabled:          aws.Bool(propBool(in.TriggerProperties, "Enable", true)),
	})
	if err != nil {
		return types.Handle{}, classify("lambda.CreateEventSourceMapping", err)
	}
	return triggerHandle(in, aws.ToString(created.UUID), source, nil), nil
}

func (b *Backend) bucketTrigger(ctx context.Context, in providers.TriggerInput) (types.Handle, error) {
	bucket := propString(in.TriggerProperties, "BucketName")
	bucketARN := "arn:aws:s3:::" + bucket

	// S3 validates the invoke permission when the notification is saved.
	if err := b.allowInvoke(ctx, in, "s3.amazonaws.com", bucketARN); err != nil {
		return types.Handle{}, err
	}

	current, err := b.s3Client.GetBucketNotificationConfiguration(ctx, &s3.GetBucketNotificationConfigurationInput{
		Bucket: aws.String(bucket),
	})
	if err != nil {
		return types.Handle{}, classify("s3.GetBucketNotificationConfiguration", err)
	}

	id := in.Function.Name + "-" + in.TriggerName
	var events []s3types.Event
	for _, e := range propStrings(in.TriggerProperties, "Events") {
		events = append(events, s3types.Event("s3:"+strings.TrimPrefix(e, "oss:")))
	}
	notification := s3types.LambdaFunctionConfiguration{
		Id:                aws.String(id),
		LambdaFunctionArn: aws.String(in.Function.ARN),
		Events:            events,
		Filter:            keyFilter(in.TriggerProperties),
	}

	lambdas := []s3types.LambdaFunctionConfiguration{notification}
	for _, c := range current.LambdaFunctionConfigurations {
		if aws.ToString(c.Id) != id {
			lambdas = append(lambdas, c)
		}
	}
	_, err = b.s3Client.PutBucketNotificationConfiguration(ctx, &s3.PutBucketNotificationConfigurationInput{
		Bucket: aws.String(bucket),
		NotificationConfiguration: &s3types.NotificationConfiguration{
			LambdaFunctionConfigurations: lambdas,
			QueueConfigurations:          current.QueueConfigurations,
			TopicConfigurations:          current.TopicConfigurations,
			EventBridgeConfiguration:     current.EventBridgeConfiguration,
		},
	})
	if err != nil {
		return types.Handle{}, classify("s3.PutBucketNotificationConfiguration", err)
	}
	return triggerHandle(in, id, bucketARN, nil), nil
}

// allowInvoke grants a service principal permission to invoke the function.
// An existing statement with the same ID counts as success.
func (b *Backend) allowInvoke(ctx context.Context, in providers.TriggerInput, principal, source string) error {
	_, err := b.lambdaClient.AddPermission(ctx, &lambda.AddPermissionInput{
		FunctionName: aws.String(in.Function.Name),
		StatementId:  aws.String("fundeploy-" + in.TriggerName),
		Action:       aws.String("lambda:InvokeFunction"),
		Principal:    aws.String(principal),
		SourceArn:    aws.String(source),
	})
	if err != nil && !hasCode(err, "ResourceConflictException") {
		return classify("lambda.AddPermission", err)
	}
	return nil
}

func triggerHandle(in providers.TriggerInput, id, arn string, attrs map[string]string) types.Handle {
	if attrs == nil {
		attrs = make(map[string]string)
	}
	attrs["type"] = in.TriggerType
	return types.Handle{Kind: types.KindTrigger, Name: in.TriggerName, ID: id, ARN: arn, Attributes: attrs}
}

func keyFilter(props map[string]any) *s3types.NotificationConfigurationFilter {
	filter, _ := props["Filter"].(map[string]any)
	key, _ := filter["Key"].(map[string]any)
	var rules []s3types.FilterRule
	for _, name := range []string{"Prefix", "Suffix"} {
		if v := propString(key, name); v != "" {
			rules = append(rules, s3types.FilterRule{
				Name:  s3types.FilterRuleName(strings.ToLower(name)),
				Value: aws.String(v),
			})
		}
	}
	if len(rules) == 0 {
		return nil
	}
	return &s3types.NotificationConfigurationFilter{Key: &s3types.S3KeyFilter{FilterRules: rules}}
}

// jsonPayload passes JSON payloads through and quotes anything else
func jsonPayload(payload string) string {
	if json.Valid([]byte(payload)) {
		return payload
	}
	data, _ := json.Marshal(payload)
	return string(data)
}

func propString(props map[string]any, key string) string {
	switch v := props[key].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

func propBool(props map[string]any, key string, def bool) bool {
	switch v := props[key].(type) {
	case bool:
		return v
	case string:
		return !strings.EqualFold(v, "false")
	default:
		return def
	}
}

func propStrings(props map[string]any, key string) []string {
	switch v := props[key].(type) {
	case string:
		return []string{v}
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			out = append(out, fmt.Sprint(item))
		}
		return out
	case []string:
		return v
	default:
		return nil
	}
}
