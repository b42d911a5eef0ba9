package aws

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	lambdatypes "github.com/aws/aws-sdk-go-v2/service/lambda/types"
	"github.com/cenkalti/backoff/v5"

	"github.com/yairfalse/fundeploy/providers"
	"github.com/yairfalse/fundeploy/types"
)

// Template runtimes mapped to the closest supported Lambda runtime.
var lambdaRuntimes = map[string]lambdatypes.Runtime{
	"nodejs6":       "nodejs20.x",
	"nodejs8":       "nodejs20.x",
	"nodejs10":      "nodejs20.x",
	"nodejs12":      "nodejs20.x",
	"python2.7":     "python3.12",
	"python3":       "python3.12",
	"java8":         "java8.al2",
	"dotnetcore2.1": "dotnet8",
	"custom":        "provided.al2023",
}

var errNotSettled = errors.New("function update still in progress")

// FunctionName is the Lambda name of a template function
func FunctionName(service, function string) string {
	return service + "-" + function
}

// MakeFunction creates or updates a Lambda function and waits for it to settle.
func (b *Backend) MakeFunction(ctx context.Context, in providers.FunctionInput) (types.Handle, error) {
	runtime, ok := lambdaRuntimes[in.Runtime]
	if !ok {
		return types.Handle{}, types.Permanentf("lambda.CreateFunction", "runtime %s has no lambda equivalent", in.Runtime)
	}
	code, err := functionCode(in.CodeURI)
	if err != nil {
		return types.Handle{}, types.Permanent("lambda.CreateFunction", err)
	}

	name := FunctionName(in.Service.Name, in.FunctionName)
	role := in.Service.Attr(attrRole)
	if role == "" {
		role = in.Service.ARN
	}
	var env *lambdatypes.Environment
	if len(in.EnvironmentVariables) > 0 {
		env = &lambdatypes.Environment{Variables: in.EnvironmentVariables}
	}
	var vpc *lambdatypes.VpcConfig
	if subnets := in.Service.Attr(attrSubnets); subnets != "" {
		vpc = &lambdatypes.VpcConfig{
			SubnetIds:        strings.Split(subnets, ","),
			SecurityGroupIds: []string{in.Service.Attr(attrSecurityGroup)},
		}
	}
	var logging *lambdatypes.LoggingConfig
	if group := in.Service.Attr(attrLogGroup); group != "" {
		logging = &lambdatypes.LoggingConfig{LogGroup: aws.String(group)}
	}

	_, err = b.lambdaClient.GetFunction(ctx, &lambda.GetFunctionInput{FunctionName: aws.String(name)})
	switch {
	case hasCode(err, "ResourceNotFoundException"):
		out, err := b.lambdaClient.CreateFunction(ctx, &lambda.CreateFunctionInput{
			FunctionName:  aws.String(name),
			Role:          aws.String(role),
			Runtime:       runtime,
			Handler:       aws.String(in.Handler),
			Code:          code,
			Description:   in.Description,
			MemorySize:    in.MemorySize,
			Timeout:       in.Timeout,
			Environment:   env,
			VpcConfig:     vpc,
			LoggingConfig: logging,
			Tags:          map[string]string{"fundeploy:service": in.ServiceName},
		})
		if err != nil {
			return types.Handle{}, classify("lambda.CreateFunction", err)
		}
		if err := b.waitSettled(ctx, name); err != nil {
			return types.Handle{}, err
		}
		return functionHandle(name, out.FunctionArn), nil
	case err != nil:
		return types.Handle{}, classify("lambda.GetFunction", err)
	}

	_, err = b.lambdaClient.UpdateFunctionCode(ctx, &lambda.UpdateFunctionCodeInput{
		FunctionName: aws.String(name),
		ZipFile:      code.ZipFile,
		S3Bucket:     code.S3Bucket,
		S3Key:        code.S3Key,
	})
	if err != nil {
		return types.Handle{}, classify("lambda.UpdateFunctionCode", err)
	}
	if err := b.waitSettled(ctx, name); err != nil {
		return types.Handle{}, err
	}

	out, err := b.lambdaClient.UpdateFunctionConfiguration(ctx, &lambda.UpdateFunctionConfigurationInput{
		FunctionName:  aws.String(name),
		Role:          aws.String(role),
		Runtime:       runtime,
		Handler:       aws.String(in.Handler),
		Description:   in.Description,
		MemorySize:    in.MemorySize,
		Timeout:       in.Timeout,
		Environment:   env,
		VpcConfig:     vpc,
		LoggingConfig: logging,
	})
	if err != nil {
		return types.Handle{}, classify("lambda.UpdateFunctionConfiguration", err)
	}
	if err := b.waitSettled(ctx, name); err != nil {
		return types.Handle{}, err
	}
	return functionHandle(name, out.FunctionArn), nil
}

// waitSettled polls until the function is neither pending nor mid-update
func (b *Backend) waitSettled(ctx context.Context, name string) error {
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		out, err := b.lambdaClient.GetFunction(ctx, &lambda.GetFunctionInput{FunctionName: aws.String(name)})
		if err != nil {
			return struct{}{}, backoff.Permanent(classify("lambda.GetFunction", err))
		}
		cfg := out.Configuration
		if cfg == nil {
			return struct{}{}, nil
		}
		if cfg.State == lambdatypes.StateFailed || cfg.LastUpdateStatus == lambdatypes.LastUpdateStatusFailed {
			return struct{}{}, backoff.Permanent(types.Permanentf("lambda.GetFunction",
				"function %s failed: %s", name, aws.ToString(cfg.StateReason)))
		}
		if cfg.State == lambdatypes.StatePending || cfg.LastUpdateStatus == lambdatypes.LastUpdateStatusInProgress {
			return struct{}{}, errNotSettled
		}
		return struct{}{}, nil
	}, backoff.WithBackOff(backoff.NewConstantBackOff(b.pollInterval)), backoff.WithMaxElapsedTime(b.updateTimeout))

	if errors.Is(err, errNotSettled) {
		return types.Transient("lambda.GetFunction", fmt.Errorf("function %s: %w", name, err))
	}
	return err
}

func functionHandle(name string, arn *string) types.Handle {
	return types.Handle{Kind: types.KindFunction, Name: name, ID: name, ARN: aws.ToString(arn)}
}

// functionCode reads a zip archive or points at an S3 object. Directories
// must be packaged before deploying.
func functionCode(uri string) (*lambdatypes.FunctionCode, error) {
	if rest, ok := strings.CutPrefix(uri, "s3://"); ok {
		bucket, key, _ := strings.Cut(rest, "/")
		if bucket == "" || key == "" {
			return nil, fmt.Errorf("code uri %s must be s3://bucket/key", uri)
		}
		return &lambdatypes.FunctionCode{S3Bucket: aws.String(bucket), S3Key: aws.String(key)}, nil
	}
	if !strings.HasSuffix(strings.ToLower(uri), ".zip") {
		return nil, fmt.Errorf("code uri %s must be a .zip archive or an s3:// object", uri)
	}
	data, err := os.ReadFile(uri) // #nosec G304 -- path comes from the template
	if err != nil {
		return nil, fmt.Errorf("failed to read code archive: %w", err)
	}
	return &lambdatypes.FunctionCode{ZipFile: data}, nil
}
