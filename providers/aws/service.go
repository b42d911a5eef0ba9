package aws

import (
	"context"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	"github.com/aws/aws-sdk-go-v2/service/ec2"

	"github.com/yairfalse/fundeploy/providers"
	"github.com/yairfalse/fundeploy/types"
)

// Handle attributes a service passes down to its functions.
const (
	attrRole          = "role"
	attrLogGroup      = "logGroup"
	attrSubnets       = "subnets"
	attrSecurityGroup = "securityGroup"
	attrInternet      = "internetAccess"
)

// MakeService has no single AWS counterpart. It checks the VPC, creates the
// log group, and returns a handle carrying the settings functions inherit.
func (b *Backend) MakeService(ctx context.Context, in providers.ServiceInput) (types.Handle, error) {
	if in.Role == "" {
		return types.Handle{}, types.Permanentf("aws.MakeService", "service %s has no role", in.ServiceName)
	}
	attrs := map[string]string{attrRole: in.Role}

	if in.VpcConfig != nil {
		if err := b.checkVpc(ctx, in.VpcConfig); err != nil {
			return types.Handle{}, err
		}
		attrs[attrSubnets] = strings.Join(in.VpcConfig.VSwitchIDs, ",")
		attrs[attrSecurityGroup] = in.VpcConfig.SecurityGroupID
	}
	if in.InternetAccess != nil {
		attrs[attrInternet] = strconv.FormatBool(*in.InternetAccess)
	}

	if in.LogConfig.Enabled() {
		group := logGroupName(in.LogConfig)
		_, err := b.logsClient.CreateLogGroup(ctx, &cloudwatchlogs.CreateLogGroupInput{
			LogGroupName: aws.String(group),
		})
		if err != nil && !hasCode(err, "ResourceAlreadyExistsException") {
			return types.Handle{}, classify("logs.CreateLogGroup", err)
		}
		attrs[attrLogGroup] = group
	}

	return types.Handle{
		Kind:       types.KindService,
		Name:       in.ServiceName,
		ID:         in.ServiceName,
		ARN:        in.Role,
		Attributes: attrs,
	}, nil
}

func (b *Backend) checkVpc(ctx context.Context, vpc *types.VpcConfig) error {
	vpcs, err := b.ec2Client.DescribeVpcs(ctx, &ec2.DescribeVpcsInput{VpcIds: []string{vpc.VpcID}})
	if err != nil {
		return classify("ec2.DescribeVpcs", err)
	}
	if len(vpcs.Vpcs) == 0 {
		return types.Permanentf("ec2.DescribeVpcs", "vpc %s not found", vpc.VpcID)
	}

	subnets, err := b.ec2Client.DescribeSubnets(ctx, &ec2.DescribeSubnetsInput{SubnetIds: vpc.VSwitchIDs})
	if err != nil {
		return classify("ec2.DescribeSubnets", err)
	}
	found := make(map[string]bool, len(subnets.Subnets))
	for _, s := range subnets.Subnets {
		if aws.ToString(s.VpcId) == vpc.VpcID {
			found[aws.ToString(s.SubnetId)] = true
		}
	}
	for _, id := range vpc.VSwitchIDs {
		if !found[id] {
			return types.Permanentf("ec2.DescribeSubnets", "subnet %s not found in vpc %s", id, vpc.VpcID)
		}
	}
	return nil
}

func logGroupName(cfg types.LogConfig) string {
	return "/fundeploy/" + cfg.Project + "/" + cfg.Logstore
}
