package aws

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	iamtypes "github.com/aws/aws-sdk-go-v2/service/iam/types"

	"github.com/yairfalse/fundeploy/providers"
	"github.com/yairfalse/fundeploy/types"
)

// Both Lambda and API Gateway assume the service role.
const trustPolicy = `{"Version":"2012-10-17","Statement":[{"Effect":"Allow","Principal":{"Service":["lambda.amazonaws.com","apigateway.amazonaws.com"]},"Action":"sts:AssumeRole"}]}`

const policyVersion = "2012-10-17"

// MakeRole creates the role if missing and attaches every policy.
// Attaching an already attached policy is a no-op in IAM.
func (b *Backend) MakeRole(ctx context.Context, in providers.RoleInput) (types.Handle, error) {
	role, err := b.ensureRole(ctx, in)
	if err != nil {
		return types.Handle{}, err
	}

	for i, ref := range in.Policies {
		if ref.Document == nil {
			_, err := b.iamClient.AttachRolePolicy(ctx, &iam.AttachRolePolicyInput{
				RoleName:  aws.String(in.RoleName),
				PolicyArn: aws.String(managedPolicyARN(ref.Name)),
			})
			if err != nil {
				return types.Handle{}, classify("iam.AttachRolePolicy", err)
			}
			continue
		}

		doc, err := policyJSON(ref.Document)
		if err != nil {
			return types.Handle{}, types.Permanent("iam.PutRolePolicy", err)
		}
		_, err = b.iamClient.PutRolePolicy(ctx, &iam.PutRolePolicyInput{
			RoleName:       aws.String(in.RoleName),
			PolicyName:     aws.String(fmt.Sprintf("%s-inline-%d", in.RoleName, i)),
			PolicyDocument: aws.String(doc),
		})
		if err != nil {
			return types.Handle{}, classify("iam.PutRolePolicy", err)
		}
	}

	return role, nil
}

func (b *Backend) ensureRole(ctx context.Context, in providers.RoleInput) (types.Handle, error) {
	got, err := b.iamClient.GetRole(ctx, &iam.GetRoleInput{RoleName: aws.String(in.RoleName)})
	if err == nil {
		return roleHandle(got.Role, in.RoleName), nil
	}
	if !hasCode(err, "NoSuchEntity") {
		return types.Handle{}, classify("iam.GetRole", err)
	}

	created, err := b.iamClient.CreateRole(ctx, &iam.CreateRoleInput{
		RoleName:                 aws.String(in.RoleName),
		AssumeRolePolicyDocument: aws.String(trustPolicy),
		Description:              aws.String("fundeploy role for service " + in.ServiceName),
	})
	if hasCode(err, "EntityAlreadyExists") {
		// Lost a race with another deployer; read what it created.
		got, err := b.iamClient.GetRole(ctx, &iam.GetRoleInput{RoleName: aws.String(in.RoleName)})
		if err != nil {
			return types.Handle{}, classify("iam.GetRole", err)
		}
		return roleHandle(got.Role, in.RoleName), nil
	}
	if err != nil {
		return types.Handle{}, classify("iam.CreateRole", err)
	}
	return roleHandle(created.Role, in.RoleName), nil
}

func roleHandle(role *iamtypes.Role, name string) types.Handle {
	h := types.Handle{Kind: types.KindRole, Name: name}
	if role != nil {
		h.ID = aws.ToString(role.RoleId)
		h.ARN = aws.ToString(role.Arn)
	}
	return h
}

// managedPolicyARN turns a bare policy name into an AWS managed policy ARN
func managedPolicyARN(name string) string {
	if types.IsARN(name) {
		return name
	}
	return "arn:aws:iam::aws:policy/" + name
}

// policyJSON renders an inline document, pinning the IAM policy language version
func policyJSON(doc *types.PolicyDocument) (string, error) {
	pinned := *doc
	if pinned.Version != policyVersion && pinned.Version != "2008-10-17" {
		pinned.Version = policyVersion
	}
	data, err := json.Marshal(pinned)
	if err != nil {
		return "", fmt.Errorf("failed to encode policy document: %w", err)
	}
	return string(data), nil
}
