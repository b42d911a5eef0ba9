package aws

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/apigatewayv2"
	apitypes "github.com/aws/aws-sdk-go-v2/service/apigatewayv2/types"

	"github.com/yairfalse/fundeploy/providers"
	"github.com/yairfalse/fundeploy/types"
)

// HTTP API integrations time out between 50ms and 30s.
const (
	minIntegrationTimeout = 50
	maxIntegrationTimeout = 30000
)

// MakeGroup finds an HTTP API by name or creates it.
func (b *Backend) MakeGroup(ctx context.Context, in providers.GroupInput) (types.Handle, error) {
	var nextToken *string
	for {
		out, err := b.apigatewayClient.GetApis(ctx, &apigatewayv2.GetApisInput{NextToken: nextToken})
		if err != nil {
			return types.Handle{}, classify("apigateway.GetApis", err)
		}
		for _, api := range out.Items {
			if aws.ToString(api.Name) == in.Name {
				return groupHandle(in.Name, api.ApiId, api.ApiEndpoint), nil
			}
		}
		if out.NextToken == nil {
			break
		}
		nextToken = out.NextToken
	}

	created, err := b.apigatewayClient.CreateApi(ctx, &apigatewayv2.CreateApiInput{
		Name:         aws.String(in.Name),
		ProtocolType: apitypes.ProtocolTypeHttp,
		Description:  in.Description,
	})
	if err != nil {
		return types.Handle{}, classify("apigateway.CreateApi", err)
	}
	return groupHandle(in.Name, created.ApiId, created.ApiEndpoint), nil
}

func groupHandle(name string, id, endpoint *string) types.Handle {
	return types.Handle{
		Kind:       types.KindGroup,
		Name:       name,
		ID:         aws.ToString(id),
		Attributes: map[string]string{"endpoint": aws.ToString(endpoint)},
	}
}

// MakeApi points a route of the group's HTTP API at the function through a
// proxy integration that runs as the service role, then makes sure the stage exists.
func (b *Backend) MakeApi(ctx context.Context, group types.Handle, in providers.ApiInput) (types.Handle, error) {
	if group.ID == "" {
		return types.Handle{}, types.Permanentf("aws.MakeApi", "group %s was not realized", in.GroupName)
	}
	authType, err := authorization(in.Auth)
	if err != nil {
		return types.Handle{}, types.Permanent("apigateway.CreateRoute", err)
	}

	apiID := aws.String(group.ID)
	routeKey := strings.ToUpper(in.Method) + " " + in.RequestPath
	timeout := int32(min(max(in.ServiceTimeout, minIntegrationTimeout), maxIntegrationTimeout))

	route, err := b.findRoute(ctx, group.ID, routeKey)
	if err != nil {
		return types.Handle{}, err
	}

	var routeID, integrationID string
	if route != nil && strings.HasPrefix(aws.ToString(route.Target), "integrations/") {
		routeID = aws.ToString(route.RouteId)
		integrationID = strings.TrimPrefix(aws.ToString(route.Target), "integrations/")
		_, err := b.apigatewayClient.UpdateIntegration(ctx, &apigatewayv2.UpdateIntegrationInput{
			ApiId:           apiID,
			IntegrationId:   aws.String(integrationID),
			IntegrationUri:  aws.String(in.Function.ARN),
			CredentialsArn:  aws.String(in.RoleArn),
			TimeoutInMillis: aws.Int32(timeout),
			Description:     in.Description,
		})
		if err != nil {
			return types.Handle{}, classify("apigateway.UpdateIntegration", err)
		}
		_, err = b.apigatewayClient.UpdateRoute(ctx, &apigatewayv2.UpdateRouteInput{
			ApiId:             apiID,
			RouteId:           route.RouteId,
			AuthorizationType: authType,
		})
		if err != nil {
			return types.Handle{}, classify("apigateway.UpdateRoute", err)
		}
	} else {
		integration, err := b.apigatewayClient.CreateIntegration(ctx, &apigatewayv2.CreateIntegrationInput{
			ApiId:                apiID,
			IntegrationType:      apitypes.IntegrationTypeAwsProxy,
			IntegrationUri:       aws.String(in.Function.ARN),
			PayloadFormatVersion: aws.String("2.0"),
			CredentialsArn:       aws.String(in.RoleArn),
			TimeoutInMillis:      aws.Int32(timeout),
			Description:          in.Description,
		})
		if err != nil {
			return types.Handle{}, classify("apigateway.CreateIntegration", err)
		}
		integrationID = aws.ToString(integration.IntegrationId)

		if route != nil {
			routeID = aws.ToString(route.RouteId)
			_, err = b.apigatewayClient.UpdateRoute(ctx, &apigatewayv2.UpdateRouteInput{
				ApiId:             apiID,
				RouteId:           route.RouteId,
				Target:            aws.String("integrations/" + integrationID),
				AuthorizationType: authType,
			})
			if err != nil {
				return types.Handle{}, classify("apigateway.UpdateRoute", err)
			}
		} else {
			created, err := b.apigatewayClient.CreateRoute(ctx, &apigatewayv2.CreateRouteInput{
				ApiId:             apiID,
				RouteKey:          aws.String(routeKey),
				Target:            aws.String("integrations/" + integrationID),
				AuthorizationType: authType,
			})
			if err != nil {
				return types.Handle{}, classify("apigateway.CreateRoute", err)
			}
			routeID = aws.ToString(created.RouteId)
		}
	}

	if err := b.ensureStage(ctx, group.ID, in.StageName); err != nil {
		return types.Handle{}, err
	}

	return types.Handle{
		Kind: types.KindApi,
		Name: in.ApiName,
		ID:   routeID,
		Attributes: map[string]string{
			"integration": integrationID,
			"routeKey":    routeKey,
			"url":         group.Attr("endpoint") + "/" + in.StageName + in.RequestPath,
		},
	}, nil
}

func (b *Backend) findRoute(ctx context.Context, apiID, routeKey string) (*apitypes.Route, error) {
	var nextToken *string
	for {
		out, err := b.apigatewayClient.GetRoutes(ctx, &apigatewayv2.GetRoutesInput{
			ApiId:     aws.String(apiID),
			NextToken: nextToken,
		})
		if err != nil {
			return nil, classify("apigateway.GetRoutes", err)
		}
		for i := range out.Items {
			if aws.ToString(out.Items[i].RouteKey) == routeKey {
				return &out.Items[i], nil
			}
		}
		if out.NextToken == nil {
			return nil, nil
		}
		nextToken = out.NextToken
	}
}

func (b *Backend) ensureStage(ctx context.Context, apiID, stage string) error {
	_, err := b.apigatewayClient.GetStage(ctx, &apigatewayv2.GetStageInput{
		ApiId:     aws.String(apiID),
		StageName: aws.String(stage),
	})
	if err == nil {
		return nil
	}
	if !hasCode(err, "NotFoundException") {
		return classify("apigateway.GetStage", err)
	}
	_, err = b.apigatewayClient.CreateStage(ctx, &apigatewayv2.CreateStageInput{
		ApiId:      aws.String(apiID),
		StageName:  aws.String(stage),
		AutoDeploy: aws.Bool(true),
	})
	if err != nil && !hasCode(err, "ConflictException") {
		return classify("apigateway.CreateStage", err)
	}
	return nil
}

// authorization maps route auth onto HTTP API authorization types
func authorization(auth types.Auth) (apitypes.AuthorizationType, error) {
	if auth.Type == nil {
		return apitypes.AuthorizationTypeNone, nil
	}
	switch strings.ToUpper(*auth.Type) {
	case "", "ANONYMOUS":
		return apitypes.AuthorizationTypeNone, nil
	case "APP":
		return apitypes.AuthorizationTypeAwsIam, nil
	default:
		return "", fmt.Errorf("auth type %s is not supported on aws", *auth.Type)
	}
}
