package aws

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/yairfalse/fundeploy/providers"
	"github.com/yairfalse/fundeploy/types"
)

var attributeTypes = map[string]ddbtypes.ScalarAttributeType{
	"STRING":  ddbtypes.ScalarAttributeTypeS,
	"INTEGER": ddbtypes.ScalarAttributeTypeN,
	"BINARY":  ddbtypes.ScalarAttributeTypeB,
}

// TableName is the DynamoDB name of a template table
func TableName(instance, table string) string {
	return instance + "." + table
}

// MakeOtsTable creates a DynamoDB table with streams enabled. The first
// primary key column becomes the partition key, the second the sort key.
func (b *Backend) MakeOtsTable(ctx context.Context, in providers.TableInput) (types.Handle, error) {
	if len(in.PrimaryKeys) == 0 || len(in.PrimaryKeys) > 2 {
		return types.Handle{}, types.Permanentf("dynamodb.CreateTable",
			"table %s needs one or two primary key columns, got %d", in.TableName, len(in.PrimaryKeys))
	}
	name := TableName(in.InstanceName, in.TableName)

	got, err := b.dynamodbClient.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(name)})
	if err == nil {
		return tableHandle(in, got.Table), nil
	}
	if !hasCode(err, "ResourceNotFoundException") {
		return types.Handle{}, classify("dynamodb.DescribeTable", err)
	}

	var attrs []ddbtypes.AttributeDefinition
	var schema []ddbtypes.KeySchemaElement
	for i, pk := range in.PrimaryKeys {
		attrType, ok := attributeTypes[pk.Type]
		if !ok {
			return types.Handle{}, types.Permanentf("dynamodb.CreateTable", "column %s has unsupported type %s", pk.Name, pk.Type)
		}
		keyType := ddbtypes.KeyTypeHash
		if i == 1 {
			keyType = ddbtypes.KeyTypeRange
		}
		attrs = append(attrs, ddbtypes.AttributeDefinition{AttributeName: aws.String(pk.Name), AttributeType: attrType})
		schema = append(schema, ddbtypes.KeySchemaElement{AttributeName: aws.String(pk.Name), KeyType: keyType})
	}

	created, err := b.dynamodbClient.CreateTable(ctx, &dynamodb.CreateTableInput{
		TableName:            aws.String(name),
		AttributeDefinitions: attrs,
		KeySchema:            schema,
		BillingMode:          ddbtypes.BillingModePayPerRequest,
		StreamSpecification: &ddbtypes.StreamSpecification{
			StreamEnabled:  aws.Bool(true),
			StreamViewType: ddbtypes.StreamViewTypeNewAndOldImages,
		},
		Tags: []ddbtypes.Tag{{Key: aws.String("fundeploy:instance"), Value: aws.String(in.InstanceName)}},
	})
	if hasCode(err, "ResourceInUseException") {
		got, err := b.dynamodbClient.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(name)})
		if err != nil {
			return types.Handle{}, classify("dynamodb.DescribeTable", err)
		}
		return tableHandle(in, got.Table), nil
	}
	if err != nil {
		return types.Handle{}, classify("dynamodb.CreateTable", err)
	}
	return tableHandle(in, created.TableDescription), nil
}

func tableHandle(in providers.TableInput, desc *ddbtypes.TableDescription) types.Handle {
	h := types.Handle{
		Kind:       types.KindTable,
		Name:       in.TableName,
		Attributes: map[string]string{"instance": in.InstanceName},
	}
	if desc != nil {
		h.ID = aws.ToString(desc.TableId)
		h.ARN = aws.ToString(desc.TableArn)
		if stream := aws.ToString(desc.LatestStreamArn); stream != "" {
			h.Attributes["stream"] = stream
		}
	}
	return h
}
