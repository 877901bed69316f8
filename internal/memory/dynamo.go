package memory

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
)

const maxSeqConflicts = 8

// DynamoAPI is the subset of the DynamoDB client used by DynamoStore.
type DynamoAPI interface {
	CreateTable(ctx context.Context, in *dynamodb.CreateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// DynamoConfig selects the table and endpoint for DynamoStore.
type DynamoConfig struct {
	Table  string
	Region string
	// Endpoint points at DynamoDB Local; static dummy credentials are used with it.
	Endpoint string
}

// DynamoStore keeps turns in a table keyed by SessionID (hash) and Seq (range).
type DynamoStore struct {
	api   DynamoAPI
	table string
	now   func() time.Time
}

func NewDynamoStore(ctx context.Context, cfg DynamoConfig) (*DynamoStore, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.Endpoint != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider("dummy", "dummy", ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})

	s := NewDynamoStoreWithAPI(client, cfg.Table)
	if err := s.ensureTable(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func NewDynamoStoreWithAPI(api DynamoAPI, table string) *DynamoStore {
	if strings.TrimSpace(table) == "" {
		table = "ConversationTurns"
	}
	return &DynamoStore{
		api:   api,
		table: table,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

func (s *DynamoStore) ensureTable(ctx context.Context) error {
	_, err := s.api.CreateTable(ctx, &dynamodb.CreateTableInput{
		TableName: aws.String(s.table),
		AttributeDefinitions: []types.AttributeDefinition{
			{AttributeName: aws.String("SessionID"), AttributeType: types.ScalarAttributeTypeS},
			{AttributeName: aws.String("Seq"), AttributeType: types.ScalarAttributeTypeN},
		},
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String("SessionID"), KeyType: types.KeyTypeHash},
			{AttributeName: aws.String("Seq"), KeyType: types.KeyTypeRange},
		},
		BillingMode: types.BillingModePayPerRequest,
	})
	if err == nil {
		return nil
	}
	var inUse *types.ResourceInUseException
	if errors.As(err, &inUse) {
		return nil
	}
	return fmt.Errorf("create table %s: %w", s.table, err)
}

func (s *DynamoStore) Append(ctx context.Context, sessionID string, role Role, message string) (Turn, error) {
	id, err := normalizeSessionID(sessionID)
	if err != nil {
		return Turn{}, err
	}

	for attempt := 0; attempt < maxSeqConflicts; attempt++ {
		last, err := s.last(ctx, id)
		if err != nil {
			return Turn{}, err
		}
		turn := Turn{
			ID:        uuid.NewString(),
			SessionID: id,
			Seq:       last.Seq + 1,
			Role:      role,
			Message:   message,
			Timestamp: s.now(),
		}
		if turn.Timestamp.Before(last.Timestamp) {
			turn.Timestamp = last.Timestamp
		}

		_, err = s.api.PutItem(ctx, &dynamodb.PutItemInput{
			TableName:           aws.String(s.table),
			Item:                marshalTurn(turn),
			ConditionExpression: aws.String("attribute_not_exists(Seq)"),
		})
		if err == nil {
			return turn, nil
		}
		var conflict *types.ConditionalCheckFailedException
		if !errors.As(err, &conflict) {
			return Turn{}, fmt.Errorf("put turn: %w", err)
		}
	}
	return Turn{}, fmt.Errorf("put turn: sequence contention on session %s", id)
}

func (s *DynamoStore) last(ctx context.Context, id string) (Turn, error) {
	out, err := s.api.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.table),
		KeyConditionExpression: aws.String("SessionID = :sid"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":sid": &types.AttributeValueMemberS{Value: id},
		},
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(1),
		ConsistentRead:   aws.Bool(true),
	})
	if err != nil {
		return Turn{}, fmt.Errorf("query last turn: %w", err)
	}
	if len(out.Items) == 0 {
		return Turn{}, nil
	}
	return unmarshalTurn(out.Items[0])
}

func (s *DynamoStore) Load(ctx context.Context, sessionID string) ([]Turn, error) {
	id, err := normalizeSessionID(sessionID)
	if err != nil {
		return nil, err
	}

	turns := make([]Turn, 0, 16)
	var startKey map[string]types.AttributeValue
	for {
		out, err := s.api.Query(ctx, &dynamodb.QueryInput{
			TableName:              aws.String(s.table),
			KeyConditionExpression: aws.String("SessionID = :sid"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":sid": &types.AttributeValueMemberS{Value: id},
			},
			ScanIndexForward:  aws.Bool(true),
			ConsistentRead:    aws.Bool(true),
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return nil, fmt.Errorf("query turns: %w", err)
		}
		for _, item := range out.Items {
			t, err := unmarshalTurn(item)
			if err != nil {
				return nil, err
			}
			turns = append(turns, t)
		}
		if len(out.LastEvaluatedKey) == 0 {
			return turns, nil
		}
		startKey = out.LastEvaluatedKey
	}
}

func (s *DynamoStore) Close() error { return nil }

func marshalTurn(t Turn) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"SessionID": &types.AttributeValueMemberS{Value: t.SessionID},
		"Seq":       &types.AttributeValueMemberN{Value: strconv.FormatInt(t.Seq, 10)},
		"ID":        &types.AttributeValueMemberS{Value: t.ID},
		"Role":      &types.AttributeValueMemberS{Value: string(t.Role)},
		"Message":   &types.AttributeValueMemberS{Value: t.Message},
		"Timestamp": &types.AttributeValueMemberS{Value: t.Timestamp.Format(time.RFC3339Nano)},
	}
}

func unmarshalTurn(item map[string]types.AttributeValue) (Turn, error) {
	var t Turn
	t.SessionID = stringAttr(item, "SessionID")
	t.ID = stringAttr(item, "ID")
	t.Role = Role(stringAttr(item, "Role"))
	t.Message = stringAttr(item, "Message")

	if n, ok := item["Seq"].(*types.AttributeValueMemberN); ok {
		seq, err := strconv.ParseInt(n.Value, 10, 64)
		if err != nil {
			return Turn{}, fmt.Errorf("decode seq %q: %w", n.Value, err)
		}
		t.Seq = seq
	}
	if ts := stringAttr(item, "Timestamp"); ts != "" {
		parsed, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return Turn{}, fmt.Errorf("decode timestamp %q: %w", ts, err)
		}
		t.Timestamp = parsed.UTC()
	}
	return t, nil
}

func stringAttr(item map[string]types.AttributeValue, key string) string {
	if v, ok := item[key].(*types.AttributeValueMemberS); ok {
		return v.Value
	}
	return ""
}
