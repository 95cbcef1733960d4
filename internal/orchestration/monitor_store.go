package orchestration

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/solacehealth/therapy-ai-platform/pkg/logging"
)

const monitorTTL = 30 * 24 * time.Hour

// ErrMonitorNotFound indicates no crisis-monitoring state exists for the session.
var ErrMonitorNotFound = errors.New("orchestration: crisis monitor record not found")

type dynamoAPI interface {
	PutItem(context.Context, *dynamodb.PutItemInput, ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(context.Context, *dynamodb.GetItemInput, ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
}

// CrisisMonitorRecord is the persisted crisis-monitoring state for a session.
// Rows are only ever inserted or escalated, never deleted; the TTL attribute
// lets the table age them out.
type CrisisMonitorRecord struct {
	SessionID          string          `dynamodbav:"sessionId" json:"sessionId"`
	UserID             string          `dynamodbav:"userId" json:"userId"`
	CrisisLevel        CrisisLevel     `dynamodbav:"crisisLevel" json:"crisisLevel"`
	RiskScore          float64         `dynamodbav:"riskScore" json:"riskScore"`
	Indicators         []string        `dynamodbav:"indicators,omitempty" json:"indicators,omitempty"`
	Checks             map[string]bool `dynamodbav:"checks,omitempty" json:"checks,omitempty"`
	RecommendedActions []string        `dynamodbav:"recommendedActions,omitempty" json:"recommendedActions,omitempty"`
	UpdatedAt          string          `dynamodbav:"updatedAt" json:"updatedAt"`
	ExpiresAt          int64           `dynamodbav:"expiresAt,omitempty" json:"-"`
}

// MonitorStore persists crisis-monitoring rows to DynamoDB. One row per
// session; writes are last-writer-wins, which is safe at the low per-session
// write concurrency this pipeline sees.
type MonitorStore struct {
	client    dynamoAPI
	tableName string
	logger    *logging.Logger
}

// NewMonitorStore builds a store backed by the provided DynamoDB client.
func NewMonitorStore(client dynamoAPI, tableName string, logger *logging.Logger) *MonitorStore {
	if client == nil {
		panic("orchestration: dynamodb client cannot be nil")
	}
	if tableName == "" {
		panic("orchestration: table name cannot be empty")
	}
	if logger == nil {
		logger = logging.Default()
	}

	return &MonitorStore{
		client:    client,
		tableName: tableName,
		logger:    logger,
	}
}

// Upsert writes the monitoring row for the session.
func (s *MonitorStore) Upsert(ctx context.Context, rec *CrisisMonitorRecord) error {
	if rec == nil {
		return errors.New("orchestration: monitor record cannot be nil")
	}
	if rec.SessionID == "" {
		return errors.New("orchestration: monitor record requires a session id")
	}

	now := time.Now().UTC()
	rec.UpdatedAt = now.Format(time.RFC3339Nano)
	if rec.ExpiresAt == 0 {
		rec.ExpiresAt = now.Add(monitorTTL).Unix()
	}

	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return fmt.Errorf("orchestration: failed to marshal monitor record: %w", err)
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("orchestration: failed to persist monitor record: %w", err)
	}
	return nil
}

// Get returns the monitoring row for a session, or ErrMonitorNotFound.
func (s *MonitorStore) Get(ctx context.Context, sessionID string) (*CrisisMonitorRecord, error) {
	if sessionID == "" {
		return nil, errors.New("orchestration: session id cannot be empty")
	}

	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]ddbtypes.AttributeValue{
			"sessionId": &ddbtypes.AttributeValueMemberS{Value: sessionID},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("orchestration: failed to fetch monitor record: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, ErrMonitorNotFound
	}

	var rec CrisisMonitorRecord
	if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
		return nil, fmt.Errorf("orchestration: failed to decode monitor record: %w", err)
	}
	return &rec, nil
}
