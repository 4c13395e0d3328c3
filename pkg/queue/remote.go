package queue

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/credentials/ec2rolecreds"
	"github.com/aws/aws-sdk-go/aws/ec2metadata"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/sqs"
	"github.com/aws/aws-sdk-go/service/sqs/sqsiface"
	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/pkg/errors"
	"github.com/trussle/redrive/pkg/models"
)

// RemoteConfig creates a configuration to create a RemoteQueue.
type RemoteConfig struct {
	EC2Role           bool
	ID, Secret, Token string
	Region, Endpoint  string
}

type remoteQueue struct {
	client sqsiface.SQSAPI
	mutex  sync.Mutex
	urls   map[string]string
	logger log.Logger
}

// NewRemoteQueue creates a new remote peer that abstracts over SQS.
func NewRemoteQueue(config *RemoteConfig, logger log.Logger) (Queue, error) {
	return newRemoteQueue(config, logger)
}

func newRemoteQueue(config *RemoteConfig, logger log.Logger) (*remoteQueue, error) {
	if config.Region == "" {
		return nil, errors.New("missing region")
	}

	// If in EC2Role, attempt to get things from env or ec2role, else use the
	// environment falling back to static credentials.
	var creds *credentials.Credentials
	if config.EC2Role {
		creds = credentials.NewChainCredentials([]credentials.Provider{
			&credentials.EnvProvider{},
			&ec2rolecreds.EC2RoleProvider{
				Client: ec2metadata.New(session.Must(session.NewSession())),
			},
		})
	} else {
		creds = credentials.NewChainCredentials([]credentials.Provider{
			&credentials.EnvProvider{},
			&credentials.StaticProvider{
				Value: credentials.Value{
					AccessKeyID:     config.ID,
					SecretAccessKey: config.Secret,
					SessionToken:    config.Token,
				},
			},
		})
	}
	if _, err := creds.Get(); err != nil {
		return nil, errors.Wrap(err, "invalid credentials")
	}

	cfg := aws.NewConfig().
		WithRegion(config.Region).
		WithCredentials(creds).
		WithCredentialsChainVerboseErrors(true)
	if config.Endpoint != "" {
		cfg = cfg.WithEndpoint(config.Endpoint)
	}

	sess, err := session.NewSession(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "session")
	}

	return newRemoteQueueWithClient(sqs.New(sess), logger), nil
}

func newRemoteQueueWithClient(client sqsiface.SQSAPI, logger log.Logger) *remoteQueue {
	return &remoteQueue{
		client: client,
		urls:   make(map[string]string),
		logger: logger,
	}
}

func (q *remoteQueue) Receive(ctx context.Context, queue string, max int, visibilityTimeout, waitTime time.Duration) ([]models.Message, error) {
	if err := checkBatchSize(max); err != nil {
		return nil, err
	}

	queueURL, err := q.resolve(ctx, queue)
	if err != nil {
		return nil, err
	}

	input := &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(queueURL),
		MaxNumberOfMessages: aws.Int64(int64(max)),
		VisibilityTimeout:   aws.Int64(seconds(visibilityTimeout)),
		WaitTimeSeconds:     aws.Int64(seconds(waitTime)),
	}

	resp, err := q.client.ReceiveMessageWithContext(ctx, input)
	if err != nil {
		return nil, errors.Wrapf(err, "receiving from %s", queue)
	}

	messages := make([]models.Message, len(resp.Messages))
	for k, v := range resp.Messages {
		messages[k] = models.Message{
			ID:      aws.StringValue(v.MessageId),
			Body:    []byte(aws.StringValue(v.Body)),
			Receipt: models.Receipt(aws.StringValue(v.ReceiptHandle)),
		}
	}
	return messages, nil
}

func (q *remoteQueue) SendBatch(ctx context.Context, queue string, entries []SendEntry) (Result, error) {
	// fast exit
	if len(entries) == 0 {
		return Result{}, nil
	}
	if err := checkBatchSize(len(entries)); err != nil {
		return Result{}, err
	}

	queueURL, err := q.resolve(ctx, queue)
	if err != nil {
		return Result{}, err
	}

	requests := make([]*sqs.SendMessageBatchRequestEntry, len(entries))
	for k, v := range entries {
		requests[k] = &sqs.SendMessageBatchRequestEntry{
			Id:          aws.String(v.ID),
			MessageBody: aws.String(string(v.Body)),
		}
	}

	output, err := q.client.SendMessageBatchWithContext(ctx, &sqs.SendMessageBatchInput{
		Entries:  requests,
		QueueUrl: aws.String(queueURL),
	})
	if err != nil {
		return Result{}, errors.Wrapf(err, "sending to %s", queue)
	}

	res := Result{
		Succeeded: make([]string, len(output.Successful)),
		Failed:    failedEntries(output.Failed),
	}
	for k, v := range output.Successful {
		res.Succeeded[k] = aws.StringValue(v.Id)
	}

	if num := len(res.Failed); num > 0 {
		level.Debug(q.logger).Log("state", "send batch", "queue", queue, "failed", num)
	}
	return res, nil
}

func (q *remoteQueue) DeleteBatch(ctx context.Context, queue string, entries []DeleteEntry) (Result, error) {
	// fast exit
	if len(entries) == 0 {
		return Result{}, nil
	}
	if err := checkBatchSize(len(entries)); err != nil {
		return Result{}, err
	}

	queueURL, err := q.resolve(ctx, queue)
	if err != nil {
		return Result{}, err
	}

	requests := make([]*sqs.DeleteMessageBatchRequestEntry, len(entries))
	for k, v := range entries {
		requests[k] = &sqs.DeleteMessageBatchRequestEntry{
			Id:            aws.String(v.ID),
			ReceiptHandle: aws.String(v.Receipt.String()),
		}
	}

	output, err := q.client.DeleteMessageBatchWithContext(ctx, &sqs.DeleteMessageBatchInput{
		Entries:  requests,
		QueueUrl: aws.String(queueURL),
	})
	if err != nil {
		return Result{}, errors.Wrapf(err, "deleting from %s", queue)
	}

	res := Result{
		Succeeded: make([]string, len(output.Successful)),
		Failed:    failedEntries(output.Failed),
	}
	for k, v := range output.Successful {
		res.Succeeded[k] = aws.StringValue(v.Id)
	}

	if num := len(res.Failed); num > 0 {
		level.Debug(q.logger).Log("state", "delete batch", "queue", queue, "failed", num)
	}
	return res, nil
}

// resolve turns a queue reference into a queue URL. URLs are used as is, where
// as names are looked up once and then cached.
func (q *remoteQueue) resolve(ctx context.Context, queue string) (string, error) {
	if strings.HasPrefix(queue, "https://") || strings.HasPrefix(queue, "http://") {
		return queue, nil
	}

	q.mutex.Lock()
	defer q.mutex.Unlock()

	if url, ok := q.urls[queue]; ok {
		return url, nil
	}

	output, err := q.client.GetQueueUrlWithContext(ctx, &sqs.GetQueueUrlInput{
		QueueName: aws.String(queue),
	})
	if err != nil {
		return "", errors.Wrapf(err, "resolving queue %s", queue)
	}

	url := aws.StringValue(output.QueueUrl)
	q.urls[queue] = url
	return url, nil
}

func failedEntries(entries []*sqs.BatchResultErrorEntry) []FailedEntry {
	res := make([]FailedEntry, len(entries))
	for k, v := range entries {
		res[k] = FailedEntry{
			ID:          aws.StringValue(v.Id),
			Code:        aws.StringValue(v.Code),
			Message:     aws.StringValue(v.Message),
			SenderFault: aws.BoolValue(v.SenderFault),
		}
	}
	return res
}

func seconds(d time.Duration) int64 {
	return int64(d / time.Second)
}

// ConfigOption defines a option for generating a RemoteConfig
type ConfigOption func(*RemoteConfig) error

// BuildConfig ingests configuration options to then yield a
// RemoteConfig, and return an error if it fails during configuring.
func BuildConfig(opts ...ConfigOption) (*RemoteConfig, error) {
	var config RemoteConfig
	for _, opt := range opts {
		err := opt(&config)
		if err != nil {
			return nil, err
		}
	}
	return &config, nil
}

// WithEC2Role adds an EC2Role option to the configuration
func WithEC2Role(ec2Role bool) ConfigOption {
	return func(config *RemoteConfig) error {
		config.EC2Role = ec2Role
		return nil
	}
}

// WithID adds an ID option to the configuration
func WithID(id string) ConfigOption {
	return func(config *RemoteConfig) error {
		config.ID = id
		return nil
	}
}

// WithSecret adds an Secret option to the configuration
func WithSecret(secret string) ConfigOption {
	return func(config *RemoteConfig) error {
		config.Secret = secret
		return nil
	}
}

// WithToken adds an Token option to the configuration
func WithToken(token string) ConfigOption {
	return func(config *RemoteConfig) error {
		config.Token = token
		return nil
	}
}

// WithRegion adds an Region option to the configuration
func WithRegion(region string) ConfigOption {
	return func(config *RemoteConfig) error {
		config.Region = region
		return nil
	}
}

// WithEndpoint adds an Endpoint option to the configuration, useful when
// talking to a local SQS compatible service.
func WithEndpoint(endpoint string) ConfigOption {
	return func(config *RemoteConfig) error {
		config.Endpoint = endpoint
		return nil
	}
}
